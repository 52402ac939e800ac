package game

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Repository persists players, games and their move logs. GetGame returns
// nil, nil for unknown ids.
type Repository interface {
	EnsurePlayer(ctx context.Context, name string) (Player, error)
	CreateGame(ctx context.Context, g *Game) error
	GetGame(ctx context.Context, id string) (*Game, error)
	// ListGames returns the newest games first, without their move logs.
	ListGames(ctx context.Context, limit int) ([]*Game, error)
	AppendMove(ctx context.Context, gameID string, ply int, move string) error
	MarkRelaxed(ctx context.Context, gameID string) error
	// SetResult records the terminal result once. Later calls return
	// ErrResultAlreadySet and change nothing.
	SetResult(ctx context.Context, gameID, result, termination string, at time.Time) error
	Close() error
}

const defaultListLimit = 50

type dialect struct {
	driver   string
	numbered bool
	schema   []string
}

var postgresDialect = dialect{
	driver:   "postgres",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS players (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			white_id BIGINT NOT NULL REFERENCES players(id),
			black_id BIGINT NOT NULL REFERENCES players(id),
			created_at TIMESTAMPTZ NOT NULL,
			mode TEXT NOT NULL,
			rules_relaxed BOOLEAN NOT NULL DEFAULT FALSE,
			result TEXT,
			termination TEXT,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS moves (
			id BIGSERIAL PRIMARY KEY,
			game_id TEXT NOT NULL REFERENCES games(id),
			ply INTEGER NOT NULL,
			move TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (game_id, ply)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_games_created_at ON games(created_at DESC)`,
	},
}

var sqliteDialect = dialect{
	driver: "sqlite3",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS players (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			white_id INTEGER NOT NULL REFERENCES players(id),
			black_id INTEGER NOT NULL REFERENCES players(id),
			created_at TIMESTAMP NOT NULL,
			mode TEXT NOT NULL,
			rules_relaxed BOOLEAN NOT NULL DEFAULT 0,
			result TEXT,
			termination TEXT,
			finished_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS moves (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			game_id TEXT NOT NULL REFERENCES games(id),
			ply INTEGER NOT NULL,
			move TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (game_id, ply)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_games_created_at ON games(created_at DESC)`,
	},
}

// sqlRepository serves both PostgreSQL and SQLite; queries are written with
// "?" placeholders and rebound per dialect.
type sqlRepository struct {
	db *sql.DB
	d  dialect
}

// OpenRepository picks a backend from a URL: empty for memory, "sqlite:<path>"
// for SQLite, anything else is handed to the PostgreSQL driver.
func OpenRepository(databaseURL string) (Repository, error) {
	url := strings.TrimSpace(databaseURL)
	switch {
	case url == "":
		return NewMemoryRepository(), nil
	case strings.HasPrefix(url, "sqlite:"):
		return NewSQLiteRepository(strings.TrimPrefix(url, "sqlite:"))
	default:
		return NewPostgresRepository(url)
	}
}

func NewPostgresRepository(databaseURL string) (Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	return newSQLRepository(db, postgresDialect)
}

// NewSQLiteRepository opens a file database, or a private in-memory one for
// ":memory:".
func NewSQLiteRepository(path string) (Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = ":memory:"
	}
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	return newSQLRepository(db, sqliteDialect)
}

func newSQLRepository(db *sql.DB, d dialect) (Repository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.driver, err)
	}
	r := &sqlRepository{db: db, d: d}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *sqlRepository) migrate(ctx context.Context) error {
	for _, stmt := range r.d.schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", r.d.driver, err)
		}
	}
	return nil
}

func (r *sqlRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// q rewrites "?" placeholders to "$n" for PostgreSQL.
func (r *sqlRepository) q(query string) string {
	if !r.d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (r *sqlRepository) EnsurePlayer(ctx context.Context, name string) (Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Player{}, fmt.Errorf("player name is required")
	}
	if _, err := r.db.ExecContext(ctx, r.q(`INSERT INTO players (name) VALUES (?) ON CONFLICT (name) DO NOTHING`), name); err != nil {
		return Player{}, fmt.Errorf("insert player: %w", err)
	}
	p := Player{Name: name}
	if err := r.db.QueryRowContext(ctx, r.q(`SELECT id FROM players WHERE name = ?`), name).Scan(&p.ID); err != nil {
		return Player{}, fmt.Errorf("select player: %w", err)
	}
	return p, nil
}

func (r *sqlRepository) CreateGame(ctx context.Context, g *Game) error {
	if g == nil {
		return fmt.Errorf("nil game payload")
	}
	const query = `
		INSERT INTO games (id, white_id, black_id, created_at, mode, rules_relaxed)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, r.q(query),
		g.ID, g.WhiteID, g.BlackID, g.CreatedAt.UTC(), string(g.Mode), g.RulesRelaxed,
	); err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

const gameColumns = `
	g.id, g.white_id, g.black_id, w.name, b.name, g.created_at, g.mode,
	g.rules_relaxed, g.result, g.termination, g.finished_at`

const gameFrom = `
	FROM games g
	JOIN players w ON w.id = g.white_id
	JOIN players b ON b.id = g.black_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*Game, error) {
	var (
		g           Game
		mode        string
		result      sql.NullString
		termination sql.NullString
		finishedAt  sql.NullTime
	)
	if err := row.Scan(
		&g.ID, &g.WhiteID, &g.BlackID, &g.WhiteName, &g.BlackName, &g.CreatedAt, &mode,
		&g.RulesRelaxed, &result, &termination, &finishedAt,
	); err != nil {
		return nil, err
	}
	g.Mode = Mode(mode)
	g.Result = result.String
	g.Termination = termination.String
	if finishedAt.Valid {
		t := finishedAt.Time
		g.FinishedAt = &t
	}
	return &g, nil
}

func (r *sqlRepository) GetGame(ctx context.Context, id string) (*Game, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+gameColumns+gameFrom+` WHERE g.id = ?`), id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, r.q(`SELECT move FROM moves WHERE game_id = ? ORDER BY ply ASC`), id)
	if err != nil {
		return nil, fmt.Errorf("select moves: %w", err)
	}
	defer rows.Close()
	g.Moves = []string{}
	for rows.Next() {
		var mv string
		if err := rows.Scan(&mv); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		g.Moves = append(g.Moves, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moves: %w", err)
	}
	return g, nil
}

func (r *sqlRepository) ListGames(ctx context.Context, limit int) ([]*Game, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, r.q(`SELECT `+gameColumns+gameFrom+` ORDER BY g.created_at DESC, g.id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()
	games := make([]*Game, 0, limit)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate games: %w", err)
	}
	return games, nil
}

func (r *sqlRepository) AppendMove(ctx context.Context, gameID string, ply int, move string) error {
	const query = `INSERT INTO moves (game_id, ply, move, created_at) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, r.q(query), gameID, ply, move, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert move: %w", err)
	}
	return nil
}

func (r *sqlRepository) MarkRelaxed(ctx context.Context, gameID string) error {
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE games SET rules_relaxed = ? WHERE id = ?`), true, gameID)
	if err != nil {
		return fmt.Errorf("mark relaxed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrGameNotFound
	}
	return nil
}

func (r *sqlRepository) SetResult(ctx context.Context, gameID, result, termination string, at time.Time) error {
	const query = `
		UPDATE games SET result = ?, termination = ?, finished_at = ?
		WHERE id = ? AND result IS NULL`
	res, err := r.db.ExecContext(ctx, r.q(query), result, termination, at.UTC(), gameID)
	if err != nil {
		return fmt.Errorf("set result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set result rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx, r.q(`SELECT 1 FROM games WHERE id = ?`), gameID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrGameNotFound
	}
	if err != nil {
		return fmt.Errorf("check game: %w", err)
	}
	return ErrResultAlreadySet
}
