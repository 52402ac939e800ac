// Package game owns the authoritative game record. Every call rebuilds the
// board by replaying the stored move log, applies at most one move, and
// records the terminal result exactly once.
package game

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Larswa/chess-combat/internal/mediator"
	"github.com/Larswa/chess-combat/internal/msgcat"
	"github.com/Larswa/chess-combat/internal/obslog"
	"github.com/Larswa/chess-combat/internal/oracle"
	"github.com/Larswa/chess-combat/internal/rules"
	"github.com/Larswa/chess-combat/internal/session"
)

const (
	defaultAutoPlies = 2
	maxAutoPlies     = 400
)

// Status strings returned alongside every outcome.
const StatusInProgress = "in_progress"

// Service coordinates the repository, the mediator and the oracles.
type Service struct {
	repo     Repository
	med      *mediator.Mediator
	oracles  *oracle.Registry
	catalog  *msgcat.Catalog
	sessions session.Store
	pub      Publisher
	now      func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	locksMu sync.Mutex
	locks   map[string]*gameLock
}

// Option customizes a Service.
type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.pub = p
		}
	}
}

func WithSessions(st session.Store) Option { return func(s *Service) { s.sessions = st } }

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRand seeds the random engine.
func WithRand(r *rand.Rand) Option {
	return func(s *Service) {
		if r != nil {
			s.rng = r
		}
	}
}

func NewService(repo Repository, med *mediator.Mediator, oracles *oracle.Registry, cat *msgcat.Catalog, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("game repository is required")
	}
	if med == nil {
		return nil, errors.New("move mediator is required")
	}
	if oracles == nil {
		oracles = oracle.NewRegistry()
	}
	if cat == nil {
		cat = msgcat.MustDefault()
	}
	s := &Service{
		repo:    repo,
		med:     med,
		oracles: oracles,
		catalog: cat,
		pub:     nopPublisher{},
		now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		locks:   make(map[string]*gameLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewGameParams describes a game to create. Empty names get defaults.
type NewGameParams struct {
	White       string
	Black       string
	Mode        Mode
	HumanWhite  bool
	EngineWhite string
	EngineBlack string
}

// Outcome is the result of one game operation.
type Outcome struct {
	Game        *Game              `json:"game"`
	Position    rules.Position     `json:"-"`
	FEN         string             `json:"fen"`
	Status      string             `json:"status"`
	Move        string             `json:"move,omitempty"`
	Attempts    []mediator.Attempt `json:"attempts,omitempty"`
	Fallback    bool               `json:"fallback,omitempty"`
	Unvalidated bool               `json:"unvalidated,omitempty"`
	Opening     string             `json:"opening,omitempty"`
	// Invalid is set when the move was rejected and nothing was stored.
	Invalid bool `json:"invalid,omitempty"`
}

func (s *Service) NewGame(ctx context.Context, p NewGameParams) (*Game, rules.Position, error) {
	mode := p.Mode
	if mode == "" {
		mode = ModeHumanVsAI
	}
	white, black := DefaultNames(mode, p.White, p.Black, p.EngineWhite, p.EngineBlack, p.HumanWhite)
	wp, err := s.repo.EnsurePlayer(ctx, white)
	if err != nil {
		return nil, rules.Position{}, errors.Wrap(err, "ensure white player")
	}
	bp, err := s.repo.EnsurePlayer(ctx, black)
	if err != nil {
		return nil, rules.Position{}, errors.Wrap(err, "ensure black player")
	}
	g := &Game{
		ID:        uuid.NewString(),
		WhiteID:   wp.ID,
		BlackID:   bp.ID,
		WhiteName: wp.Name,
		BlackName: bp.Name,
		Mode:      mode,
		CreatedAt: s.now().UTC(),
		Moves:     []string{},
	}
	if err := s.repo.CreateGame(ctx, g); err != nil {
		return nil, rules.Position{}, errors.Wrap(err, "create game")
	}
	pos := rules.StartPosition()
	obslog.L().Info("game_created",
		zap.String("game_id", g.ID),
		zap.String("white", g.WhiteName),
		zap.String("black", g.BlackName),
		zap.String("mode", string(mode)),
	)
	s.publish(Event{Type: EventCreated, GameID: g.ID, FEN: pos.FEN(), Status: StatusInProgress})
	return g, pos, nil
}

// GetGame returns the stored game and the position its log replays to.
func (s *Service) GetGame(ctx context.Context, id string) (Outcome, error) {
	g, line, err := s.load(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	out := s.outcome(g, line.Position)
	if op, ok := line.Opening(); ok {
		out.Opening = op.String()
	}
	return out, nil
}

func (s *Service) ListGames(ctx context.Context, limit int) ([]*Game, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	games, err := s.repo.ListGames(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list games")
	}
	return games, nil
}

func (s *Service) MovePairs(ctx context.Context, id string) ([]MovePair, error) {
	g, err := s.repo.GetGame(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get game")
	}
	if g == nil {
		return nil, errors.WithStack(ErrGameNotFound)
	}
	return Pairs(g.Moves), nil
}

// SubmitMove applies a human move. Illegal or malformed text yields an
// Outcome with an "invalid: ..." status and leaves the game untouched.
func (s *Service) SubmitMove(ctx context.Context, id, text string, rulesEnforced bool) (Outcome, error) {
	unlock := s.lock(id)
	defer unlock()

	g, line, err := s.loadActive(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	pos := line.Position
	text = rules.AutoPromote(pos, strings.ToLower(strings.TrimSpace(text)))
	mv, err := rules.ParseCoordinateMove(text)
	if err != nil {
		return s.invalid(g, pos, text, "malformed move "+quote(text)), nil
	}
	legal := pos.IsLegal(mv)
	if rulesEnforced && !legal {
		return s.invalid(g, pos, text, "illegal move "+text), nil
	}
	next, err := s.commit(ctx, g, pos, mv.String(), legal, false)
	if err != nil {
		return Outcome{}, err
	}
	out := s.outcome(g, next)
	out.Move = mv.String()
	return out, nil
}

// RequestAIMove lets engine pick and play the side to move.
func (s *Service) RequestAIMove(ctx context.Context, id, engine string, rulesEnforced bool) (Outcome, error) {
	unlock := s.lock(id)
	defer unlock()

	g, line, err := s.loadActive(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	pos := line.Position
	engine = strings.ToLower(strings.TrimSpace(engine))

	var res mediator.Result
	if engine == EngineRandom {
		mv, ok := s.randomMove(pos)
		if !ok {
			return Outcome{}, errors.WithStack(mediator.ErrNoLegalMoves)
		}
		res = mediator.Result{Move: mv.String()}
	} else {
		o, ok := s.oracles.Get(engine)
		if !ok {
			return Outcome{}, errors.Wrapf(ErrUnknownEngine, "%q", engine)
		}
		key := session.Key{GameID: g.ID, Side: strings.ToLower(pos.SideName()), Engine: engine}
		res, err = s.med.Mediate(ctx, mediator.Request{
			Position:      pos,
			History:       line.Plies,
			SessionKey:    &key,
			RulesEnforced: rulesEnforced,
			Oracle:        o,
		})
		if err != nil {
			return Outcome{}, errors.WithMessagef(err, "ai move for game %s", g.ID)
		}
	}

	text := rules.AutoPromote(pos, res.Move)
	mv, perr := rules.ParseCoordinateMove(text)
	if perr != nil {
		// Only reachable with rules off, when the oracle never produced squares.
		out := s.invalid(g, pos, text, "ai produced no usable move")
		out.Attempts, out.Fallback, out.Unvalidated = res.Attempts, res.Fallback, true
		return out, nil
	}
	legal := pos.IsLegal(mv)
	next, err := s.commit(ctx, g, pos, mv.String(), legal, res.Fallback)
	if err != nil {
		return Outcome{}, err
	}
	out := s.outcome(g, next)
	out.Move = mv.String()
	out.Attempts = res.Attempts
	out.Fallback = res.Fallback
	out.Unvalidated = res.Unvalidated || !legal
	return out, nil
}

// PlayTurn submits a human move and, when the game pits a human against an
// engine, lets the engine answer. reply is nil when no answer was played.
func (s *Service) PlayTurn(ctx context.Context, id, text, engine string, rulesEnforced bool) (human Outcome, reply *Outcome, err error) {
	human, err = s.SubmitMove(ctx, id, text, rulesEnforced)
	if err != nil || human.Invalid || human.Game.Finished() {
		return human, nil, err
	}
	if human.Game.Mode != ModeHumanVsAI || strings.TrimSpace(engine) == "" {
		return human, nil, nil
	}
	ai, err := s.RequestAIMove(ctx, id, engine, rulesEnforced)
	if err != nil {
		return human, nil, err
	}
	return human, &ai, nil
}

// InvalidMove is one rejected oracle answer seen during autoplay.
type InvalidMove struct {
	Ply    int    `json:"ply"`
	Side   string `json:"side"`
	Move   string `json:"move"`
	FEN    string `json:"fen"`
	Reason string `json:"reason"`
}

// AutoPlayReport summarizes an engine-vs-engine run.
type AutoPlayReport struct {
	Game      *Game         `json:"game"`
	FEN       string        `json:"fen"`
	Status    string        `json:"status"`
	AIMoves   []string      `json:"ai_moves"`
	Invalid   []InvalidMove `json:"invalid_moves"`
	Fallbacks int           `json:"fallbacks"`
	GameOver  bool          `json:"game_over"`
	Result    string        `json:"result,omitempty"`
}

// AutoPlay alternates engines until the game ends or maxPlies moves were
// played. maxPlies <= 0 plays one move per side.
func (s *Service) AutoPlay(ctx context.Context, id, engineWhite, engineBlack string, rulesEnforced bool, maxPlies int) (AutoPlayReport, error) {
	if maxPlies <= 0 {
		maxPlies = defaultAutoPlies
	}
	if maxPlies > maxAutoPlies {
		maxPlies = maxAutoPlies
	}
	cur, err := s.GetGame(ctx, id)
	if err != nil {
		return AutoPlayReport{}, err
	}
	rep := AutoPlayReport{AIMoves: []string{}, Invalid: []InvalidMove{}}
	for i := 0; i < maxPlies; i++ {
		if cur.Game.Finished() || cur.Position.IsTerminal() {
			break
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		side := strings.ToLower(cur.Position.SideName())
		engine := engineWhite
		if side == "black" {
			engine = engineBlack
		}
		ply := len(cur.Game.Moves) + 1
		out, err := s.RequestAIMove(ctx, id, engine, rulesEnforced)
		if err != nil {
			if errors.Is(err, mediator.ErrNoLegalMoves) {
				break
			}
			return rep, err
		}
		for _, a := range out.Attempts {
			if a.Outcome == mediator.OutcomeAccepted {
				continue
			}
			rep.Invalid = append(rep.Invalid, InvalidMove{Ply: ply, Side: side, Move: a.Text, FEN: a.FEN, Reason: string(a.Outcome) + ": " + a.Reason})
		}
		if out.Fallback {
			rep.Fallbacks++
		}
		if out.Invalid {
			cur = out
			break
		}
		rep.AIMoves = append(rep.AIMoves, out.Move)
		cur = out
	}
	rep.Game = cur.Game
	rep.FEN = cur.FEN
	rep.Status = cur.Status
	rep.GameOver = cur.Game.Finished() || cur.Position.IsTerminal()
	rep.Result = cur.Game.Result
	return rep, nil
}

// SessionStats reports on the session store, if one is attached.
func (s *Service) SessionStats(ctx context.Context) (session.Stats, error) {
	if s.sessions == nil {
		return session.Stats{ByEngine: map[string]int{}}, nil
	}
	return s.sessions.Stats(ctx)
}

// SweepSessions evicts sessions idle for longer than ttl.
func (s *Service) SweepSessions(ctx context.Context, ttl time.Duration) (int, error) {
	if s.sessions == nil {
		return 0, nil
	}
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}
	n, err := s.sessions.EvictExpired(ctx, s.now(), ttl)
	if err != nil {
		return 0, errors.Wrap(err, "sweep sessions")
	}
	obslog.L().Info("session_sweep", zap.Int("evicted", n), zap.Duration("ttl", ttl))
	return n, nil
}

// Status renders the status line for pos.
func (s *Service) Status(pos rules.Position) string {
	if !pos.IsTerminal() {
		return s.render("status.in_progress", nil, StatusInProgress)
	}
	switch pos.TerminalReason() {
	case rules.TerminationCheckmate:
		winner := "White"
		if pos.Result() == "0-1" {
			winner = "Black"
		}
		return s.render("status.checkmate", map[string]string{"Winner": winner}, "checkmate - "+winner+" wins!")
	case rules.TerminationStalemate:
		return s.render("status.stalemate", nil, "stalemate - Draw!")
	default:
		return s.render("status.draw", nil, "draw")
	}
}

func (s *Service) render(key string, data map[string]string, fallback string) string {
	if data == nil {
		data = map[string]string{}
	}
	out, err := s.catalog.Render(key, data)
	if err != nil {
		obslog.L().Warn("status_render_failed", zap.String("key", key), zap.Error(err))
		return fallback
	}
	return out
}

func (s *Service) invalid(g *Game, pos rules.Position, text, reason string) Outcome {
	status := s.render("status.invalid", map[string]string{"Reason": reason}, "invalid: "+reason)
	obslog.L().Info("game_move_rejected",
		zap.String("game_id", g.ID),
		zap.String("move", text),
		zap.String("reason", reason),
	)
	s.publish(Event{Type: EventInvalid, GameID: g.ID, Ply: len(g.Moves) + 1, Side: strings.ToLower(pos.SideName()), Move: text, FEN: pos.FEN(), Status: status})
	return Outcome{Game: g, Position: pos, FEN: pos.FEN(), Status: status, Invalid: true}
}

func (s *Service) outcome(g *Game, pos rules.Position) Outcome {
	return Outcome{Game: g, Position: pos, FEN: pos.FEN(), Status: s.Status(pos)}
}

// load fetches the game and replays its log. Games that ever took an
// unchecked move replay tolerantly.
func (s *Service) load(ctx context.Context, id string) (*Game, rules.Line, error) {
	g, err := s.repo.GetGame(ctx, id)
	if err != nil {
		return nil, rules.Line{}, errors.Wrap(err, "get game")
	}
	if g == nil {
		return nil, rules.Line{}, errors.Wrapf(ErrGameNotFound, "%s", id)
	}
	line, err := rules.Replay(g.Moves, !g.RulesRelaxed)
	if err != nil {
		return nil, rules.Line{}, errors.Wrapf(err, "replay game %s", id)
	}
	return g, line, nil
}

func (s *Service) loadActive(ctx context.Context, id string) (*Game, rules.Line, error) {
	g, line, err := s.load(ctx, id)
	if err != nil {
		return nil, rules.Line{}, err
	}
	if g.Finished() {
		return nil, rules.Line{}, errors.Wrapf(ErrGameFinished, "%s (%s)", id, g.Result)
	}
	if line.Position.IsTerminal() {
		// A crash between the last move and its result write leaves this state.
		s.finish(ctx, g, line.Position)
		return nil, rules.Line{}, errors.Wrapf(ErrGameFinished, "%s (%s)", id, g.Result)
	}
	return g, line, nil
}

// commit appends text to the log and applies it to pos when legal. Moves that
// are not legal are stored literally and flag the game as relaxed.
func (s *Service) commit(ctx context.Context, g *Game, pos rules.Position, text string, legal, fallback bool) (rules.Position, error) {
	ply := len(g.Moves) + 1
	side := strings.ToLower(pos.SideName())
	next := pos
	if legal {
		var err error
		next, _, err = pos.ApplyText(text)
		if err != nil {
			return pos, errors.Wrap(err, "apply move")
		}
	}
	// The flag goes first: a relaxed game with a legal log still replays,
	// a strict game holding an illegal move does not.
	if !legal && !g.RulesRelaxed {
		if err := s.repo.MarkRelaxed(ctx, g.ID); err != nil {
			return pos, errors.Wrap(err, "mark relaxed")
		}
		g.RulesRelaxed = true
	}
	if err := s.repo.AppendMove(ctx, g.ID, ply, text); err != nil {
		return pos, errors.Wrap(err, "append move")
	}
	g.Moves = append(g.Moves, text)
	status := s.Status(next)
	obslog.L().Info("game_move_applied",
		zap.String("game_id", g.ID),
		zap.Int("ply", ply),
		zap.String("side", side),
		zap.String("move", text),
		zap.Bool("legal", legal),
		zap.Bool("fallback", fallback),
	)
	s.publish(Event{Type: EventMove, GameID: g.ID, Ply: ply, Side: side, Move: text, FEN: next.FEN(), Status: status, Fallback: fallback})
	if legal && next.IsTerminal() {
		s.finish(ctx, g, next)
	}
	return next, nil
}

// finish writes the terminal result. A result that is already stored wins.
func (s *Service) finish(ctx context.Context, g *Game, pos rules.Position) {
	result, termination := pos.Result(), string(pos.TerminalReason())
	at := s.now().UTC()
	err := s.repo.SetResult(ctx, g.ID, result, termination, at)
	switch {
	case err == nil:
		g.Result, g.Termination, g.FinishedAt = result, termination, &at
	case errors.Is(err, ErrResultAlreadySet):
		if stored, gerr := s.repo.GetGame(ctx, g.ID); gerr == nil && stored != nil {
			g.Result, g.Termination, g.FinishedAt = stored.Result, stored.Termination, stored.FinishedAt
		}
		return
	default:
		obslog.L().Error("game_result_write_failed", zap.String("game_id", g.ID), zap.Error(err))
		return
	}
	obslog.L().Info("game_finished",
		zap.String("game_id", g.ID),
		zap.String("result", result),
		zap.String("termination", termination),
		zap.Int("plies", len(g.Moves)),
	)
	s.publish(Event{Type: EventFinished, GameID: g.ID, Ply: len(g.Moves), FEN: pos.FEN(), Status: s.Status(pos)})
}

func (s *Service) randomMove(pos rules.Position) (rules.Move, bool) {
	legal := pos.LegalMoves()
	if len(legal) == 0 {
		return rules.Move{}, false
	}
	s.rngMu.Lock()
	i := s.rng.Intn(len(legal))
	s.rngMu.Unlock()
	return legal[i], true
}

type gameLock struct {
	mu   sync.Mutex
	refs int
}

// lock serializes operations on one game within this process. Entries are
// dropped once no caller holds or waits for them.
func (s *Service) lock(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &gameLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

func (s *Service) publish(e Event) {
	if e.At.IsZero() {
		e.At = s.now().UTC()
	}
	s.pub.Publish(e)
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	return `"` + s + `"`
}
