package game

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// memrepo is used when no database is configured. Reads return copies.
type memrepo struct {
	mu sync.RWMutex

	nextPlayer int64
	players    map[string]Player
	names      map[int64]string
	games      map[string]*Game
	plies      map[string]map[int]bool
}

func NewMemoryRepository() Repository {
	return &memrepo{
		players: make(map[string]Player),
		names:   make(map[int64]string),
		games:   make(map[string]*Game),
		plies:   make(map[string]map[int]bool),
	}
}

func (m *memrepo) EnsurePlayer(_ context.Context, name string) (Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Player{}, fmt.Errorf("player name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.players[name]; ok {
		return p, nil
	}
	m.nextPlayer++
	p := Player{ID: m.nextPlayer, Name: name}
	m.players[name] = p
	m.names[p.ID] = name
	return p, nil
}

func (m *memrepo) CreateGame(_ context.Context, g *Game) error {
	if g == nil {
		return fmt.Errorf("nil game payload")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[g.ID]; exists {
		return fmt.Errorf("insert game: duplicate id %s", g.ID)
	}
	c := g.clone()
	c.Moves = []string{}
	c.WhiteName = m.names[c.WhiteID]
	c.BlackName = m.names[c.BlackID]
	m.games[g.ID] = c
	m.plies[g.ID] = make(map[int]bool)
	return nil
}

func (m *memrepo) GetGame(_ context.Context, id string) (*Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, nil
	}
	return g.clone(), nil
}

func (m *memrepo) ListGames(_ context.Context, limit int) ([]*Game, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	m.mu.RLock()
	items := make([]*Game, 0, len(m.games))
	for _, g := range m.games {
		c := g.clone()
		c.Moves = nil
		items = append(items, c)
	}
	m.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) AppendMove(_ context.Context, gameID string, ply int, move string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return ErrGameNotFound
	}
	if m.plies[gameID][ply] {
		return fmt.Errorf("insert move: ply %d already stored for %s", ply, gameID)
	}
	m.plies[gameID][ply] = true
	g.Moves = append(g.Moves, move)
	return nil
}

func (m *memrepo) MarkRelaxed(_ context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return ErrGameNotFound
	}
	g.RulesRelaxed = true
	return nil
}

func (m *memrepo) SetResult(_ context.Context, gameID, result, termination string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return ErrGameNotFound
	}
	if g.Result != "" {
		return ErrResultAlreadySet
	}
	g.Result, g.Termination = result, termination
	t := at.UTC()
	g.FinishedAt = &t
	return nil
}

func (m *memrepo) Close() error { return nil }
