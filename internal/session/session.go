// Package session keeps per-player continuity between mediation calls: the
// moves an AI player made, free-form insights it produced, and its last few
// exchanges with the oracle. Sessions expire after an idle period; eviction
// only happens when EvictExpired is called.
package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultTTL is the idle time after which a sweep evicts a session.
const DefaultTTL = time.Hour

// MaxContext caps the exchanges kept per session.
const MaxContext = 5

// ErrNotFound is returned by update paths on stores that refuse to create.
var ErrNotFound = errors.New("session not found")

// Key identifies one logical player: a side of a game driven by an engine.
type Key struct {
	GameID string `json:"game_id"`
	Side   string `json:"side"`
	Engine string `json:"engine"`
}

func (k Key) String() string {
	return k.GameID + ":" + strings.ToLower(k.Side) + ":" + strings.ToLower(k.Engine)
}

// Normalize lower-cases side and engine so lookups are stable.
func (k Key) Normalize() Key {
	return Key{
		GameID: strings.TrimSpace(k.GameID),
		Side:   strings.ToLower(strings.TrimSpace(k.Side)),
		Engine: strings.ToLower(strings.TrimSpace(k.Engine)),
	}
}

// Session is a snapshot of one player's accumulated context.
type Session struct {
	Key        Key               `json:"key"`
	History    []string          `json:"history"`
	Insights   map[string]string `json:"insights"`
	Context    []string          `json:"context"`
	CreatedAt  time.Time         `json:"created_at"`
	LastAccess time.Time         `json:"last_access"`
}

func newSession(k Key, now time.Time) *Session {
	return &Session{Key: k, Insights: map[string]string{}, CreatedAt: now, LastAccess: now}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.History = append([]string(nil), s.History...)
	c.Context = append([]string(nil), s.Context...)
	c.Insights = make(map[string]string, len(s.Insights))
	for k, v := range s.Insights {
		c.Insights[k] = v
	}
	return &c
}

func (s *Session) addExchange(text string) {
	s.Context = append(s.Context, text)
	if len(s.Context) > MaxContext {
		s.Context = append([]string(nil), s.Context[len(s.Context)-MaxContext:]...)
	}
}

// Stats summarizes live sessions.
type Stats struct {
	Active       int            `json:"active_sessions"`
	ByEngine     map[string]int `json:"sessions_by_engine"`
	TotalMoves   int            `json:"total_moves"`
	AverageMoves float64        `json:"average_moves_per_session"`
}

func (st *Stats) add(s *Session) {
	st.Active++
	st.ByEngine[s.Key.Engine]++
	st.TotalMoves += len(s.History)
}

func (st *Stats) finish() {
	if st.Active > 0 {
		st.AverageMoves = float64(st.TotalMoves) / float64(st.Active)
	}
}

// Store holds sessions. Mutations of one session are serialized; concurrent
// calls on different sessions may proceed independently.
type Store interface {
	GetOrCreate(ctx context.Context, key Key) (*Session, error)
	// Get returns nil, nil when the session does not exist.
	Get(ctx context.Context, key Key) (*Session, error)
	RecordMove(ctx context.Context, key Key, move string) error
	RecordInsight(ctx context.Context, key Key, name, value string) error
	RecordExchange(ctx context.Context, key Key, text string) error
	EvictExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

func expired(s *Session, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.Sub(s.LastAccess) > ttl
}
