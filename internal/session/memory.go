package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in a map behind one mutex.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[Key]*Session
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{sessions: make(map[Key]*Session), now: now}
}

func (m *MemoryStore) GetOrCreate(_ context.Context, key Key) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touch(key.Normalize()).Clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, key Key) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[key.Normalize()].Clone(), nil
}

func (m *MemoryStore) RecordMove(_ context.Context, key Key, move string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.touch(key.Normalize())
	s.History = append(s.History, move)
	return nil
}

func (m *MemoryStore) RecordInsight(_ context.Context, key Key, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(key.Normalize()).Insights[name] = value
	return nil
}

func (m *MemoryStore) RecordExchange(_ context.Context, key Key, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(key.Normalize()).addExchange(text)
	return nil
}

func (m *MemoryStore) EvictExpired(_ context.Context, now time.Time, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, s := range m.sessions {
		if expired(s, now, ttl) {
			delete(m.sessions, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{ByEngine: map[string]int{}}
	for _, s := range m.sessions {
		st.add(s)
	}
	st.finish()
	return st, nil
}

// touch returns the live session for key, creating it, and bumps LastAccess.
// Callers hold m.mu.
func (m *MemoryStore) touch(key Key) *Session {
	now := m.now()
	s, ok := m.sessions[key]
	if !ok {
		s = newSession(key, now)
		m.sessions[key] = s
	}
	s.LastAccess = now
	return s
}
