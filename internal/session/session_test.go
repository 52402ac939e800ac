package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock { return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)} }

func newRedisStore(t *testing.T, clock *fakeClock) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, 24*time.Hour, clock.Now)
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store, clock *fakeClock)) {
	t.Run("memory", func(t *testing.T) {
		clock := newClock()
		fn(t, NewMemoryStore(clock.Now), clock)
	})
	t.Run("redis", func(t *testing.T) {
		clock := newClock()
		fn(t, newRedisStore(t, clock), clock)
	})
}

func TestSessionLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		key := Key{GameID: "g1", Side: "White", Engine: "OpenAI"}

		got, err := s.Get(ctx, key)
		if err != nil || got != nil {
			t.Fatalf("Get before create = %+v, %v", got, err)
		}
		created, err := s.GetOrCreate(ctx, key)
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		if created.Key != key.Normalize() || len(created.History) != 0 {
			t.Fatalf("unexpected new session: %+v", created)
		}
		for _, mv := range []string{"e2e4", "g1f3"} {
			if err := s.RecordMove(ctx, key, mv); err != nil {
				t.Fatalf("RecordMove: %v", err)
			}
		}
		if err := s.RecordInsight(ctx, key, "latest_strategy", "kingside attack"); err != nil {
			t.Fatalf("RecordInsight: %v", err)
		}
		if err := s.RecordInsight(ctx, key, "latest_strategy", "hold the center"); err != nil {
			t.Fatalf("RecordInsight: %v", err)
		}
		for i := 0; i < MaxContext+2; i++ {
			if err := s.RecordExchange(ctx, key, fmt.Sprintf("x%d", i)); err != nil {
				t.Fatalf("RecordExchange: %v", err)
			}
		}
		got, err = s.Get(ctx, Key{GameID: "g1", Side: "white", Engine: "openai"})
		if err != nil || got == nil {
			t.Fatalf("Get: %+v, %v", got, err)
		}
		if len(got.History) != 2 || got.History[1] != "g1f3" {
			t.Fatalf("history = %v", got.History)
		}
		if got.Insights["latest_strategy"] != "hold the center" {
			t.Fatalf("insight not upserted: %v", got.Insights)
		}
		if len(got.Context) != MaxContext || got.Context[0] != "x2" {
			t.Fatalf("context = %v", got.Context)
		}

		got.History = append(got.History, "mutated")
		again, _ := s.Get(ctx, key)
		if len(again.History) != 2 {
			t.Fatalf("store exposed internal state")
		}
	})
}

func TestEvictExpired(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		old := Key{GameID: "g1", Side: "white", Engine: "openai"}
		fresh := Key{GameID: "g2", Side: "black", Engine: "gemini"}
		if _, err := s.GetOrCreate(ctx, old); err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		clock.Advance(50 * time.Minute)
		if err := s.RecordMove(ctx, fresh, "e7e5"); err != nil {
			t.Fatalf("RecordMove: %v", err)
		}
		clock.Advance(20 * time.Minute)

		n, err := s.EvictExpired(ctx, clock.Now(), DefaultTTL)
		if err != nil || n != 1 {
			t.Fatalf("EvictExpired = %d, %v", n, err)
		}
		if got, _ := s.Get(ctx, old); got != nil {
			t.Fatalf("old session survived the sweep")
		}
		if got, _ := s.Get(ctx, fresh); got == nil {
			t.Fatalf("fresh session was evicted")
		}
		if n, _ := s.EvictExpired(ctx, clock.Now(), DefaultTTL); n != 0 {
			t.Fatalf("second sweep evicted %d", n)
		}
	})
}

func TestStats(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		_ = s.RecordMove(ctx, Key{GameID: "g1", Side: "white", Engine: "openai"}, "e2e4")
		_ = s.RecordMove(ctx, Key{GameID: "g1", Side: "white", Engine: "openai"}, "d2d4")
		_ = s.RecordMove(ctx, Key{GameID: "g1", Side: "black", Engine: "gemini"}, "e7e5")
		_, _ = s.GetOrCreate(ctx, Key{GameID: "g2", Side: "white", Engine: "openai"})

		st, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if st.Active != 3 || st.TotalMoves != 3 || st.ByEngine["openai"] != 2 || st.ByEngine["gemini"] != 1 {
			t.Fatalf("unexpected stats: %+v", st)
		}
		if st.AverageMoves != 1.0 {
			t.Fatalf("average = %v", st.AverageMoves)
		}
	})
}

func TestConcurrentMovesAreSerialized(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		key := Key{GameID: "g1", Side: "white", Engine: "openai"}
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := s.RecordMove(ctx, key, fmt.Sprintf("m%d", i)); err != nil {
					t.Errorf("RecordMove: %v", err)
				}
			}(i)
		}
		wg.Wait()
		got, err := s.Get(ctx, key)
		if err != nil || got == nil {
			t.Fatalf("Get: %v", err)
		}
		if len(got.History) != 10 {
			t.Fatalf("expected 10 moves, got %d", len(got.History))
		}
	})
}
