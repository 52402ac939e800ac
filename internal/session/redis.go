package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Larswa/chess-combat/internal/obslog"
)

const maxWatchRetries = 64

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore keeps each session as a JSON blob under its own key and tracks
// keys in an index set so sweeps can find them. Updates use WATCH so writers
// on the same session never interleave.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store. Keys carry the given TTL as a backstop for
// sessions no sweep ever reaches.
func NewRedisStore(rdb *redis.Client, ttl time.Duration, now func() time.Time) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{rdb: rdb, prefix: "chess:session:", ttl: ttl, now: now}
}

func (s *RedisStore) keySession(k Key) string { return s.prefix + k.String() }
func (s *RedisStore) keyIndex() string        { return s.prefix + "index" }

func (s *RedisStore) load(ctx context.Context, c getter, key string) (*Session, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	if sess.Insights == nil {
		sess.Insights = map[string]string{}
	}
	return &sess, nil
}

// update loads (or creates) the session, applies fn and writes it back in one
// WATCH transaction, retrying when another writer got there first.
func (s *RedisStore) update(ctx context.Context, key Key, fn func(*Session)) (*Session, error) {
	key = key.Normalize()
	k := s.keySession(key)
	var out *Session
	txf := func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, k)
		if err != nil {
			return err
		}
		now := s.now()
		if cur == nil {
			cur = newSession(key, now)
		}
		cur.LastAccess = now
		if fn != nil {
			fn(cur)
		}
		raw, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, raw, s.ttl)
			pipe.SAdd(ctx, s.keyIndex(), k)
			return nil
		})
		if err != nil {
			return err
		}
		out = cur
		return nil
	}
	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, txf, k)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		obslog.L().Debug("session_update_conflict", zap.String("session", k), zap.Int("attempt", i+1))
	}
	return nil, fmt.Errorf("update session %s: %w", k, redis.TxFailedErr)
}

func (s *RedisStore) GetOrCreate(ctx context.Context, key Key) (*Session, error) {
	return s.update(ctx, key, nil)
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*Session, error) {
	return s.load(ctx, s.rdb, s.keySession(key.Normalize()))
}

func (s *RedisStore) RecordMove(ctx context.Context, key Key, move string) error {
	_, err := s.update(ctx, key, func(sess *Session) { sess.History = append(sess.History, move) })
	return err
}

func (s *RedisStore) RecordInsight(ctx context.Context, key Key, name, value string) error {
	_, err := s.update(ctx, key, func(sess *Session) { sess.Insights[name] = value })
	return err
}

func (s *RedisStore) RecordExchange(ctx context.Context, key Key, text string) error {
	_, err := s.update(ctx, key, func(sess *Session) { sess.addExchange(text) })
	return err
}

// EvictExpired deletes idle sessions and index entries whose key already expired.
func (s *RedisStore) EvictExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	keys, err := s.rdb.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		evicted := false
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			sess, err := s.load(ctx, tx, k)
			if err != nil {
				return err
			}
			if sess != nil && !expired(sess, now, ttl) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, k)
				pipe.SRem(ctx, s.keyIndex(), k)
				return nil
			})
			if err == nil {
				evicted = true
			}
			return err
		}, k)
		if errors.Is(err, redis.TxFailedErr) {
			// touched during the sweep, so it is live
			continue
		}
		if err != nil {
			return n, err
		}
		if evicted {
			n++
		}
	}
	return n, nil
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByEngine: map[string]int{}}
	keys, err := s.rdb.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return st, err
	}
	for _, k := range keys {
		sess, err := s.load(ctx, s.rdb, k)
		if err != nil {
			return st, err
		}
		if sess == nil {
			continue
		}
		st.add(sess)
	}
	st.finish()
	return st, nil
}
