// Package feed fans game events out to websocket watchers.
package feed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/Larswa/chess-combat/internal/obslog"
	"github.com/Larswa/chess-combat/internal/service/game"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// Subscriber receives events for one game until it is closed.
type Subscriber struct {
	ID     string
	GameID string
	C      <-chan game.Event

	ch   chan game.Event
	once sync.Once
}

func (s *Subscriber) close() { s.once.Do(func() { close(s.ch) }) }

// Hub keeps subscribers per game. Publish never blocks; a subscriber whose
// buffer is full is dropped.
type Hub struct {
	mu    sync.RWMutex
	games map[string]map[string]*Subscriber

	// originPatterns lists extra hosts allowed to open a feed; the request's
	// own host is always allowed.
	originPatterns []string
}

var _ game.Publisher = (*Hub)(nil)

// NewHub returns a hub. originPatterns are path.Match patterns for
// cross-origin websocket clients, e.g. "localhost:3000" or "*.example.com".
func NewHub(originPatterns ...string) *Hub {
	return &Hub{games: make(map[string]map[string]*Subscriber), originPatterns: originPatterns}
}

func (h *Hub) Subscribe(gameID string) *Subscriber {
	ch := make(chan game.Event, sendBuffer)
	s := &Subscriber{ID: uuid.NewString(), GameID: gameID, C: ch, ch: ch}
	h.mu.Lock()
	if h.games[gameID] == nil {
		h.games[gameID] = make(map[string]*Subscriber)
	}
	h.games[gameID][s.ID] = s
	h.mu.Unlock()
	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	h.mu.Lock()
	h.remove(s)
	h.mu.Unlock()
}

// remove expects h.mu held for writing.
func (h *Hub) remove(s *Subscriber) {
	subs := h.games[s.GameID]
	if _, ok := subs[s.ID]; !ok {
		return
	}
	delete(subs, s.ID)
	if len(subs) == 0 {
		delete(h.games, s.GameID)
	}
	s.close()
}

func (h *Hub) Publish(e game.Event) {
	var slow []*Subscriber
	h.mu.RLock()
	for _, s := range h.games[e.GameID] {
		select {
		case s.ch <- e:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()
	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, s := range slow {
		obslog.L().Warn("feed_subscriber_dropped", zap.String("game_id", s.GameID), zap.String("subscriber", s.ID))
		h.remove(s)
	}
	h.mu.Unlock()
}

// Count returns the number of subscribers watching gameID.
func (h *Hub) Count(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.games[gameID])
}

// Serve upgrades the request and streams events for gameID as JSON until the
// client leaves or ctx ends. hello, when set, is sent first.
func (h *Hub) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, gameID string, hello any) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusInternalError, "feed closed")

	sub := h.Subscribe(gameID)
	defer h.Unsubscribe(sub)

	// Watchers only listen; CloseRead handles control frames and cancels
	// ctx once the client goes away.
	ctx = conn.CloseRead(ctx)

	if hello != nil {
		if err := write(ctx, conn, hello); err != nil {
			return err
		}
	}
	obslog.L().Debug("feed_subscribed", zap.String("game_id", gameID), zap.String("subscriber", sub.ID))

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "too slow")
				return nil
			}
			if err := write(ctx, conn, e); err != nil {
				return err
			}
			if e.Type == game.EventFinished {
				conn.Close(websocket.StatusNormalClosure, "game finished")
				return nil
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, v)
}
