package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Larswa/chess-combat/internal/feed"
	"github.com/Larswa/chess-combat/internal/mediator"
	"github.com/Larswa/chess-combat/internal/msgcat"
	"github.com/Larswa/chess-combat/internal/oracle"
	"github.com/Larswa/chess-combat/internal/prompt"
	"github.com/Larswa/chess-combat/internal/ranker"
	"github.com/Larswa/chess-combat/internal/rules"
	"github.com/Larswa/chess-combat/internal/service/game"
	"github.com/Larswa/chess-combat/internal/session"
	"github.com/Larswa/chess-combat/internal/version"
	"github.com/Larswa/chess-combat/pkg/chessdto"
)

func newTestHandler(t *testing.T, replies ...string) (*Handler, *oracle.Mock) {
	t.Helper()
	rk := ranker.New(rand.New(rand.NewSource(3)))
	cat := msgcat.MustDefault()
	store := session.NewMemoryStore(nil)
	med := mediator.New(mediator.Config{MaxAttempts: 3, AttemptTimeout: time.Second}, nil, prompt.NewBuilder(cat, rk, 8), rk, store)
	mock := oracle.NewMock(oracle.Texts(replies...)...)
	reg := oracle.NewRegistry()
	reg.Register("openai", mock)
	hub := feed.NewHub()
	svc, err := game.NewService(game.NewMemoryRepository(), med, reg, cat,
		game.WithPublisher(hub),
		game.WithSessions(store),
		game.WithRand(rand.New(rand.NewSource(5))),
	)
	require.NoError(t, err)
	info := version.Resolve("1.0.0", "2026-10-01", "2026-10-01T00:00:00Z", time.Now())
	return NewHandler(svc, hub, info, time.Hour), mock
}

func do(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e)
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func newGame(t *testing.T, h *Handler, body string) chessdto.NewGameResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/new-game", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[chessdto.NewGameResponse](t, rec)
}

func TestHealthAndVersion(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[chessdto.VersionResponse](t, rec)
	assert.Equal(t, "Chess Combat", v.Name)
	assert.Equal(t, "1.0.0", v.Version)
	assert.Equal(t, "2026-10-01", v.BuildDate)
}

func TestNewGameHumanWhite(t *testing.T) {
	h, mock := newTestHandler(t)

	resp := newGame(t, h, `{"mode":"human-vs-ai","ai_engine":"openai"}`)
	assert.NotEmpty(t, resp.GameID)
	assert.Equal(t, rules.StartFEN, resp.FEN)
	assert.Equal(t, "Human", resp.White)
	assert.Equal(t, "AI_openai", resp.Black)
	assert.Equal(t, "in_progress", resp.Status)
	assert.Nil(t, resp.AIMove)
	assert.Equal(t, 0, mock.Calls())
}

func TestNewGameHumanBlackGetsOpeningMove(t *testing.T) {
	h, _ := newTestHandler(t, "MOVE: d2d4")

	resp := newGame(t, h, `{"mode":"human-vs-ai","color":"black"}`)
	require.NotNil(t, resp.AIMove)
	assert.Equal(t, "d2d4", resp.AIMove.Move)
	assert.Equal(t, "AI_openai", resp.White)
	assert.Equal(t, "Human", resp.Black)
	assert.NotEqual(t, rules.StartFEN, resp.FEN)
}

func TestMoveWithAIReply(t *testing.T) {
	h, _ := newTestHandler(t, "MOVE: e7e5\nREASON: mirror")
	g := newGame(t, h, `{}`)

	rec := do(t, h, http.MethodPost, "/api/move", `{"game_id":"`+g.GameID+`","move":"e2e4"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[chessdto.MoveResponse](t, rec)
	assert.Equal(t, "e2e4", resp.Move)
	require.NotNil(t, resp.AIMove)
	assert.Equal(t, "e7e5", resp.AIMove.Move)
	assert.Equal(t, []string{"e2e4", "e7e5"}, resp.Moves)
	assert.Len(t, resp.AIMove.Attempts, 1)

	rec = do(t, h, http.MethodGet, "/api/game/"+g.GameID+"/moves", "")
	require.Equal(t, http.StatusOK, rec.Code)
	moves := decode[chessdto.MovesResponse](t, rec)
	assert.Equal(t, []chessdto.MovePair{{Number: 1, White: "e2e4", Black: "e7e5"}}, moves.Moves)
}

func TestMoveInvalid(t *testing.T) {
	h, mock := newTestHandler(t, "MOVE: e7e5")
	g := newGame(t, h, `{}`)

	rec := do(t, h, http.MethodPost, "/api/move", `{"game_id":"`+g.GameID+`","move":"e2e5"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[chessdto.MoveResponse](t, rec)
	assert.True(t, resp.Invalid)
	assert.Equal(t, "invalid: illegal move e2e5", resp.Status)
	assert.Nil(t, resp.AIMove)
	assert.Equal(t, 0, mock.Calls())
}

func TestMoveValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/move", `{"move":"e2e4"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/move", `{"game_id":"missing","move":"e2e4"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	errResp := decode[chessdto.ErrorResponse](t, rec)
	assert.Equal(t, chessdto.CodeNotFound, errResp.Code)

	rec = do(t, h, http.MethodPost, "/api/move", `{bad json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAIMoveFallbackAndUnknownEngine(t *testing.T) {
	h, mock := newTestHandler(t, "I resign from thinking")
	g := newGame(t, h, `{"mode":"ai-vs-ai"}`)

	rec := do(t, h, http.MethodPost, "/api/ai-move", `{"game_id":"`+g.GameID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[chessdto.AIMoveResponse](t, rec)
	assert.True(t, resp.Fallback)
	assert.Len(t, resp.Attempts, 3)
	assert.Equal(t, 3, mock.Calls())
	mv, err := rules.ParseCoordinateMove(resp.Move)
	require.NoError(t, err)
	assert.True(t, rules.StartPosition().IsLegal(mv))

	rec = do(t, h, http.MethodPost, "/api/ai-move", `{"game_id":"`+g.GameID+`","ai_engine":"hal9000"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, chessdto.CodeUnknownEngine, decode[chessdto.ErrorResponse](t, rec).Code)
}

func TestAIVsAIRandom(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/ai-vs-ai", `{"white_engine":"random","black_engine":"random","max_plies":6}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[chessdto.AIVsAIResponse](t, rec)
	assert.NotEmpty(t, resp.GameID)
	assert.LessOrEqual(t, len(resp.AIMoves), 6)
	assert.Equal(t, resp.AIMoves, resp.MoveHistory)
	assert.Empty(t, resp.InvalidMoves)

	rec = do(t, h, http.MethodGet, "/api/game/"+resp.GameID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[chessdto.GameView](t, rec)
	assert.Equal(t, resp.FEN, view.FEN)
	assert.Equal(t, "ai-vs-ai", view.Mode)
	require.NotNil(t, view.Material)
}

func TestListGames(t *testing.T) {
	h, _ := newTestHandler(t)
	for i := 0; i < 3; i++ {
		newGame(t, h, `{}`)
	}

	rec := do(t, h, http.MethodGet, "/api/games?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[chessdto.GamesResponse](t, rec).Games, 2)

	rec = do(t, h, http.MethodGet, "/api/games", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[chessdto.GamesResponse](t, rec).Games, 3)

	rec = do(t, h, http.MethodGet, "/api/games?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGameFinishedConflict(t *testing.T) {
	h, _ := newTestHandler(t)
	g := newGame(t, h, `{"mode":"human-vs-human"}`)
	for _, mv := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		rec := do(t, h, http.MethodPost, "/api/move", `{"game_id":"`+g.GameID+`","move":"`+mv+`"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := do(t, h, http.MethodGet, "/api/game/"+g.GameID, "")
	view := decode[chessdto.GameView](t, rec)
	assert.Equal(t, "0-1", view.Result)
	assert.Equal(t, "checkmate - Black wins!", view.Status)

	rec = do(t, h, http.MethodPost, "/api/move", `{"game_id":"`+g.GameID+`","move":"e2e4"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, chessdto.CodeFinished, decode[chessdto.ErrorResponse](t, rec).Code)
}

func TestSessionsStatsAndSweep(t *testing.T) {
	h, _ := newTestHandler(t, "MOVE: e2e4")
	g := newGame(t, h, `{"mode":"ai-vs-ai"}`)
	rec := do(t, h, http.MethodPost, "/api/ai-move", `{"game_id":"`+g.GameID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/sessions/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[chessdto.SessionStats](t, rec)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 1, stats.ByEngine["openai"])
	assert.Equal(t, 1, stats.TotalMoves)

	rec = do(t, h, http.MethodPost, "/api/sessions/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[chessdto.SweepResponse](t, rec).Evicted)
}

func TestHandlerDirectContext(t *testing.T) {
	h, _ := newTestHandler(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/game/unknown", nil).WithContext(context.Background())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/game/:id")
	c.SetParamNames("id")
	c.SetParamValues("unknown")

	require.NoError(t, h.GetGame(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
