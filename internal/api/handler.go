// Package api exposes the game service over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Larswa/chess-combat/internal/feed"
	"github.com/Larswa/chess-combat/internal/mediator"
	"github.com/Larswa/chess-combat/internal/obslog"
	"github.com/Larswa/chess-combat/internal/oracle"
	"github.com/Larswa/chess-combat/internal/rules"
	"github.com/Larswa/chess-combat/internal/service/game"
	"github.com/Larswa/chess-combat/internal/version"
	"github.com/Larswa/chess-combat/pkg/chessdto"
)

const defaultEngine = "openai"

type Handler struct {
	svc        *game.Service
	hub        *feed.Hub
	info       version.Info
	sessionTTL time.Duration
}

func NewHandler(svc *game.Service, hub *feed.Hub, info version.Info, sessionTTL time.Duration) *Handler {
	return &Handler{svc: svc, hub: hub, info: info, sessionTTL: sessionTTL}
}

// RegisterRoutes registers all routes on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/version", h.Version)
	g.POST("/new-game", h.NewGame)
	g.POST("/move", h.Move)
	g.POST("/ai-move", h.AIMove)
	g.POST("/ai-vs-ai", h.AIVsAI)
	g.GET("/games", h.ListGames)
	g.GET("/game/:id", h.GetGame)
	g.GET("/game/:id/moves", h.GetMoves)
	g.GET("/game/:id/ws", h.Watch)
	g.GET("/sessions/stats", h.SessionStats)
	g.POST("/sessions/sweep", h.SweepSessions)
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/version
func (h *Handler) Version(c echo.Context) error {
	return c.JSON(http.StatusOK, chessdto.VersionResponse{
		Name:                h.info.Name,
		Version:             h.info.Version,
		BuildDate:           h.info.BuildDate,
		DeploymentTimestamp: h.info.DeploymentTimestamp,
	})
}

// NewGame creates a game. When the human takes black the engine opens.
// POST /api/new-game
func (h *Handler) NewGame(c echo.Context) error {
	ctx := c.Request().Context()

	var req chessdto.NewGameRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	mode := game.ParseMode(req.Mode)
	engine := engineOr(req.AIEngine, defaultEngine)
	humanWhite := !strings.EqualFold(strings.TrimSpace(req.Color), "black")

	params := game.NewGameParams{
		White:       req.White,
		Black:       req.Black,
		Mode:        mode,
		HumanWhite:  humanWhite,
		EngineWhite: engine,
		EngineBlack: engine,
	}
	if mode == game.ModeAIVsAI {
		params.EngineWhite = engineOr(req.WhiteEngine, engine)
		params.EngineBlack = engineOr(req.BlackEngine, engine)
	}
	g, pos, err := h.svc.NewGame(ctx, params)
	if err != nil {
		return h.fail(c, err)
	}
	resp := chessdto.NewGameResponse{
		GameID: g.ID,
		FEN:    pos.FEN(),
		White:  g.WhiteName,
		Black:  g.BlackName,
		Mode:   string(g.Mode),
		Status: h.svc.Status(pos),
	}
	if mode == game.ModeHumanVsAI && !humanWhite {
		out, err := h.svc.RequestAIMove(ctx, g.ID, engine, true)
		if err != nil {
			return h.fail(c, err)
		}
		ai := aiMoveResponse(out)
		resp.AIMove = &ai
		resp.FEN, resp.Status = out.FEN, out.Status
	}
	return c.JSON(http.StatusOK, resp)
}

// Move plays a human move and, in human-vs-ai games, the engine's answer.
// POST /api/move
func (h *Handler) Move(c echo.Context) error {
	ctx := c.Request().Context()

	var req chessdto.MoveRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.GameID) == "" {
		return badRequest(c, "game_id is required")
	}
	if strings.TrimSpace(req.Move) == "" {
		return badRequest(c, "move is required")
	}
	human, reply, err := h.svc.PlayTurn(ctx, req.GameID, req.Move, engineOr(req.AIEngine, defaultEngine), chessdto.Enforced(req.EnforceRules))
	if err != nil {
		return h.fail(c, err)
	}
	resp := chessdto.MoveResponse{
		FEN:     human.FEN,
		Status:  human.Status,
		Move:    human.Move,
		Moves:   human.Game.Moves,
		Invalid: human.Invalid,
	}
	if reply != nil {
		ai := aiMoveResponse(*reply)
		resp.AIMove = &ai
		resp.FEN, resp.Status, resp.Moves = reply.FEN, reply.Status, reply.Game.Moves
	}
	return c.JSON(http.StatusOK, resp)
}

// POST /api/ai-move
func (h *Handler) AIMove(c echo.Context) error {
	ctx := c.Request().Context()

	var req chessdto.AIMoveRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.GameID) == "" {
		return badRequest(c, "game_id is required")
	}
	out, err := h.svc.RequestAIMove(ctx, req.GameID, engineOr(req.AIEngine, defaultEngine), chessdto.Enforced(req.EnforceRules))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, aiMoveResponse(out))
}

// AIVsAI runs engines against each other, on a new game unless game_id is set.
// POST /api/ai-vs-ai
func (h *Handler) AIVsAI(c echo.Context) error {
	ctx := c.Request().Context()

	var req chessdto.AIVsAIRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	white := engineOr(req.WhiteEngine, defaultEngine)
	black := engineOr(req.BlackEngine, white)
	id := strings.TrimSpace(req.GameID)
	if id == "" {
		g, _, err := h.svc.NewGame(ctx, game.NewGameParams{Mode: game.ModeAIVsAI, EngineWhite: white, EngineBlack: black})
		if err != nil {
			return h.fail(c, err)
		}
		id = g.ID
	}
	rep, err := h.svc.AutoPlay(ctx, id, white, black, chessdto.Enforced(req.EnforceRules), req.MaxPlies)
	if err != nil {
		return h.fail(c, err)
	}
	resp := chessdto.AIVsAIResponse{
		GameID:       id,
		FEN:          rep.FEN,
		Status:       rep.Status,
		MoveHistory:  rep.Game.Moves,
		AIMoves:      rep.AIMoves,
		InvalidMoves: make([]chessdto.InvalidMove, 0, len(rep.Invalid)),
		Fallbacks:    rep.Fallbacks,
		GameOver:     rep.GameOver,
	}
	for _, iv := range rep.Invalid {
		resp.InvalidMoves = append(resp.InvalidMoves, chessdto.InvalidMove(iv))
	}
	if rep.Result != "" {
		r := rep.Result
		resp.Result = &r
	}
	return c.JSON(http.StatusOK, resp)
}

// GET /api/games?limit=
func (h *Handler) ListGames(c echo.Context) error {
	limit := 0
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return badRequest(c, "limit must be a non-negative integer")
		}
		limit = n
	}
	games, err := h.svc.ListGames(c.Request().Context(), limit)
	if err != nil {
		return h.fail(c, err)
	}
	resp := chessdto.GamesResponse{Games: make([]chessdto.GameView, 0, len(games))}
	for _, g := range games {
		resp.Games = append(resp.Games, gameView(g))
	}
	return c.JSON(http.StatusOK, resp)
}

// GET /api/game/:id
func (h *Handler) GetGame(c echo.Context) error {
	out, err := h.svc.GetGame(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, detailView(out))
}

// GET /api/game/:id/moves
func (h *Handler) GetMoves(c echo.Context) error {
	id := c.Param("id")
	pairs, err := h.svc.MovePairs(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	resp := chessdto.MovesResponse{GameID: id, Moves: make([]chessdto.MovePair, 0, len(pairs))}
	for _, p := range pairs {
		resp.Moves = append(resp.Moves, chessdto.MovePair(p))
	}
	return c.JSON(http.StatusOK, resp)
}

// Watch streams game events over a websocket, starting with a snapshot.
// GET /api/game/:id/ws
func (h *Handler) Watch(c echo.Context) error {
	out, err := h.svc.GetGame(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.hub.Serve(c.Request().Context(), c.Response(), c.Request(), out.Game.ID, detailView(out)); err != nil {
		obslog.L().Debug("feed_closed", zap.String("game_id", out.Game.ID), zap.Error(err))
	}
	return nil
}

// GET /api/sessions/stats
func (h *Handler) SessionStats(c echo.Context) error {
	st, err := h.svc.SessionStats(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, chessdto.SessionStats{
		ActiveSessions: st.Active,
		ByEngine:       st.ByEngine,
		TotalMoves:     st.TotalMoves,
		AverageMoves:   st.AverageMoves,
	})
}

// POST /api/sessions/sweep
func (h *Handler) SweepSessions(c echo.Context) error {
	n, err := h.svc.SweepSessions(c.Request().Context(), h.sessionTTL)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, chessdto.SweepResponse{Evicted: n})
}

func aiMoveResponse(out game.Outcome) chessdto.AIMoveResponse {
	resp := chessdto.AIMoveResponse{
		FEN:         out.FEN,
		Status:      out.Status,
		Move:        out.Move,
		Attempts:    make([]chessdto.Attempt, 0, len(out.Attempts)),
		Fallback:    out.Fallback,
		Unvalidated: out.Unvalidated,
		Invalid:     out.Invalid,
	}
	for _, a := range out.Attempts {
		resp.Attempts = append(resp.Attempts, chessdto.Attempt{Index: a.Index, Text: a.Text, Outcome: string(a.Outcome), Reason: a.Reason})
	}
	return resp
}

func gameView(g *game.Game) chessdto.GameView {
	return chessdto.GameView{
		ID:           g.ID,
		White:        g.WhiteName,
		Black:        g.BlackName,
		WhiteID:      g.WhiteID,
		BlackID:      g.BlackID,
		Mode:         string(g.Mode),
		CreatedAt:    g.CreatedAt,
		Result:       g.Result,
		Termination:  g.Termination,
		FinishedAt:   g.FinishedAt,
		RulesRelaxed: g.RulesRelaxed,
	}
}

func detailView(out game.Outcome) chessdto.GameView {
	v := gameView(out.Game)
	v.FEN = out.FEN
	v.Status = out.Status
	v.Moves = out.Game.Moves
	v.Opening = out.Opening
	if out.Position.Valid() {
		v.SideToMove = strings.ToLower(out.Position.SideName())
		w, b := out.Position.Material()
		v.Material = &chessdto.MaterialScore{White: w, Black: b}
	}
	return v
}

func engineOr(name, def string) string {
	if n := strings.ToLower(strings.TrimSpace(name)); n != "" {
		return n
	}
	return def
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, chessdto.ErrorResponse{Error: msg, Code: chessdto.CodeBadRequest})
}

// fail maps service errors onto HTTP statuses.
func (h *Handler) fail(c echo.Context, err error) error {
	status, code, retry := http.StatusInternalServerError, chessdto.CodeInternal, false
	switch {
	case errors.Is(err, game.ErrGameNotFound):
		status, code = http.StatusNotFound, chessdto.CodeNotFound
	case errors.Is(err, game.ErrGameFinished):
		status, code = http.StatusConflict, chessdto.CodeFinished
	case errors.Is(err, mediator.ErrNoLegalMoves):
		status, code = http.StatusConflict, chessdto.CodeNoLegalMoves
	case errors.Is(err, game.ErrUnknownEngine):
		status, code = http.StatusBadRequest, chessdto.CodeUnknownEngine
	case errors.Is(err, rules.ErrIllegalMove), errors.Is(err, rules.ErrMalformedMove):
		status, code = http.StatusBadRequest, chessdto.CodeBadRequest
	case errors.Is(err, oracle.ErrAuth):
		status, code = http.StatusBadGateway, chessdto.CodeOracle
	case errors.Is(err, oracle.ErrRateLimit), errors.Is(err, oracle.ErrTransport), errors.Is(err, oracle.ErrTimeout):
		status, code, retry = http.StatusBadGateway, chessdto.CodeOracle, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code, retry = http.StatusServiceUnavailable, chessdto.CodeInternal, true
	}
	log := obslog.L().With(zap.String("path", c.Path()), zap.Int("status", status), zap.Error(err))
	if status >= 500 {
		log.Error("api_request_failed")
	} else {
		log.Info("api_request_rejected")
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	return c.JSON(status, chessdto.ErrorResponse{Error: msg, Code: code, Retryable: retry})
}
