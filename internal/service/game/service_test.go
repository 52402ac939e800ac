package game

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/pkg/errors"

	"github.com/Larswa/chess-combat/internal/mediator"
	"github.com/Larswa/chess-combat/internal/msgcat"
	"github.com/Larswa/chess-combat/internal/oracle"
	"github.com/Larswa/chess-combat/internal/prompt"
	"github.com/Larswa/chess-combat/internal/ranker"
	"github.com/Larswa/chess-combat/internal/rules"
	"github.com/Larswa/chess-combat/internal/session"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	svc      *Service
	repo     Repository
	sessions *session.MemoryStore
	events   *recorder
}

func newFixture(t *testing.T, mock oracle.Oracle) *fixture {
	t.Helper()
	rk := ranker.New(rand.New(rand.NewSource(7)))
	cat := msgcat.MustDefault()
	store := session.NewMemoryStore(nil)
	med := mediator.New(mediator.Config{MaxAttempts: 3, AttemptTimeout: time.Second}, nil, prompt.NewBuilder(cat, rk, 8), rk, store)
	reg := oracle.NewRegistry()
	if mock != nil {
		reg.Register("mock", mock)
	}
	repo := NewMemoryRepository()
	ev := &recorder{}
	svc, err := NewService(repo, med, reg, cat,
		WithPublisher(ev),
		WithSessions(store),
		WithRand(rand.New(rand.NewSource(42))),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{svc: svc, repo: repo, sessions: store, events: ev}
}

func (f *fixture) newGame(t *testing.T, mode Mode) *Game {
	t.Helper()
	g, pos, err := f.svc.NewGame(context.Background(), NewGameParams{Mode: mode, HumanWhite: true, EngineWhite: "mock", EngineBlack: "mock"})
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	if pos.FEN() != rules.StartFEN {
		t.Fatalf("initial fen = %s", pos.FEN())
	}
	return g
}

func (f *fixture) play(t *testing.T, id string, moves ...string) Outcome {
	t.Helper()
	var out Outcome
	for _, mv := range moves {
		var err error
		out, err = f.svc.SubmitMove(context.Background(), id, mv, true)
		if err != nil {
			t.Fatalf("SubmitMove(%s): %v", mv, err)
		}
		if out.Invalid {
			t.Fatalf("SubmitMove(%s): %s", mv, out.Status)
		}
	}
	return out
}

func TestNewGameDefaultNames(t *testing.T) {
	f := newFixture(t, nil)
	g := f.newGame(t, ModeHumanVsAI)
	if g.WhiteName != "Human" || g.BlackName != "AI_mock" {
		t.Fatalf("names = %s / %s", g.WhiteName, g.BlackName)
	}
	g2 := f.newGame(t, ModeHumanVsAI)
	if g2.WhiteID != g.WhiteID {
		t.Fatalf("player reused with new id: %d vs %d", g2.WhiteID, g.WhiteID)
	}
	if got := f.events.types(); len(got) != 2 || got[0] != EventCreated {
		t.Fatalf("events = %v", got)
	}
}

func TestFoolsMate(t *testing.T) {
	f := newFixture(t, nil)
	g := f.newGame(t, ModeHumanVsHuman)

	out := f.play(t, g.ID, "f2f3", "e7e5", "g2g4", "d8h4")
	if out.Status != "checkmate - Black wins!" {
		t.Fatalf("status = %q", out.Status)
	}
	if out.Game.Result != "0-1" || out.Game.Termination != "checkmate" || out.Game.FinishedAt == nil {
		t.Fatalf("game = %+v", out.Game)
	}

	stored, err := f.repo.GetGame(context.Background(), g.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetGame: %v", err)
	}
	if stored.Result != "0-1" || len(stored.Moves) != 4 {
		t.Fatalf("stored = %+v", stored)
	}

	if _, err := f.svc.SubmitMove(context.Background(), g.ID, "e2e4", true); !errors.Is(err, ErrGameFinished) {
		t.Fatalf("move after mate: err = %v", err)
	}
	err = f.repo.SetResult(context.Background(), g.ID, "1-0", "checkmate", time.Now())
	if !errors.Is(err, ErrResultAlreadySet) {
		t.Fatalf("second SetResult err = %v", err)
	}
	stored, _ = f.repo.GetGame(context.Background(), g.ID)
	if stored.Result != "0-1" {
		t.Fatalf("result overwritten: %s", stored.Result)
	}

	types := f.events.types()
	if types[len(types)-1] != EventFinished {
		t.Fatalf("last event = %s", types[len(types)-1])
	}
}

func TestSubmitMoveAutoPromotes(t *testing.T) {
	f := newFixture(t, nil)
	g := f.newGame(t, ModeHumanVsHuman)

	out := f.play(t, g.ID,
		"a2a4", "b7b5",
		"a4b5", "b8c6",
		"b5b6", "a8b8",
		"b6a7", "h7h6",
		"a7a8",
	)
	if out.Move != "a7a8q" {
		t.Fatalf("move = %q, want a7a8q", out.Move)
	}
	a8, _ := rules.ParseSquare("a8")
	pc, ok := out.Position.PieceAt(a8)
	if !ok || pc.Type() != nchess.Queen || pc.Color() != nchess.White {
		t.Fatalf("a8 holds %v (%v)", pc, ok)
	}
	if last := out.Game.Moves[len(out.Game.Moves)-1]; last != "a7a8q" {
		t.Fatalf("stored move = %q", last)
	}
}

func TestSubmitMoveRejectsWithoutMutation(t *testing.T) {
	f := newFixture(t, nil)
	g := f.newGame(t, ModeHumanVsHuman)

	for text, want := range map[string]string{
		"e2e5":  "invalid: illegal move e2e5",
		"hello": `invalid: malformed move "hello"`,
	} {
		out, err := f.svc.SubmitMove(context.Background(), g.ID, text, true)
		if err != nil {
			t.Fatalf("SubmitMove(%s): %v", text, err)
		}
		if !out.Invalid || out.Status != want {
			t.Fatalf("SubmitMove(%s) status = %q", text, out.Status)
		}
		if out.FEN != rules.StartFEN {
			t.Fatalf("position moved: %s", out.FEN)
		}
	}
	stored, _ := f.repo.GetGame(context.Background(), g.ID)
	if len(stored.Moves) != 0 {
		t.Fatalf("moves stored: %v", stored.Moves)
	}
}

func TestSubmitMoveUnknownGame(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.SubmitMove(context.Background(), "nope", "e2e4", true); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestRulesOffStoresLiteralMove(t *testing.T) {
	f := newFixture(t, nil)
	g := f.newGame(t, ModeHumanVsHuman)

	out, err := f.svc.SubmitMove(context.Background(), g.ID, "e2e5", false)
	if err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	if out.Invalid || !out.Game.RulesRelaxed {
		t.Fatalf("outcome = %+v", out)
	}
	if out.FEN != rules.StartFEN {
		t.Fatalf("literal move changed the board: %s", out.FEN)
	}
	cur, err := f.svc.GetGame(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if !cur.Game.RulesRelaxed || len(cur.Game.Moves) != 1 || cur.Game.Moves[0] != "e2e5" {
		t.Fatalf("stored = %+v", cur.Game)
	}

	// Legal moves still apply in a relaxed game.
	out, err = f.svc.SubmitMove(context.Background(), g.ID, "e2e4", false)
	if err != nil || out.Invalid {
		t.Fatalf("SubmitMove: %v %s", err, out.Status)
	}
	if out.FEN == rules.StartFEN {
		t.Fatal("legal move not applied")
	}
}

func TestRequestAIMoveFirstAttempt(t *testing.T) {
	mock := oracle.NewMock(oracle.Texts("MOVE: e2e4\nREASON: center\nSTRATEGY: open game")...)
	f := newFixture(t, mock)
	g := f.newGame(t, ModeAIVsAI)

	out, err := f.svc.RequestAIMove(context.Background(), g.ID, "mock", true)
	if err != nil {
		t.Fatalf("RequestAIMove: %v", err)
	}
	if out.Move != "e2e4" || out.Fallback || len(out.Attempts) != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	s, err := f.sessions.Get(context.Background(), session.Key{GameID: g.ID, Side: "white", Engine: "mock"})
	if err != nil || s == nil {
		t.Fatalf("session: %v %v", s, err)
	}
	if len(s.History) != 1 || s.Insights["latest_strategy"] != "open game" {
		t.Fatalf("session = %+v", s)
	}
	stats, err := f.svc.SessionStats(context.Background())
	if err != nil || stats.Active != 1 {
		t.Fatalf("stats = %+v %v", stats, err)
	}
}

func TestRequestAIMoveFallbackIsLegal(t *testing.T) {
	mock := oracle.NewMock(oracle.Texts("no idea")...)
	f := newFixture(t, mock)
	g := f.newGame(t, ModeAIVsAI)

	out, err := f.svc.RequestAIMove(context.Background(), g.ID, "mock", true)
	if err != nil {
		t.Fatalf("RequestAIMove: %v", err)
	}
	if !out.Fallback || mock.Calls() != 3 {
		t.Fatalf("fallback = %v calls = %d", out.Fallback, mock.Calls())
	}
	mv, err := rules.ParseCoordinateMove(out.Move)
	if err != nil || !rules.StartPosition().IsLegal(mv) {
		t.Fatalf("fallback move %q not legal", out.Move)
	}
}

func TestRequestAIMoveUnknownEngine(t *testing.T) {
	f := newFixture(t, nil)
	g := f.newGame(t, ModeAIVsAI)
	if _, err := f.svc.RequestAIMove(context.Background(), g.ID, "deepthought", true); !errors.Is(err, ErrUnknownEngine) {
		t.Fatalf("err = %v", err)
	}
}

func TestPlayTurnRepliesForHumanVsAI(t *testing.T) {
	mock := oracle.NewMock(oracle.Texts("MOVE: e7e5")...)
	f := newFixture(t, mock)
	g := f.newGame(t, ModeHumanVsAI)

	human, reply, err := f.svc.PlayTurn(context.Background(), g.ID, "e2e4", "mock", true)
	if err != nil {
		t.Fatalf("PlayTurn: %v", err)
	}
	if human.Move != "e2e4" || reply == nil || reply.Move != "e7e5" {
		t.Fatalf("human = %+v reply = %+v", human, reply)
	}
	pairs, err := f.svc.MovePairs(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("MovePairs: %v", err)
	}
	if len(pairs) != 1 || pairs[0] != (MovePair{Number: 1, White: "e2e4", Black: "e7e5"}) {
		t.Fatalf("pairs = %+v", pairs)
	}

	// An invalid human move gets no reply.
	human, reply, err = f.svc.PlayTurn(context.Background(), g.ID, "e1e3", "mock", true)
	if err != nil || !human.Invalid || reply != nil {
		t.Fatalf("invalid turn: %+v %+v %v", human, reply, err)
	}
}

func TestAutoPlayRandomKeepsReplayConsistent(t *testing.T) {
	f := newFixture(t, nil)
	g := f.newGame(t, ModeAIVsAI)

	rep, err := f.svc.AutoPlay(context.Background(), g.ID, EngineRandom, EngineRandom, true, 12)
	if err != nil {
		t.Fatalf("AutoPlay: %v", err)
	}
	if len(rep.AIMoves) == 0 || len(rep.AIMoves) > 12 {
		t.Fatalf("ai moves = %v", rep.AIMoves)
	}
	line, err := rules.Replay(rep.Game.Moves, true)
	if err != nil {
		t.Fatalf("strict replay: %v", err)
	}
	if line.Position.FEN() != rep.FEN {
		t.Fatalf("replayed %s, reported %s", line.Position.FEN(), rep.FEN)
	}
	if len(rep.Invalid) != 0 {
		t.Fatalf("random engine produced invalid moves: %+v", rep.Invalid)
	}
}

func TestAutoPlayReportsRejectedAnswers(t *testing.T) {
	mock := oracle.NewMock(oracle.Texts("MOVE: e2e5")...)
	f := newFixture(t, mock)
	g := f.newGame(t, ModeAIVsAI)

	rep, err := f.svc.AutoPlay(context.Background(), g.ID, "mock", EngineRandom, true, 2)
	if err != nil {
		t.Fatalf("AutoPlay: %v", err)
	}
	if len(rep.AIMoves) != 2 || rep.Fallbacks != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if len(rep.Invalid) != 3 {
		t.Fatalf("invalid = %+v", rep.Invalid)
	}
	for _, iv := range rep.Invalid {
		if iv.Ply != 1 || iv.Side != "white" || iv.Move != "e2e5" || !strings.HasPrefix(iv.Reason, "illegal") {
			t.Fatalf("invalid entry = %+v", iv)
		}
	}
}

func TestConcurrentSubmitsSerialize(t *testing.T) {
	f := newFixture(t, nil)
	g := f.newGame(t, ModeHumanVsHuman)

	var wg sync.WaitGroup
	results := make([]Outcome, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.svc.SubmitMove(context.Background(), g.ID, "e2e4", true)
			if err != nil {
				t.Errorf("SubmitMove: %v", err)
			}
			results[i] = out
		}(i)
	}
	wg.Wait()
	applied := 0
	for _, r := range results {
		if !r.Invalid {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("applied %d times, want 1", applied)
	}
	f.svc.locksMu.Lock()
	defer f.svc.locksMu.Unlock()
	if len(f.svc.locks) != 0 {
		t.Fatalf("lock entries left behind: %d", len(f.svc.locks))
	}
}

func TestSweepSessions(t *testing.T) {
	mock := oracle.NewMock(oracle.Texts("MOVE: e2e4")...)
	f := newFixture(t, mock)
	g := f.newGame(t, ModeAIVsAI)
	if _, err := f.svc.RequestAIMove(context.Background(), g.ID, "mock", true); err != nil {
		t.Fatalf("RequestAIMove: %v", err)
	}
	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err := f.svc.SweepSessions(context.Background(), time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("swept %d, err %v", n, err)
	}
}

func TestGetGameNamesOpening(t *testing.T) {
	f := newFixture(t, nil)
	g := f.newGame(t, ModeHumanVsHuman)
	f.play(t, g.ID, "e2e4", "c7c5")

	out, err := f.svc.GetGame(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if !strings.Contains(out.Opening, "Sicilian") {
		t.Fatalf("opening = %q", out.Opening)
	}
}

type relaxFailRepo struct {
	Repository
}

func (relaxFailRepo) MarkRelaxed(context.Context, string) error { return errors.New("db down") }

func TestRelaxedFlagFailureKeepsGameLoadable(t *testing.T) {
	rk := ranker.New(rand.New(rand.NewSource(7)))
	cat := msgcat.MustDefault()
	med := mediator.New(mediator.Config{}, nil, prompt.NewBuilder(cat, rk, 8), rk, nil)
	repo := relaxFailRepo{NewMemoryRepository()}
	svc, err := NewService(repo, med, nil, cat)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	g, _, err := svc.NewGame(context.Background(), NewGameParams{Mode: ModeHumanVsHuman})
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}

	if _, err := svc.SubmitMove(context.Background(), g.ID, "a1a5", false); err == nil {
		t.Fatalf("expected the relaxed flag failure to surface")
	}
	out, err := svc.GetGame(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("GetGame after failed relaxed move: %v", err)
	}
	if len(out.Game.Moves) != 0 || out.Game.RulesRelaxed {
		t.Fatalf("game = %+v", out.Game)
	}
	out, err = svc.SubmitMove(context.Background(), g.ID, "e2e4", true)
	if err != nil || out.Invalid {
		t.Fatalf("SubmitMove(e2e4): %+v %v", out, err)
	}
}
