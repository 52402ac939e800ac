package prompt

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/Larswa/chess-combat/internal/msgcat"
	"github.com/Larswa/chess-combat/internal/ranker"
	"github.com/Larswa/chess-combat/internal/rules"
)

func newBuilder(t *testing.T) *Builder {
	t.Helper()
	return NewBuilder(msgcat.MustDefault(), ranker.New(rand.New(rand.NewSource(1))), 8)
}

func TestBuildStartPositionChat(t *testing.T) {
	b := newBuilder(t)
	p, err := b.Build(Input{Position: rules.StartPosition(), RulesEnforced: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, want := range []string{
		"POSITION (FEN): " + rules.StartFEN,
		"SIDE TO MOVE: White",
		"PHASE: opening (ply 0)",
		"RECENT MOVES: none",
		"SUGGESTED CANDIDATES: ",
		"LEGAL MOVES (20 of 20): ",
		"Name exactly one move in coordinate notation.",
	} {
		if !strings.Contains(p.User, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, p.User)
		}
	}
	if !strings.Contains(p.System, "MOVE: <coordinate move>") {
		t.Fatalf("system prompt missing reply format:\n%s", p.System)
	}
	if strings.Contains(p.User, "DO NOT REPEAT") {
		t.Fatalf("unexpected rejection section with empty memory")
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	b := newBuilder(t)
	in := Input{
		Position:      rules.StartPosition(),
		Rejections:    []Rejection{{Move: "e2e5", Reason: "illegal"}},
		Insights:      map[string]string{"latest_strategy": "control the center", "latest_reason": "space"},
		RulesEnforced: true,
	}
	a, err := b.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 5; i++ {
		c, err := b.Build(in)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if a != c {
			t.Fatalf("prompt changed between calls")
		}
	}
	if !strings.Contains(a.User, "- latest_reason: space\n- latest_strategy: control the center") {
		t.Fatalf("insights not sorted:\n%s", a.User)
	}
}

func TestBuildBoundsHistoryAndRejections(t *testing.T) {
	b := newBuilder(t)
	history := []string{"g1f3", "g8f6", "f3g1", "f6g8", "g1f3", "g8f6", "f3g1", "f6g8", "g1f3", "g8f6", "f3g1", "f6g8"}
	line, err := rules.Replay(history, true)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	var rej []Rejection
	for _, m := range []string{"a1a1", "e2e5", "e2e6", "d2d5", "c2c5", "b2b5", "h2h5"} {
		rej = append(rej, Rejection{Move: m, Reason: "illegal"})
	}
	rej = append(rej, Rejection{Reason: "no move found"})
	p, err := b.Build(Input{Position: line.Position, History: history, Plies: line.Plies, Rejections: rej, RulesEnforced: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(p.User, "RECENT MOVES (last 10 of 12): f3g1 f6g8 g1f3") {
		t.Fatalf("history not capped:\n%s", p.User)
	}
	if !strings.Contains(p.User, "DO NOT REPEAT THESE REJECTED MOVES: e2e6, d2d5, c2c5, b2b5, h2h5") {
		t.Fatalf("do-not-repeat list wrong:\n%s", p.User)
	}
	if !strings.Contains(p.User, "WHY THEY FAILED:\n- b2b5: illegal\n- h2h5: illegal\n- no move found") {
		t.Fatalf("compact rejections wrong:\n%s", p.User)
	}
}

func TestBuildRelaxedSingleStyle(t *testing.T) {
	b := newBuilder(t)
	p, err := b.Build(Input{Position: rules.StartPosition(), Style: StyleSingle})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.System != "" {
		t.Fatalf("single style should not split system text")
	}
	if strings.Contains(p.User, "LEGAL MOVES") || strings.Contains(p.User, "SUGGESTED CANDIDATES") {
		t.Fatalf("relaxed prompt should not list moves:\n%s", p.User)
	}
	if !strings.Contains(p.User, "BOARD: <one line assessment") || !strings.Contains(p.User, "Rules are relaxed") {
		t.Fatalf("single style format missing:\n%s", p.User)
	}
}

func TestPhase(t *testing.T) {
	cases := map[int]string{0: "opening", 19: "opening", 20: "middlegame", 39: "middlegame", 40: "endgame"}
	for ply, want := range cases {
		if got := Phase(ply); got != want {
			t.Fatalf("Phase(%d) = %q, want %q", ply, got, want)
		}
	}
}

func TestSituationReportsCheck(t *testing.T) {
	line, err := rules.Replay([]string{"e2e4", "f7f6", "d1h5"}, true)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	got := strings.Join(Situation(line.Position), "\n")
	if !strings.Contains(got, "Black is in CHECK") {
		t.Fatalf("missing check line: %s", got)
	}
}

func TestBuildNamesOpening(t *testing.T) {
	line, err := rules.Replay([]string{"e2e4", "c7c5", "g1f3"}, true)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	b := newBuilder(t)
	p, err := b.Build(Input{Position: line.Position, History: []string{"e2e4", "c7c5", "g1f3"}, Plies: line.Plies, RulesEnforced: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(p.User, "Sicilian") {
		t.Fatalf("opening missing from prompt:\n%s", p.User)
	}
}
