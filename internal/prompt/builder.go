// Package prompt renders the position description sent to the text oracle.
// Output depends only on the input; identical inputs give identical prompts.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/Larswa/chess-combat/internal/msgcat"
	"github.com/Larswa/chess-combat/internal/ranker"
	"github.com/Larswa/chess-combat/internal/rules"
)

// Limits on how much context goes into one prompt.
const (
	MaxCandidates  = 8
	MaxLegalListed = 20
	MaxHistory     = 10
	MaxDoNotRepeat = 5
	MaxRejections  = 3
)

// Style selects how the prompt is split for a provider.
type Style int

const (
	// StyleChat yields separate system and user messages.
	StyleChat Style = iota
	// StyleSingle folds everything into one user text.
	StyleSingle
)

// Rejection is a move the oracle already proposed for this position.
type Rejection struct {
	Move   string
	Reason string
}

// Input is everything a prompt is built from.
type Input struct {
	Position      rules.Position
	History       []string
	Plies         []rules.Ply
	Rejections    []Rejection
	Insights      map[string]string
	RulesEnforced bool
	Style         Style
}

// Prompt is the rendered request. System is empty for StyleSingle.
type Prompt struct {
	System string
	User   string
}

// Text joins both parts, for providers that take a single string.
func (p Prompt) Text() string {
	if p.System == "" {
		return p.User
	}
	return p.System + "\n\n" + p.User
}

// Builder renders prompts from catalog templates.
type Builder struct {
	cat        *msgcat.Catalog
	ranker     *ranker.Ranker
	candidates int
}

// NewBuilder returns a Builder. candidates is clamped to [0, MaxCandidates].
func NewBuilder(cat *msgcat.Catalog, r *ranker.Ranker, candidates int) *Builder {
	if candidates < 0 {
		candidates = 0
	}
	if candidates > MaxCandidates {
		candidates = MaxCandidates
	}
	return &Builder{cat: cat, ranker: r, candidates: candidates}
}

type view struct {
	FEN           string
	Side          string
	Phase         string
	Ply           int
	RulesEnforced bool
	Situation     []string
	Threats       []string
	History       []string
	HistoryTotal  int
	Candidates    []string
	Legal         []string
	LegalTotal    int
	Insights      []string
	DoNotRepeat   []string
	Rejections    []string
}

// Build renders in.
func (b *Builder) Build(in Input) (Prompt, error) {
	if !in.Position.Valid() {
		return Prompt{}, fmt.Errorf("build prompt: position not set")
	}
	v := b.view(in)

	system, err := b.cat.Render("prompt.system", v)
	if err != nil {
		return Prompt{}, err
	}
	user, err := b.cat.Render("prompt.user", v)
	if err != nil {
		return Prompt{}, err
	}
	switch in.Style {
	case StyleSingle:
		format, err := b.cat.Render("prompt.format.single", v)
		if err != nil {
			return Prompt{}, err
		}
		text, err := b.cat.Render("prompt.single", map[string]string{"System": system, "User": user, "Format": format})
		if err != nil {
			return Prompt{}, err
		}
		return Prompt{User: text}, nil
	default:
		format, err := b.cat.Render("prompt.format.chat", v)
		if err != nil {
			return Prompt{}, err
		}
		return Prompt{System: system + "\n\n" + format, User: user}, nil
	}
}

func (b *Builder) view(in Input) view {
	pos := in.Position
	ply := len(in.History)
	if ply == 0 {
		ply = pos.PlyIndex()
	}
	v := view{
		FEN:           pos.FEN(),
		Side:          pos.SideName(),
		Phase:         Phase(ply),
		Ply:           ply,
		RulesEnforced: in.RulesEnforced,
		Situation:     Situation(pos),
		HistoryTotal:  len(in.History),
		History:       tail(in.History, MaxHistory),
		Insights:      sortedInsights(in.Insights),
	}
	if v.Phase == "opening" && len(in.Plies) == ply {
		if op, ok := (rules.Line{Position: pos, Plies: in.Plies}).Opening(); ok {
			v.Situation = append(v.Situation, "opening: "+op.String())
		}
	}
	for _, th := range pos.Threats() {
		v.Threats = append(v.Threats, pieceName(th.Piece)+" on "+rules.SquareName(th.Square))
	}
	if in.RulesEnforced {
		if b.ranker != nil && b.candidates > 0 {
			for _, mv := range b.ranker.Top(pos, in.Plies, b.candidates) {
				v.Candidates = append(v.Candidates, mv.String())
			}
		}
		legal := pos.LegalMoves()
		v.LegalTotal = len(legal)
		for i, mv := range legal {
			if i == MaxLegalListed {
				break
			}
			v.Legal = append(v.Legal, mv.String())
		}
	}
	v.DoNotRepeat = recentMoves(in.Rejections, MaxDoNotRepeat)
	recent := in.Rejections
	if len(recent) > MaxRejections {
		recent = recent[len(recent)-MaxRejections:]
	}
	for _, r := range recent {
		v.Rejections = append(v.Rejections, compact(r))
	}
	return v
}

// Phase labels a game stage by ply count.
func Phase(ply int) string {
	switch {
	case ply < 20:
		return "opening"
	case ply < 40:
		return "middlegame"
	default:
		return "endgame"
	}
}

// Situation lists short facts about pos: check, castling rights and material.
func Situation(pos rules.Position) []string {
	var out []string
	if pos.InCheck() {
		out = append(out, pos.SideName()+" is in CHECK and must respond to it")
	}
	if c := pos.Castling(); c != "" && c != "-" {
		var rights []string
		if strings.ContainsAny(c, "KQ") {
			rights = append(rights, "White "+castleWings(c, 'K', 'Q'))
		}
		if strings.ContainsAny(c, "kq") {
			rights = append(rights, "Black "+castleWings(c, 'k', 'q'))
		}
		out = append(out, "castling available: "+strings.Join(rights, "; "))
	}
	w, bl := pos.Material()
	switch {
	case w > bl:
		out = append(out, fmt.Sprintf("material: White ahead by %d (%d vs %d)", w-bl, w, bl))
	case bl > w:
		out = append(out, fmt.Sprintf("material: Black ahead by %d (%d vs %d)", bl-w, bl, w))
	default:
		out = append(out, fmt.Sprintf("material: even (%d each)", w))
	}
	if ep := pos.EnPassant(); ep != "" && ep != "-" {
		out = append(out, "en passant capture possible on "+ep)
	}
	return out
}

func castleWings(c string, king, queen byte) string {
	var wings []string
	if strings.IndexByte(c, king) >= 0 {
		wings = append(wings, "kingside")
	}
	if strings.IndexByte(c, queen) >= 0 {
		wings = append(wings, "queenside")
	}
	return strings.Join(wings, " and ")
}

func compact(r Rejection) string {
	reason := strings.TrimSpace(r.Reason)
	if reason == "" {
		reason = "rejected"
	}
	if r.Move == "" {
		return reason
	}
	return r.Move + ": " + reason
}

func sortedInsights(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.TrimSpace(m[k]) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+": "+strings.TrimSpace(m[k]))
	}
	return out
}

func tail(s []string, n int) []string {
	if len(s) <= n {
		return append([]string(nil), s...)
	}
	return append([]string(nil), s[len(s)-n:]...)
}

// recentMoves returns up to n distinct rejected move strings, oldest first.
func recentMoves(s []Rejection, n int) []string {
	var out []string
	seen := make(map[string]bool)
	for i := len(s) - 1; i >= 0 && len(out) < n; i-- {
		m := s[i].Move
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func pieceName(pt rules.PieceType) string {
	switch pt {
	case nchess.King:
		return "king"
	case nchess.Queen:
		return "queen"
	case nchess.Rook:
		return "rook"
	case nchess.Bishop:
		return "bishop"
	case nchess.Knight:
		return "knight"
	case nchess.Pawn:
		return "pawn"
	}
	return "piece"
}
