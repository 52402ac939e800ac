// Package parser pulls a single move out of free text returned by a language
// model.
package parser

import (
	"regexp"
	"strings"

	"github.com/Larswa/chess-combat/internal/rules"
)

// Kind tags a parse result.
type Kind int

const (
	// KindNone means nothing resembling a move was found.
	KindNone Kind = iota
	// KindMove is a move that passed the legal filter, or any well-formed
	// move when no filter was given.
	KindMove
	// KindCandidate is well-formed coordinate text that is not in the legal set.
	KindCandidate
)

func (k Kind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindCandidate:
		return "candidate"
	default:
		return "none"
	}
}

// Strategy names the rule that produced a result.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyMoveField
	StrategyMoveFieldSAN
	StrategyScan
	StrategyWhole
	StrategyContains
	StrategyCastling
)

var strategyNames = [...]string{"none", "move_field", "move_field_san", "scan", "whole", "contains", "castling"}

func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return "unknown"
}

// Result is the outcome of Parse.
type Result struct {
	Kind     Kind
	Move     string
	Strategy Strategy
}

// OK reports whether a usable move was found.
func (r Result) OK() bool { return r.Kind == KindMove }

var (
	moveFieldRe = regexp.MustCompile(`(?im)^[^a-z0-9\n]*move\s*[:=]\s*(.*)$`)
	coordRe     = regexp.MustCompile(`(?i)(?:^|[^a-z0-9])([a-h][1-8])[-x]?([a-h][1-8])(=?[qrbn])?(?:$|[^a-z0-9])`)
	anchoredRe  = regexp.MustCompile(`(?i)^([a-h][1-8])[-x]?([a-h][1-8])(=?[qrbn])?$`)
	longCastle  = regexp.MustCompile(`(?:^|[^A-Za-z0-9-])(?:O-O-O|0-0-0|o-o-o)(?:$|[^A-Za-z0-9-])`)
	shortCastle = regexp.MustCompile(`(?:^|[^A-Za-z0-9-])(?:O-O|0-0|o-o)(?:$|[^A-Za-z0-9-])`)
	decorations = "*`\"'_()[]{}<>.,;!?#+"
)

// Parse extracts one move from text. legal restricts acceptable moves; a nil
// legal slice accepts any well-formed coordinate move. pos, when set, resolves
// SAN and castling words for the side to move. Parse never panics.
func Parse(text string, legal []rules.Move, pos *rules.Position) (res Result) {
	defer func() {
		if recover() != nil {
			res = Result{}
		}
	}()
	p := newRun(text, legal, pos)
	if r, ok := p.moveField(); ok {
		return r
	}
	if r, ok := p.moveFieldSAN(); ok {
		return r
	}
	if r, ok := p.scan(); ok {
		return r
	}
	if r, ok := p.whole(); ok {
		return r
	}
	if r, ok := p.contains(); ok {
		return r
	}
	if r, ok := p.castling(); ok {
		return r
	}
	if p.candidate != "" {
		return Result{Kind: KindCandidate, Move: p.candidate, Strategy: p.candidateFrom}
	}
	return Result{}
}

type run struct {
	text  string
	lower string
	legal map[string]bool
	order []string
	pos   *rules.Position

	candidate     string
	candidateFrom Strategy
}

func newRun(text string, legal []rules.Move, pos *rules.Position) *run {
	p := &run{text: text, lower: strings.ToLower(text), pos: pos}
	if legal != nil {
		p.legal = make(map[string]bool, len(legal))
		p.order = make([]string, 0, len(legal))
		for _, mv := range legal {
			s := mv.String()
			p.legal[s] = true
			p.order = append(p.order, s)
		}
	}
	if pos != nil && !pos.Valid() {
		p.pos = nil
	}
	return p
}

func (p *run) accept(mv string, s Strategy) (Result, bool) {
	if p.legal == nil || p.legal[mv] {
		return Result{Kind: KindMove, Move: mv, Strategy: s}, true
	}
	if p.candidate == "" {
		p.candidate, p.candidateFrom = mv, s
	}
	return Result{}, false
}

func (p *run) moveFieldValues() []string {
	var out []string
	for _, m := range moveFieldRe.FindAllStringSubmatch(p.text, -1) {
		if v := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), decorations)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (p *run) moveField() (Result, bool) {
	for _, v := range p.moveFieldValues() {
		tok := firstToken(v)
		if mv, ok := coordinate(tok); ok {
			if r, ok := p.accept(mv, StrategyMoveField); ok {
				return r, true
			}
		}
	}
	return Result{}, false
}

func (p *run) moveFieldSAN() (Result, bool) {
	for _, v := range p.moveFieldValues() {
		tok := strings.Trim(firstToken(v), decorations)
		if tok == "" {
			continue
		}
		if p.pos != nil {
			mv, err := rules.ParseSAN(*p.pos, tok)
			if err == nil {
				if r, ok := p.accept(mv.String(), StrategyMoveFieldSAN); ok {
					return r, true
				}
			}
			continue
		}
		stripped := strings.ToLower(strings.NewReplacer("x", "", "=", "", "-", "").Replace(tok))
		if p.legal != nil && p.legal[stripped] {
			return Result{Kind: KindMove, Move: stripped, Strategy: StrategyMoveFieldSAN}, true
		}
	}
	return Result{}, false
}

func (p *run) scan() (Result, bool) {
	// Matches may share a boundary character, so scan from each match start.
	rest := p.text
	for {
		loc := coordRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			return Result{}, false
		}
		mv := strings.ToLower(rest[loc[2]:loc[3]] + rest[loc[4]:loc[5]])
		if loc[6] >= 0 {
			mv += strings.ToLower(strings.TrimPrefix(rest[loc[6]:loc[7]], "="))
		}
		if r, ok := p.accept(mv, StrategyScan); ok {
			return r, true
		}
		rest = rest[loc[5]:]
	}
}

func (p *run) whole() (Result, bool) {
	tok := strings.ToLower(strings.Trim(strings.TrimSpace(p.text), decorations))
	if tok == "" {
		return Result{}, false
	}
	if p.legal == nil {
		if mv, ok := coordinate(tok); ok {
			return Result{Kind: KindMove, Move: mv, Strategy: StrategyWhole}, true
		}
		return Result{}, false
	}
	if p.legal[tok] {
		return Result{Kind: KindMove, Move: tok, Strategy: StrategyWhole}, true
	}
	return Result{}, false
}

func (p *run) contains() (Result, bool) {
	for _, mv := range p.order {
		if strings.Contains(p.lower, mv) {
			return Result{Kind: KindMove, Move: mv, Strategy: StrategyContains}, true
		}
	}
	return Result{}, false
}

func (p *run) castling() (Result, bool) {
	long := longCastle.MatchString(p.text)
	short := !long && shortCastle.MatchString(p.text)
	if !long && !short {
		return Result{}, false
	}
	var mv string
	if p.pos != nil {
		m, _ := rules.CastleMove(*p.pos, short)
		mv = m.String()
	} else if short {
		mv = "e1g1"
	} else {
		mv = "e1c1"
	}
	return p.accept(mv, StrategyCastling)
}

// coordinate normalizes a token like "E2-E4", "e7e8=Q" or "b1xc3".
func coordinate(tok string) (string, bool) {
	m := anchoredRe.FindStringSubmatch(strings.Trim(tok, decorations))
	if m == nil {
		return "", false
	}
	mv := strings.ToLower(m[1] + m[2] + strings.TrimPrefix(m[3], "="))
	if !rules.IsCoordinateMove(mv) {
		return "", false
	}
	return mv, true
}

func firstToken(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// Field returns the trimmed value of the first "NAME: value" line, matched
// case-insensitively with markdown decorations ignored.
func Field(text, name string) string {
	prefix := strings.ToLower(name) + ":"
	for _, line := range strings.Split(text, "\n") {
		l := strings.TrimLeft(strings.TrimSpace(line), "*_#-> ")
		if len(l) < len(prefix) || strings.ToLower(l[:len(prefix)]) != prefix {
			continue
		}
		return strings.TrimSpace(strings.Trim(strings.TrimSpace(l[len(prefix):]), "*_"))
	}
	return ""
}
