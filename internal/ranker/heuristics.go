package ranker

import (
	nchess "github.com/corentings/chess/v2"

	"github.com/Larswa/chess-combat/internal/rules"
)

// scoring holds what every move evaluation of one position shares.
type scoring struct {
	pos  rules.Position
	ply  int
	side rules.Color
	// own holds this side's previous plies, most recent last.
	own       []rules.Ply
	developed int
	// developedAt tracks squares of minor pieces that already left home.
	developedAt map[rules.Square]bool
}

func newContext(pos rules.Position, history []rules.Ply) *scoring {
	side := pos.Turn()
	s := &scoring{
		pos:         pos,
		ply:         pos.PlyIndex(),
		side:        side,
		developedAt: make(map[rules.Square]bool),
	}
	if len(history) > s.ply {
		s.ply = len(history)
	}
	for _, p := range history {
		if p.Side == side {
			s.own = append(s.own, p)
		}
	}
	for sq, piece := range pos.Pieces() {
		if piece.Color() != side {
			continue
		}
		switch piece.Type() {
		case nchess.Knight, nchess.Bishop, nchess.Rook, nchess.Queen:
			if !rules.IsHomeSquare(piece, sq) {
				s.developed++
				if isMinor(piece.Type()) {
					s.developedAt[sq] = true
				}
			}
		}
	}
	return s
}

// before reports whether the position is earlier than ply n.
func (s *scoring) before(n int) bool { return s.ply < n }

func (s *scoring) score(mv rules.Move) (int, error) {
	piece, ok := s.pos.PieceAt(mv.From)
	if !ok {
		return 0, rules.ErrIllegalMove
	}
	pt := piece.Type()
	next, err := s.pos.Apply(mv)
	if err != nil {
		return 0, err
	}

	score := 0
	capturedValue := 0
	if s.pos.IsCapture(mv) {
		if s.pos.IsEnPassant(mv) {
			capturedValue = 1
		} else if victim, ok := s.pos.PieceAt(mv.To); ok {
			capturedValue = rules.PieceValue(victim.Type())
		}
		score += 10 * capturedValue
	}

	if next.TerminalReason() == rules.TerminationCheckmate {
		score += 1000
	} else if s.pos.GivesCheck(mv) || next.InCheck() {
		score += 15
	}

	if isMinor(pt) {
		if centerSquares[mv.To] {
			score += 8
		} else if extendedCenter[mv.To] {
			score += 4
		}
	}

	if mv.Promo != nchess.NoPieceType {
		score += promoBonus[mv.Promo]
	}

	castle := s.pos.IsCastle(mv)
	if castle {
		score += 20
	}

	if pt == nchess.Pawn && s.before(8) && centralAdvances[mv.String()] {
		score += 25
	}

	if pt == nchess.Pawn && s.before(12) && isWingFile(mv.To) && s.developed < 2 {
		score -= 25
	}

	if pt == nchess.Queen && s.before(6) {
		score -= 15
	}

	if s.before(8) && len(s.own) > 0 && s.own[len(s.own)-1].Piece == pt {
		score -= 8
	}

	if pt == nchess.King && !castle && s.before(10) {
		score -= 20
	}

	if pt == nchess.Knight && s.shuffles(mv) {
		score -= 30
	}

	if isMinor(pt) && s.before(12) {
		if s.developedAt[mv.From] {
			score -= 12
		}
		if rules.IsHomeSquare(piece, mv.From) {
			score += 6
		}
	}

	if pt == nchess.Pawn && s.before(12) && s.pawnHeavy() {
		score -= 15
	}

	if attackedAfter(next, mv.To) && capturedValue < attackValue(pt) {
		score -= 3 * attackValue(pt)
	}
	return score, nil
}

// shuffles reports a knight heading back to a square one of this side's last
// two plies vacated.
func (s *scoring) shuffles(mv rules.Move) bool {
	n := len(s.own)
	for i := n - 1; i >= 0 && i >= n-2; i-- {
		if s.own[i].Piece == nchess.Knight && s.own[i].Move.From == mv.To {
			return true
		}
	}
	return false
}

// pawnHeavy reports three or more pawn moves against at most one development
// move over this side's last three plies.
func (s *scoring) pawnHeavy() bool {
	n := len(s.own)
	if n < 3 {
		return false
	}
	pawns, dev := 0, 0
	for _, p := range s.own[n-3:] {
		switch {
		case p.Piece == nchess.Pawn:
			pawns++
		case isMinor(p.Piece) && p.FromHome:
			dev++
		}
	}
	return pawns >= 3 && dev <= 1
}

// attackedAfter reports whether the side to move in next can capture on sq.
func attackedAfter(next rules.Position, sq rules.Square) bool {
	for _, reply := range next.LegalMoves() {
		if reply.To == sq {
			return true
		}
	}
	return false
}

func attackValue(pt rules.PieceType) int {
	if pt == nchess.King {
		return 100
	}
	return rules.PieceValue(pt)
}
