package rules

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ParseSAN decodes standard algebraic notation ("Nf3", "exd5", "O-O", "e8=Q+")
// against pos. Check and annotation marks are tolerated.
func ParseSAN(pos Position, text string) (Move, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimRight(s, "+#!?")
	s = strings.ReplaceAll(s, "0", "O")
	if s == "" {
		return Move{}, ErrMalformedMove
	}
	decoded, err := nchess.AlgebraicNotation{}.Decode(pos.game.Position(), s)
	if err != nil || decoded == nil {
		return Move{}, ErrMalformedMove
	}
	mv := Move{From: decoded.S1(), To: decoded.S2(), Promo: decoded.Promo()}
	if !pos.IsLegal(mv) {
		return mv, ErrIllegalMove
	}
	return mv, nil
}

// SAN encodes a legal move in standard algebraic notation.
func SAN(pos Position, mv Move) string {
	decoded, err := nchess.UCINotation{}.Decode(pos.game.Position(), mv.String())
	if err != nil {
		return mv.String()
	}
	return nchess.AlgebraicNotation{}.Encode(pos.game.Position(), decoded)
}

// CastleMove returns the king move for castling on the given wing for the side
// to move, and whether it is legal.
func CastleMove(pos Position, kingside bool) (Move, bool) {
	from, to := "e1", "g1"
	if !kingside {
		to = "c1"
	}
	if pos.Turn() == nchess.Black {
		from, to = "e8", strings.Replace(to, "1", "8", 1)
	}
	f, _ := ParseSquare(from)
	t, _ := ParseSquare(to)
	mv := Move{From: f, To: t, Promo: nchess.NoPieceType}
	return mv, pos.IsLegal(mv) && pos.IsCastle(mv)
}
