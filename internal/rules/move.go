package rules

import (
	"errors"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	// ErrMalformedMove is returned when text is not a coordinate move.
	ErrMalformedMove = errors.New("malformed move")
	// ErrIllegalMove is returned when a well-formed move is not legal in the position.
	ErrIllegalMove = errors.New("illegal move")
)

type (
	Square    = nchess.Square
	PieceType = nchess.PieceType
	Color     = nchess.Color
	Piece     = nchess.Piece
)

// Move is a coordinate move. Two moves are equal iff their String forms match.
type Move struct {
	From  Square
	To    Square
	Promo PieceType
}

func (m Move) String() string {
	var b strings.Builder
	b.Grow(5)
	b.WriteString(SquareName(m.From))
	b.WriteString(SquareName(m.To))
	if l := promoLetter(m.Promo); l != 0 {
		b.WriteByte(l)
	}
	return b.String()
}

// IsZero reports whether m is the zero value.
func (m Move) IsZero() bool { return m == Move{} }

// SquareName renders a square as "e4".
func SquareName(sq Square) string {
	i := int(sq)
	if i < 0 || i > 63 {
		return "--"
	}
	return string([]byte{byte('a' + i%8), byte('1' + i/8)})
}

// ParseSquare parses "e4" style square names, case-insensitive.
func ParseSquare(s string) (Square, bool) {
	if len(s) != 2 {
		return 0, false
	}
	f := lower(s[0])
	r := s[1]
	if f < 'a' || f > 'h' || r < '1' || r > '8' {
		return 0, false
	}
	return nchess.NewSquare(nchess.File(f-'a'), nchess.Rank(r-'1')), true
}

// ParseCoordinateMove parses "e2e4" or "e7e8q". Surrounding space and case are ignored.
func ParseCoordinateMove(text string) (Move, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if len(s) != 4 && len(s) != 5 {
		return Move{}, ErrMalformedMove
	}
	from, ok := ParseSquare(s[0:2])
	if !ok {
		return Move{}, ErrMalformedMove
	}
	to, ok := ParseSquare(s[2:4])
	if !ok || from == to {
		return Move{}, ErrMalformedMove
	}
	mv := Move{From: from, To: to, Promo: nchess.NoPieceType}
	if len(s) == 5 {
		pt, ok := promoFromLetter(s[4])
		if !ok {
			return Move{}, ErrMalformedMove
		}
		mv.Promo = pt
	}
	return mv, nil
}

// IsCoordinateMove reports whether text is a syntactically valid coordinate move.
func IsCoordinateMove(text string) bool {
	_, err := ParseCoordinateMove(text)
	return err == nil
}

// AutoPromote appends "q" to a 4-character move that puts a pawn of the side to
// move on its last rank. Moves with a promotion piece, or anything else, are
// returned unchanged.
func AutoPromote(pos Position, text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	if len(s) != 4 {
		return s
	}
	mv, err := ParseCoordinateMove(s)
	if err != nil {
		return s
	}
	piece, ok := pos.PieceAt(mv.From)
	if !ok || piece.Type() != nchess.Pawn {
		return s
	}
	rank := int(mv.To) / 8
	if (piece.Color() == nchess.White && rank == 7) || (piece.Color() == nchess.Black && rank == 0) {
		return s + "q"
	}
	return s
}

func promoLetter(pt PieceType) byte {
	switch pt {
	case nchess.Queen:
		return 'q'
	case nchess.Rook:
		return 'r'
	case nchess.Bishop:
		return 'b'
	case nchess.Knight:
		return 'n'
	}
	return 0
}

func promoFromLetter(c byte) (PieceType, bool) {
	switch lower(c) {
	case 'q':
		return nchess.Queen, true
	case 'r':
		return nchess.Rook, true
	case 'b':
		return nchess.Bishop, true
	case 'n':
		return nchess.Knight, true
	}
	return nchess.NoPieceType, false
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
