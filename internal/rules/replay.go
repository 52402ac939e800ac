package rules

import (
	"fmt"

	nchess "github.com/corentings/chess/v2"
)

// Ply is one applied move together with the piece that made it.
type Ply struct {
	Move     Move
	Piece    PieceType
	Side     Color
	Capture  bool
	Castle   bool
	FromHome bool
}

// PlyOf describes mv as played from pos. mv must be legal in pos.
func PlyOf(pos Position, mv Move) Ply {
	piece, _ := pos.PieceAt(mv.From)
	return Ply{
		Move:     mv,
		Piece:    piece.Type(),
		Side:     pos.Turn(),
		Capture:  pos.IsCapture(mv),
		Castle:   pos.IsCastle(mv),
		FromHome: IsHomeSquare(piece, mv.From),
	}
}

// Line is the outcome of replaying a move log.
type Line struct {
	Position Position
	Plies    []Ply
	// Skipped holds indexes of log entries that were not applied in tolerant mode.
	Skipped []int
}

// Replay applies moves from the initial position. In strict mode the first
// malformed or illegal entry aborts with an error wrapping ErrMalformedMove or
// ErrIllegalMove. Otherwise such entries are recorded in Skipped and the board
// stays where it was.
func Replay(moves []string, strict bool) (Line, error) {
	pos := StartPosition()
	line := Line{Position: pos, Plies: make([]Ply, 0, len(moves))}
	for i, text := range moves {
		mv, err := ParseCoordinateMove(text)
		if err == nil && !pos.IsLegal(mv) {
			err = fmt.Errorf("%w: %s", ErrIllegalMove, mv)
		}
		if err != nil {
			if strict {
				return line, fmt.Errorf("replay ply %d (%q): %w", i+1, text, err)
			}
			line.Skipped = append(line.Skipped, i)
			continue
		}
		ply := PlyOf(pos, mv)
		next, err := pos.Apply(mv)
		if err != nil {
			if strict {
				return line, fmt.Errorf("replay ply %d (%q): %w", i+1, text, err)
			}
			line.Skipped = append(line.Skipped, i)
			continue
		}
		pos = next
		line.Plies = append(line.Plies, ply)
	}
	line.Position = pos
	return line, nil
}

// IsHomeSquare reports whether sq is one of the starting squares for piece.
func IsHomeSquare(piece Piece, sq Square) bool {
	name := SquareName(sq)
	white := piece.Color() == nchess.White
	switch piece.Type() {
	case nchess.Knight:
		if white {
			return name == "b1" || name == "g1"
		}
		return name == "b8" || name == "g8"
	case nchess.Bishop:
		if white {
			return name == "c1" || name == "f1"
		}
		return name == "c8" || name == "f8"
	case nchess.Rook:
		if white {
			return name == "a1" || name == "h1"
		}
		return name == "a8" || name == "h8"
	case nchess.Queen:
		if white {
			return name == "d1"
		}
		return name == "d8"
	case nchess.King:
		if white {
			return name == "e1"
		}
		return name == "e8"
	case nchess.Pawn:
		rank := int(sq) / 8
		if white {
			return rank == 1
		}
		return rank == 6
	}
	return false
}
