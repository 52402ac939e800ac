package rules

import (
	"fmt"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Termination is the reason a game ended.
type Termination string

const (
	TerminationNone                 Termination = ""
	TerminationCheckmate            Termination = "checkmate"
	TerminationStalemate            Termination = "stalemate"
	TerminationInsufficientMaterial Termination = "insufficient-material"
	TerminationOtherDraw            Termination = "other-draw"
)

// Position is an immutable chess position. The zero value is not usable; build
// one with StartPosition, FromFEN or Apply.
type Position struct {
	game  *nchess.Game
	fen   string
	legal []Move
	tags  map[Move]moveTags
}

type moveTags struct {
	capture   bool
	check     bool
	castle    bool
	enPassant bool
}

// StartPosition returns the standard initial position.
func StartPosition() Position {
	pos, err := FromFEN(StartFEN)
	if err != nil {
		panic(err)
	}
	return pos
}

// FromFEN parses a FEN string.
func FromFEN(fen string) (Position, error) {
	fen = strings.TrimSpace(fen)
	if len(strings.Fields(fen)) != 6 {
		return Position{}, fmt.Errorf("parse fen %q: expected 6 fields", fen)
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return Position{}, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return newPosition(nchess.NewGame(opt)), nil
}

func newPosition(g *nchess.Game) Position {
	p := Position{game: g, fen: g.FEN(), tags: make(map[Move]moveTags)}
	if g.Outcome() != nchess.NoOutcome {
		return p
	}
	for _, vm := range g.ValidMoves() {
		mv := Move{From: vm.S1(), To: vm.S2(), Promo: vm.Promo()}
		p.legal = append(p.legal, mv)
		p.tags[mv] = moveTags{
			capture:   vm.HasTag(nchess.Capture) || vm.HasTag(nchess.EnPassant),
			check:     vm.HasTag(nchess.Check),
			castle:    vm.HasTag(nchess.KingSideCastle) || vm.HasTag(nchess.QueenSideCastle),
			enPassant: vm.HasTag(nchess.EnPassant),
		}
	}
	return p
}

// FEN returns the position encoded as FEN.
func (p Position) FEN() string { return p.fen }

// Valid reports whether p was constructed by this package.
func (p Position) Valid() bool { return p.game != nil }

// Turn is the side to move.
func (p Position) Turn() Color { return p.game.Position().Turn() }

// SideName is "White" or "Black".
func (p Position) SideName() string { return ColorName(p.Turn()) }

// ColorName renders a color as "White" or "Black".
func ColorName(c Color) string {
	if c == nchess.Black {
		return "Black"
	}
	return "White"
}

// PieceAt returns the piece on sq.
func (p Position) PieceAt(sq Square) (Piece, bool) {
	piece := p.game.Position().Board().Piece(sq)
	return piece, piece != nchess.NoPiece
}

// Pieces returns every occupied square.
func (p Position) Pieces() map[Square]Piece {
	return p.game.Position().Board().SquareMap()
}

// Castling returns the FEN castling field, "-" when no rights remain.
func (p Position) Castling() string { return p.fenField(2) }

// EnPassant returns the FEN en passant field.
func (p Position) EnPassant() string { return p.fenField(3) }

// HalfMoveClock returns the FEN half-move clock.
func (p Position) HalfMoveClock() int {
	n, _ := strconv.Atoi(p.fenField(4))
	return n
}

// FullMoveNumber returns the FEN full-move number.
func (p Position) FullMoveNumber() int {
	n, err := strconv.Atoi(p.fenField(5))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// PlyIndex is the number of plies played since the initial position,
// derived from the full-move number and the side to move.
func (p Position) PlyIndex() int {
	ply := (p.FullMoveNumber() - 1) * 2
	if p.Turn() == nchess.Black {
		ply++
	}
	return ply
}

func (p Position) fenField(i int) string {
	f := strings.Fields(p.fen)
	if i >= len(f) {
		return ""
	}
	return f[i]
}

// LegalMoves returns every legal move in library enumeration order.
func (p Position) LegalMoves() []Move {
	out := make([]Move, len(p.legal))
	copy(out, p.legal)
	return out
}

// IsLegal reports whether mv is legal in p.
func (p Position) IsLegal(mv Move) bool {
	_, ok := p.tags[mv]
	return ok
}

// IsCapture reports whether the legal move mv captures, en passant included.
func (p Position) IsCapture(mv Move) bool { return p.tags[mv].capture }

// IsCastle reports whether the legal move mv castles.
func (p Position) IsCastle(mv Move) bool { return p.tags[mv].castle }

// IsEnPassant reports whether the legal move mv captures en passant.
func (p Position) IsEnPassant(mv Move) bool { return p.tags[mv].enPassant }

// GivesCheck reports whether the legal move mv gives check.
func (p Position) GivesCheck(mv Move) bool { return p.tags[mv].check }

// Apply plays mv and returns the resulting position. p is left untouched.
func (p Position) Apply(mv Move) (Position, error) {
	if !p.IsLegal(mv) {
		return Position{}, fmt.Errorf("%w: %s", ErrIllegalMove, mv)
	}
	g := p.game.Clone()
	decoded, err := nchess.UCINotation{}.Decode(g.Position(), mv.String())
	if err != nil {
		return Position{}, fmt.Errorf("%w: %s: %v", ErrIllegalMove, mv, err)
	}
	if err := g.Move(decoded, nil); err != nil {
		return Position{}, fmt.Errorf("%w: %s: %v", ErrIllegalMove, mv, err)
	}
	return newPosition(g), nil
}

// ApplyText parses and plays a coordinate move.
func (p Position) ApplyText(text string) (Position, Move, error) {
	mv, err := ParseCoordinateMove(text)
	if err != nil {
		return Position{}, Move{}, err
	}
	next, err := p.Apply(mv)
	if err != nil {
		return Position{}, mv, err
	}
	return next, mv, nil
}

// IsTerminal reports whether the game is over in p.
func (p Position) IsTerminal() bool {
	return p.game.Outcome() != nchess.NoOutcome || len(p.legal) == 0
}

// TerminalReason classifies a terminal position.
func (p Position) TerminalReason() Termination {
	if !p.IsTerminal() {
		return TerminationNone
	}
	switch p.game.Method() {
	case nchess.Checkmate:
		return TerminationCheckmate
	case nchess.Stalemate:
		return TerminationStalemate
	case nchess.InsufficientMaterial:
		return TerminationInsufficientMaterial
	}
	if len(p.legal) == 0 && p.game.Outcome() == nchess.NoOutcome {
		if p.InCheck() {
			return TerminationCheckmate
		}
		return TerminationStalemate
	}
	return TerminationOtherDraw
}

// Result returns "1-0", "0-1" or "1/2-1/2" for terminal positions and "" otherwise.
func (p Position) Result() string {
	if !p.IsTerminal() {
		return ""
	}
	switch p.game.Outcome() {
	case nchess.WhiteWon:
		return "1-0"
	case nchess.BlackWon:
		return "0-1"
	case nchess.Draw:
		return "1/2-1/2"
	}
	if p.TerminalReason() == TerminationCheckmate {
		if p.Turn() == nchess.White {
			return "0-1"
		}
		return "1-0"
	}
	return "1/2-1/2"
}

// InCheck reports whether the side to move is in check.
func (p Position) InCheck() bool {
	side := p.Turn()
	for sq, piece := range p.Pieces() {
		if piece.Type() == nchess.King && piece.Color() == side {
			return p.attackedBy(sq, opponent(side))
		}
	}
	return false
}

// Material sums piece values per color using pawn=1 knight=3 bishop=3 rook=5 queen=9.
func (p Position) Material() (white, black int) {
	for _, piece := range p.Pieces() {
		v := PieceValue(piece.Type())
		if piece.Color() == nchess.White {
			white += v
		} else {
			black += v
		}
	}
	return white, black
}

// PieceCount is the number of pieces on the board.
func (p Position) PieceCount() int { return len(p.Pieces()) }

// PieceValue is the conventional material value; the king is 0.
func PieceValue(pt PieceType) int {
	switch pt {
	case nchess.Pawn:
		return 1
	case nchess.Knight, nchess.Bishop:
		return 3
	case nchess.Rook:
		return 5
	case nchess.Queen:
		return 9
	}
	return 0
}

func opponent(c Color) Color {
	if c == nchess.White {
		return nchess.Black
	}
	return nchess.White
}
