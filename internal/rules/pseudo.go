package rules

import (
	"sort"

	nchess "github.com/corentings/chess/v2"
)

var (
	knightSteps = [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps   = [][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	rookDirs    = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	bishopDirs  = [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

// PseudoLegalMoves returns the legal moves plus every move that follows piece
// movement rules but may leave the mover's king in check. Castling only
// appears when legal.
func (p Position) PseudoLegalMoves() []Move {
	out := p.LegalMoves()
	seen := make(map[Move]struct{}, len(out))
	for _, mv := range out {
		seen[mv] = struct{}{}
	}
	extra := p.geometricMoves(p.Turn())
	for _, mv := range extra {
		if _, ok := seen[mv]; ok {
			continue
		}
		seen[mv] = struct{}{}
		out = append(out, mv)
	}
	return out
}

// IsPseudoLegal reports whether mv is in PseudoLegalMoves.
func (p Position) IsPseudoLegal(mv Move) bool {
	if p.IsLegal(mv) {
		return true
	}
	for _, cand := range p.geometricMoves(p.Turn()) {
		if cand == mv {
			return true
		}
	}
	return false
}

// Threat is an own piece the opponent can capture.
type Threat struct {
	Square    Square
	Piece     PieceType
	Attackers int
}

// Threats lists the side to move's pieces that the opponent attacks, most
// valuable first.
func (p Position) Threats() []Threat {
	side := p.Turn()
	counts := make(map[Square]int)
	for _, mv := range p.geometricMoves(opponent(side)) {
		if piece, ok := p.PieceAt(mv.To); ok && piece.Color() == side && mv.Promo != nchess.Rook && mv.Promo != nchess.Bishop && mv.Promo != nchess.Knight {
			counts[mv.To]++
		}
	}
	out := make([]Threat, 0, len(counts))
	for sq, n := range counts {
		piece, _ := p.PieceAt(sq)
		out = append(out, Threat{Square: sq, Piece: piece.Type(), Attackers: n})
	}
	sort.Slice(out, func(i, j int) bool {
		vi, vj := threatValue(out[i].Piece), threatValue(out[j].Piece)
		if vi != vj {
			return vi > vj
		}
		return out[i].Square < out[j].Square
	})
	return out
}

func threatValue(pt PieceType) int {
	if pt == nchess.King {
		return 100
	}
	return PieceValue(pt)
}

func (p Position) attackedBy(target Square, by Color) bool {
	board := p.Pieces()
	for sq, piece := range board {
		if piece.Color() != by {
			continue
		}
		if attacks(board, sq, piece, target) {
			return true
		}
	}
	return false
}

func attacks(board map[Square]Piece, from Square, piece Piece, target Square) bool {
	ff, fr := int(from)%8, int(from)/8
	tf, tr := int(target)%8, int(target)/8
	df, dr := tf-ff, tr-fr
	switch piece.Type() {
	case nchess.Pawn:
		dir := 1
		if piece.Color() == nchess.Black {
			dir = -1
		}
		return dr == dir && (df == 1 || df == -1)
	case nchess.Knight:
		for _, s := range knightSteps {
			if s[0] == df && s[1] == dr {
				return true
			}
		}
		return false
	case nchess.King:
		return abs(df) <= 1 && abs(dr) <= 1 && (df != 0 || dr != 0)
	case nchess.Rook:
		return (df == 0 || dr == 0) && clearPath(board, ff, fr, tf, tr)
	case nchess.Bishop:
		return abs(df) == abs(dr) && df != 0 && clearPath(board, ff, fr, tf, tr)
	case nchess.Queen:
		return (df == 0 || dr == 0 || abs(df) == abs(dr)) && (df != 0 || dr != 0) && clearPath(board, ff, fr, tf, tr)
	}
	return false
}

func clearPath(board map[Square]Piece, ff, fr, tf, tr int) bool {
	sf, sr := sign(tf-ff), sign(tr-fr)
	f, r := ff+sf, fr+sr
	for f != tf || r != tr {
		if _, ok := board[squareAt(f, r)]; ok {
			return false
		}
		f += sf
		r += sr
	}
	return true
}

func (p Position) geometricMoves(side Color) []Move {
	board := p.Pieces()
	ep, hasEP := ParseSquare(p.EnPassant())
	froms := make([]Square, 0, 16)
	for sq, piece := range board {
		if piece.Color() == side {
			froms = append(froms, sq)
		}
	}
	sort.Slice(froms, func(i, j int) bool { return froms[i] < froms[j] })

	var out []Move
	add := func(from Square, f, r int) bool {
		if f < 0 || f > 7 || r < 0 || r > 7 {
			return false
		}
		to := squareAt(f, r)
		if occ, ok := board[to]; ok {
			if occ.Color() != side {
				out = append(out, Move{From: from, To: to, Promo: nchess.NoPieceType})
			}
			return false
		}
		out = append(out, Move{From: from, To: to, Promo: nchess.NoPieceType})
		return true
	}
	for _, from := range froms {
		piece := board[from]
		f, r := int(from)%8, int(from)/8
		switch piece.Type() {
		case nchess.Pawn:
			out = append(out, pawnMoves(board, side, from, f, r, ep, hasEP)...)
		case nchess.Knight:
			for _, s := range knightSteps {
				add(from, f+s[0], r+s[1])
			}
		case nchess.King:
			for _, s := range kingSteps {
				add(from, f+s[0], r+s[1])
			}
		case nchess.Rook, nchess.Bishop, nchess.Queen:
			var dirs [][2]int
			if piece.Type() != nchess.Bishop {
				dirs = append(dirs, rookDirs...)
			}
			if piece.Type() != nchess.Rook {
				dirs = append(dirs, bishopDirs...)
			}
			for _, d := range dirs {
				for i := 1; i < 8 && add(from, f+d[0]*i, r+d[1]*i); i++ {
				}
			}
		}
	}
	return out
}

func pawnMoves(board map[Square]Piece, side Color, from Square, f, r int, ep Square, hasEP bool) []Move {
	dir, startRank, lastRank := 1, 1, 7
	if side == nchess.Black {
		dir, startRank, lastRank = -1, 6, 0
	}
	var out []Move
	push := func(to Square) {
		if int(to)/8 == lastRank {
			for _, pt := range []PieceType{nchess.Queen, nchess.Rook, nchess.Bishop, nchess.Knight} {
				out = append(out, Move{From: from, To: to, Promo: pt})
			}
			return
		}
		out = append(out, Move{From: from, To: to, Promo: nchess.NoPieceType})
	}
	nr := r + dir
	if nr < 0 || nr > 7 {
		return nil
	}
	one := squareAt(f, nr)
	if _, blocked := board[one]; !blocked {
		push(one)
		if r == startRank {
			two := squareAt(f, r+2*dir)
			if _, blocked := board[two]; !blocked {
				push(two)
			}
		}
	}
	for _, df := range []int{-1, 1} {
		nf := f + df
		if nf < 0 || nf > 7 {
			continue
		}
		to := squareAt(nf, nr)
		if occ, ok := board[to]; ok && occ.Color() != side {
			push(to)
		} else if hasEP && to == ep {
			push(to)
		}
	}
	return out
}

func squareAt(f, r int) Square { return nchess.NewSquare(nchess.File(f), nchess.Rank(r)) }

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
