// Package ranker scores legal moves with cheap positional heuristics. It is a
// prompt aid and the deterministic fallback of the move mediator; it performs
// no search.
package ranker

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/Larswa/chess-combat/internal/obslog"
	"github.com/Larswa/chess-combat/internal/rules"
)

// Scored is a legal move with its heuristic score.
type Scored struct {
	Move  rules.Move
	Score int
}

// Ranker scores moves. The zero value is not usable; call New.
type Ranker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Ranker whose error fallback samples with rng. A nil rng is
// seeded from the clock.
func New(rng *rand.Rand) *Ranker {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Ranker{rng: rng}
}

// Top returns the best k moves.
func (r *Ranker) Top(pos rules.Position, history []rules.Ply, k int) []rules.Move {
	scored := r.Rank(pos, history, k)
	out := make([]rules.Move, len(scored))
	for i, s := range scored {
		out[i] = s.Move
	}
	return out
}

// Rank returns the k highest scoring legal moves, best first. Ties keep the
// legal enumeration order. It never fails: on internal errors it returns up to
// k randomly sampled legal moves with zero scores.
func (r *Ranker) Rank(pos rules.Position, history []rules.Ply, k int) (out []Scored) {
	if k <= 0 || !pos.Valid() {
		return nil
	}
	legal := pos.LegalMoves()
	if len(legal) == 0 {
		return []Scored{}
	}
	defer func() {
		if rec := recover(); rec != nil {
			obslog.L().Warn("ranker_fallback_sample",
				zap.String("fen", pos.FEN()),
				zap.String("panic", fmt.Sprint(rec)),
			)
			out = r.sample(legal, k)
		}
	}()
	scored, err := scoreAll(pos, history, legal)
	if err != nil {
		obslog.L().Warn("ranker_fallback_sample", zap.String("fen", pos.FEN()), zap.Error(err))
		return r.sample(legal, k)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func (r *Ranker) sample(legal []rules.Move, k int) []Scored {
	r.mu.Lock()
	idx := r.rng.Perm(len(legal))
	r.mu.Unlock()
	if k > len(idx) {
		k = len(idx)
	}
	out := make([]Scored, k)
	for i := 0; i < k; i++ {
		out[i] = Scored{Move: legal[idx[i]]}
	}
	return out
}

func scoreAll(pos rules.Position, history []rules.Ply, legal []rules.Move) ([]Scored, error) {
	ctx := newContext(pos, history)
	out := make([]Scored, 0, len(legal))
	for _, mv := range legal {
		s, err := ctx.score(mv)
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", mv, err)
		}
		out = append(out, Scored{Move: mv, Score: s})
	}
	return out, nil
}

var (
	centerSquares   = squareSet("d4", "d5", "e4", "e5")
	extendedCenter  = squareSet("c3", "c4", "c5", "c6", "d3", "d6", "e3", "e6", "f3", "f4", "f5", "f6")
	centralAdvances = map[string]bool{"e2e4": true, "d2d4": true, "e7e5": true, "d7d5": true}
	promoBonus      = map[rules.PieceType]int{nchess.Queen: 20, nchess.Rook: 10, nchess.Bishop: 6, nchess.Knight: 6}
)

func squareSet(names ...string) map[rules.Square]bool {
	out := make(map[rules.Square]bool, len(names))
	for _, n := range names {
		sq, ok := rules.ParseSquare(n)
		if !ok {
			panic("ranker: bad square " + n)
		}
		out[sq] = true
	}
	return out
}

func isMinor(pt rules.PieceType) bool { return pt == nchess.Knight || pt == nchess.Bishop }

func isWingFile(sq rules.Square) bool {
	f := int(sq) % 8
	return f == 0 || f == 1 || f == 6 || f == 7
}
