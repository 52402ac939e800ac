package rules

import (
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

// Opening is a named ECO opening.
type Opening struct {
	Code  string
	Title string
}

func (o Opening) String() string {
	if o.Code == "" {
		return o.Title
	}
	return o.Title + " (" + o.Code + ")"
}

// Opening identifies the ECO opening reached by the applied plies. It
// reports false for an empty line and for lines the book does not know.
func (l Line) Opening() (Opening, bool) {
	if len(l.Plies) == 0 {
		return Opening{}, false
	}
	g := nchess.NewGame()
	for _, ply := range l.Plies {
		mv, err := nchess.UCINotation{}.Decode(g.Position(), ply.Move.String())
		if err != nil {
			return Opening{}, false
		}
		if err := g.Move(mv, nil); err != nil {
			return Opening{}, false
		}
	}
	ecoOnce.Do(func() { ecoBook = opening.NewBookECO() })
	found := ecoBook.Find(g.Moves())
	if found == nil {
		return Opening{}, false
	}
	return Opening{Code: found.Code(), Title: found.Title()}, true
}
