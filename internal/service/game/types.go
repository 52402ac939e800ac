package game

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrGameNotFound     = errors.New("game not found")
	ErrGameFinished     = errors.New("game already finished")
	ErrResultAlreadySet = errors.New("game result already set")
	ErrUnknownEngine    = errors.New("unknown ai engine")
)

// Mode says who drives each side.
type Mode string

const (
	ModeHumanVsAI    Mode = "human-vs-ai"
	ModeAIVsAI       Mode = "ai-vs-ai"
	ModeHumanVsHuman Mode = "human-vs-human"
)

// ParseMode accepts the known modes in any case; anything else is human-vs-ai.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAIVsAI:
		return ModeAIVsAI
	case ModeHumanVsHuman:
		return ModeHumanVsHuman
	default:
		return ModeHumanVsAI
	}
}

// EngineRandom plays a uniformly random legal move without an oracle.
const EngineRandom = "random"

type Player struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Game is the persisted record plus its move log.
type Game struct {
	ID           string     `json:"id"`
	WhiteID      int64      `json:"white_id"`
	BlackID      int64      `json:"black_id"`
	WhiteName    string     `json:"white"`
	BlackName    string     `json:"black"`
	Mode         Mode       `json:"mode"`
	CreatedAt    time.Time  `json:"created_at"`
	Moves        []string   `json:"moves"`
	Result       string     `json:"result,omitempty"`
	Termination  string     `json:"termination,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	RulesRelaxed bool       `json:"rules_relaxed"`
}

// Finished reports whether a terminal result was recorded.
func (g *Game) Finished() bool { return g != nil && g.Result != "" }

func (g *Game) clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	c.Moves = append([]string(nil), g.Moves...)
	if g.FinishedAt != nil {
		t := *g.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// MovePair is one numbered row of a score sheet.
type MovePair struct {
	Number int    `json:"number"`
	White  string `json:"white"`
	Black  string `json:"black,omitempty"`
}

// Pairs groups a move log into numbered white/black rows.
func Pairs(moves []string) []MovePair {
	out := make([]MovePair, 0, (len(moves)+1)/2)
	for i := 0; i < len(moves); i += 2 {
		p := MovePair{Number: i/2 + 1, White: moves[i]}
		if i+1 < len(moves) {
			p.Black = moves[i+1]
		}
		out = append(out, p)
	}
	return out
}

// DefaultNames fills empty player names the way the shell labels them.
func DefaultNames(mode Mode, white, black, engineWhite, engineBlack string, humanWhite bool) (string, string) {
	white, black = strings.TrimSpace(white), strings.TrimSpace(black)
	switch mode {
	case ModeAIVsAI:
		if white == "" {
			white = "AI1_" + engineWhite
		}
		if black == "" {
			black = "AI2_" + engineBlack
		}
	case ModeHumanVsHuman:
		if white == "" {
			white = "Human1"
		}
		if black == "" {
			black = "Human2"
		}
	default:
		if humanWhite {
			if white == "" {
				white = "Human"
			}
			if black == "" {
				black = "AI_" + engineBlack
			}
		} else {
			if white == "" {
				white = "AI_" + engineWhite
			}
			if black == "" {
				black = "Human"
			}
		}
	}
	return white, black
}

// EventType names a feed event.
type EventType string

const (
	EventCreated  EventType = "game_created"
	EventMove     EventType = "move"
	EventInvalid  EventType = "invalid"
	EventFinished EventType = "finished"
)

// Event is published after every state change of a game.
type Event struct {
	Type     EventType `json:"type"`
	GameID   string    `json:"game_id"`
	Ply      int       `json:"ply,omitempty"`
	Side     string    `json:"side,omitempty"`
	Move     string    `json:"move,omitempty"`
	FEN      string    `json:"fen"`
	Status   string    `json:"status"`
	Fallback bool      `json:"fallback,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher receives game events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
