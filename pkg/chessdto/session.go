package chessdto

import "time"

type MaterialScore struct {
	White int `json:"white"`
	Black int `json:"black"`
}

type GameView struct {
	ID           string         `json:"id"`
	White        string         `json:"white"`
	Black        string         `json:"black"`
	WhiteID      int64          `json:"white_id"`
	BlackID      int64          `json:"black_id"`
	Mode         string         `json:"mode"`
	CreatedAt    time.Time      `json:"created_at"`
	FEN          string         `json:"fen,omitempty"`
	Status       string         `json:"status,omitempty"`
	SideToMove   string         `json:"side_to_move,omitempty"`
	Opening      string         `json:"opening,omitempty"`
	Moves        []string       `json:"moves,omitempty"`
	Material     *MaterialScore `json:"material,omitempty"`
	Result       string         `json:"result,omitempty"`
	Termination  string         `json:"termination,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	RulesRelaxed bool           `json:"rules_relaxed"`
}

type GamesResponse struct {
	Games []GameView `json:"games"`
}

type MovePair struct {
	Number int    `json:"move_number"`
	White  string `json:"white"`
	Black  string `json:"black,omitempty"`
}

type MovesResponse struct {
	GameID string     `json:"game_id"`
	Moves  []MovePair `json:"moves"`
}

type SessionStats struct {
	ActiveSessions int            `json:"active_sessions"`
	ByEngine       map[string]int `json:"sessions_by_engine"`
	TotalMoves     int            `json:"total_moves"`
	AverageMoves   float64        `json:"average_moves_per_session"`
}

type SweepResponse struct {
	Evicted int `json:"evicted"`
}

type VersionResponse struct {
	Name                string `json:"name"`
	Version             string `json:"version"`
	BuildDate           string `json:"build_date"`
	DeploymentTimestamp string `json:"deployment_timestamp"`
}
