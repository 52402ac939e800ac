package chessdto

// Attempt is one oracle answer considered during AI move selection.
type Attempt struct {
	Index   int    `json:"index"`
	Text    string `json:"text"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

type MoveResponse struct {
	FEN     string          `json:"fen"`
	Status  string          `json:"status"`
	Move    string          `json:"move,omitempty"`
	Moves   []string        `json:"moves"`
	Invalid bool            `json:"invalid,omitempty"`
	AIMove  *AIMoveResponse `json:"ai_move,omitempty"`
}

type AIMoveResponse struct {
	FEN         string    `json:"fen"`
	Status      string    `json:"status"`
	Move        string    `json:"move"`
	Attempts    []Attempt `json:"attempts"`
	Fallback    bool      `json:"fallback"`
	Unvalidated bool      `json:"unvalidated,omitempty"`
	Invalid     bool      `json:"invalid,omitempty"`
}

type InvalidMove struct {
	Ply    int    `json:"ply"`
	Side   string `json:"side"`
	Move   string `json:"move"`
	FEN    string `json:"fen"`
	Reason string `json:"reason"`
}

type AIVsAIResponse struct {
	GameID       string        `json:"game_id"`
	FEN          string        `json:"fen"`
	Status       string        `json:"status"`
	MoveHistory  []string      `json:"move_history"`
	AIMoves      []string      `json:"ai_moves"`
	InvalidMoves []InvalidMove `json:"invalid_moves"`
	Fallbacks    int           `json:"fallbacks"`
	GameOver     bool          `json:"game_over"`
	Result       *string       `json:"result"`
}
