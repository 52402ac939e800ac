package chessdto

type NewGameRequest struct {
	Mode string `json:"mode"`
	// Color is the human's side in human-vs-ai games: "white" (default) or "black".
	Color    string `json:"color"`
	AIEngine string `json:"ai_engine"`
	White    string `json:"white"`
	Black    string `json:"black"`
	// WhiteEngine and BlackEngine name the engines of an ai-vs-ai game.
	WhiteEngine string `json:"white_engine"`
	BlackEngine string `json:"black_engine"`
}

type NewGameResponse struct {
	GameID string          `json:"game_id"`
	FEN    string          `json:"fen"`
	White  string          `json:"white"`
	Black  string          `json:"black"`
	Mode   string          `json:"mode"`
	Status string          `json:"status"`
	AIMove *AIMoveResponse `json:"ai_move,omitempty"`
}

type MoveRequest struct {
	GameID string `json:"game_id"`
	Move   string `json:"move"`
	// EnforceRules defaults to true when omitted.
	EnforceRules *bool  `json:"enforce_rules"`
	AIEngine     string `json:"ai_engine"`
}

type AIMoveRequest struct {
	GameID       string `json:"game_id"`
	AIEngine     string `json:"ai_engine"`
	EnforceRules *bool  `json:"enforce_rules"`
}

type AIVsAIRequest struct {
	GameID       string `json:"game_id"`
	WhiteEngine  string `json:"white_engine"`
	BlackEngine  string `json:"black_engine"`
	EnforceRules *bool  `json:"enforce_rules"`
	MaxPlies     int    `json:"max_plies"`
}

// Enforced resolves an optional enforce_rules flag.
func Enforced(v *bool) bool { return v == nil || *v }
