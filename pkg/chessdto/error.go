package chessdto

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest    = "bad_request"
	CodeNotFound      = "game_not_found"
	CodeFinished      = "game_finished"
	CodeUnknownEngine = "unknown_engine"
	CodeNoLegalMoves  = "no_legal_moves"
	CodeOracle        = "oracle_unavailable"
	CodeInternal      = "internal"
)

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
