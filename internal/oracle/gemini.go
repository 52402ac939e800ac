package oracle

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/Larswa/chess-combat/internal/prompt"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-1.5-flash"
)

// Gemini calls the generateContent endpoint over fasthttp.
type Gemini struct {
	baseURL string
	apiKey  string
	model   string
	tr      *jsonTransport
}

// GeminiOption customizes a Gemini client.
type GeminiOption func(*Gemini)

func WithGeminiTimeout(d time.Duration) GeminiOption {
	return func(g *Gemini) {
		if d > 0 {
			g.tr.defaultTimeout = d
		}
	}
}

// WithGeminiRetry sets how many HTTP attempts one Complete may make on 5xx.
func WithGeminiRetry(max int) GeminiOption {
	return func(g *Gemini) { g.tr.retryMax = max }
}

func WithGeminiBaseURL(u string) GeminiOption {
	return func(g *Gemini) {
		if strings.TrimSpace(u) != "" {
			g.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func NewGemini(apiKey, model string, opts ...GeminiOption) *Gemini {
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiModel
	}
	g := &Gemini{
		baseURL: DefaultGeminiBaseURL,
		apiKey:  apiKey,
		model:   model,
		tr:      newJSONTransport("gemini", 15*time.Second),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gemini) PromptStyle() prompt.Style { return prompt.StyleSingle }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error *geminiError `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Complete sends one generateContent call, retrying 5xx answers with backoff.
func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(g.apiKey) == "" {
		return "", errors.Wrap(ErrAuth, "gemini: api key not configured")
	}
	var body geminiRequest
	body.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.User}}}}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	body.GenerationConfig.Temperature = req.Temperature
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens

	var out geminiResponse
	if err := g.tr.postJSON(ctx, g.endpoint(), nil, body, &out, g.statusError); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 {
		return "", errors.Wrap(ErrTransport, "gemini: response has no candidates")
	}
	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String()), nil
}

func (g *Gemini) endpoint() string {
	return g.baseURL + "/v1beta/models/" + url.PathEscape(g.model) + ":generateContent?key=" + url.QueryEscape(g.apiKey)
}

func (g *Gemini) statusError(status int, body []byte) error {
	var er geminiResponse
	if json.Unmarshal(body, &er) == nil && er.Error != nil {
		// An invalid key comes back as 400 INVALID_ARGUMENT.
		if status == fasthttp.StatusBadRequest && strings.Contains(strings.ToLower(er.Error.Message), "api key") {
			status = fasthttp.StatusUnauthorized
		}
		return statusError("gemini", status, er.Error.Status+": "+er.Error.Message)
	}
	return statusError("gemini", status, string(body))
}
