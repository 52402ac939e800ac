package oracle

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Larswa/chess-combat/internal/prompt"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAI calls an OpenAI-compatible chat completions endpoint over fasthttp.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	tr      *jsonTransport
}

// NewOpenAI returns a client. An empty baseURL or model selects the defaults.
func NewOpenAI(baseURL, apiKey, model string, timeout time.Duration) *OpenAI {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		tr:      newJSONTransport("openai", timeout),
	}
}

func (c *OpenAI) PromptStyle() prompt.Style { return prompt.StyleChat }

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int          `json:"index"`
		Message      *chatMessage `json:"message,omitempty"`
		FinishReason string       `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code,omitempty"`
	} `json:"error"`
}

// Complete sends one non-streaming chat completion.
func (c *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", errors.Wrap(ErrAuth, "openai: api key not configured")
	}
	body := chatCompletionRequest{Model: c.model}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.User})
	if req.MaxTokens > 0 {
		body.MaxTokens = &req.MaxTokens
	}
	temp := req.Temperature
	body.Temperature = &temp

	var out chatCompletionResponse
	header := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := c.tr.postJSON(ctx, c.baseURL+"/v1/chat/completions", header, body, &out, c.statusError); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil {
		return "", errors.Wrap(ErrTransport, "openai: response has no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *OpenAI) statusError(status int, body []byte) error {
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != nil {
		return statusError("openai", status, er.Error.Message+" (type: "+er.Error.Type+")")
	}
	return statusError("openai", status, string(body))
}
