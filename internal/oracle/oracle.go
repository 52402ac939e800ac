// Package oracle talks to text-completion providers. Every provider maps its
// failures onto the sentinel errors below so callers can decide whether a
// retry can help.
package oracle

import (
	"context"
	"net"
	"net/http"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/Larswa/chess-combat/internal/prompt"
)

var (
	// ErrAuth means credentials are missing or rejected. Retrying cannot help.
	ErrAuth = errors.New("oracle: authentication failed")
	// ErrRateLimit means the provider throttled the request.
	ErrRateLimit = errors.New("oracle: rate limited")
	// ErrTransport covers network failures, 5xx answers and undecodable bodies.
	ErrTransport = errors.New("oracle: transport failure")
	// ErrTimeout means the call ran past its deadline.
	ErrTimeout = errors.New("oracle: timeout")
)

// Request is one completion call.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// FromPrompt builds a Request from a rendered prompt.
func FromPrompt(p prompt.Prompt, maxTokens int, temperature float64) Request {
	return Request{System: p.System, User: p.User, MaxTokens: maxTokens, Temperature: temperature}
}

// Oracle completes a prompt with free text.
type Oracle interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Styled is implemented by oracles that prefer a particular prompt layout.
type Styled interface {
	PromptStyle() prompt.Style
}

// StyleOf returns o's preferred prompt style, StyleChat by default.
func StyleOf(o Oracle) prompt.Style {
	if s, ok := o.(Styled); ok {
		return s.PromptStyle()
	}
	return prompt.StyleChat
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Retryable reports whether another attempt might succeed.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrAuth)
}

// statusError classifies a non-2xx HTTP status.
func statusError(provider string, status int, detail string) error {
	var base error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		base = ErrAuth
	case status == http.StatusTooManyRequests:
		base = ErrRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		base = ErrTimeout
	default:
		base = ErrTransport
	}
	return errors.Wrapf(base, "%s api error [%d]: %s", provider, status, truncate(detail, 512))
}

// callError classifies an error returned before any HTTP status was seen.
func callError(ctx context.Context, provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return errors.Wrapf(ErrTimeout, "%s: %v", provider, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errors.Wrapf(ErrTimeout, "%s: %v", provider, err)
	}
	if errors.Is(err, context.Canceled) {
		return errors.WithMessage(err, provider)
	}
	return errors.Wrapf(ErrTransport, "%s: %v", provider, err)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
