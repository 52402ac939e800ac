package oracle

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/Larswa/chess-combat/internal/prompt"
)

// Reply is one scripted mock answer.
type Reply struct {
	Text string
	Err  error
}

// Mock answers from a script. After the script runs out the last reply repeats.
type Mock struct {
	mu       sync.Mutex
	script   []Reply
	style    prompt.Style
	requests []Request
}

var _ Oracle = (*Mock)(nil)

// NewMock returns a chat-style mock.
func NewMock(script ...Reply) *Mock { return &Mock{script: script} }

// Texts is shorthand for a script of successful replies.
func Texts(texts ...string) []Reply {
	out := make([]Reply, len(texts))
	for i, t := range texts {
		out[i] = Reply{Text: t}
	}
	return out
}

// WithStyle sets the prompt style the mock advertises.
func (m *Mock) WithStyle(s prompt.Style) *Mock {
	m.style = s
	return m
}

func (m *Mock) PromptStyle() prompt.Style { return m.style }

func (m *Mock) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", callError(ctx, "mock", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	if len(m.script) == 0 {
		return "", nil
	}
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	r := m.script[idx]
	return r.Text, r.Err
}

// Calls returns the number of Complete calls so far.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

var candidatesLine = regexp.MustCompile(`(?m)^SUGGESTED CANDIDATES: ([a-h][1-8][a-h][1-8][qrbn]?)`)
var legalLine = regexp.MustCompile(`(?m)^LEGAL MOVES \(\d+ of \d+\): ([a-h][1-8][a-h][1-8][qrbn]?)`)

// Echo is an offline oracle for local runs. It answers with the first
// suggested candidate found in the prompt.
type Echo struct{}

func (Echo) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", callError(ctx, "echo", err)
	}
	text := req.System + "\n" + req.User
	for _, re := range []*regexp.Regexp{candidatesLine, legalLine} {
		if m := re.FindStringSubmatch(text); m != nil {
			return "MOVE: " + m[1] + "\nREASON: first suggestion\nSTRATEGY: follow the heuristics", nil
		}
	}
	return strings.TrimSpace("I am not sure what to play here."), nil
}
