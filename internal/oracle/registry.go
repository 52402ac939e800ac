package oracle

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Config selects and configures providers.
type Config struct {
	Mock bool

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	GeminiKey     string
	GeminiBaseURL string
	GeminiModel   string

	Timeout time.Duration
}

// Registry maps engine names to oracles.
type Registry struct {
	mu      sync.RWMutex
	oracles map[string]Oracle
}

func NewRegistry() *Registry { return &Registry{oracles: make(map[string]Oracle)} }

// NewRegistryFromConfig registers "openai" and "gemini". With Mock set both
// names resolve to the offline Echo oracle.
func NewRegistryFromConfig(cfg Config) *Registry {
	r := NewRegistry()
	if cfg.Mock {
		r.Register("openai", Echo{})
		r.Register("gemini", Echo{})
		r.Register("mock", Echo{})
		return r
	}
	r.Register("openai", NewOpenAI(cfg.OpenAIBaseURL, cfg.OpenAIKey, cfg.OpenAIModel, cfg.Timeout))
	r.Register("gemini", NewGemini(cfg.GeminiKey, cfg.GeminiModel,
		WithGeminiBaseURL(cfg.GeminiBaseURL),
		WithGeminiTimeout(cfg.Timeout),
	))
	return r
}

// Register adds or replaces an engine. Names are case-insensitive.
func (r *Registry) Register(name string, o Oracle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oracles[normalize(name)] = o
}

// Get returns the oracle registered under name.
func (r *Registry) Get(name string) (Oracle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.oracles[normalize(name)]
	return o, ok
}

// Names lists registered engines in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.oracles))
	for k := range r.oracles {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }
