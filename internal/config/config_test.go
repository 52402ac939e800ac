package config

import (
	"errors"
	"testing"
	"time"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{"LLM_MOCK": "true"}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.HTTPAddr != ":8000" || cfg.LLMMaxTokens != 150 || cfg.LLMTemperature != 0.2 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.MediatorMaxAttempts != 3 || cfg.RankerCandidates != 8 {
		t.Fatalf("mediation defaults = %+v", cfg)
	}
	if cfg.LLMTimeout() != 15*time.Second || cfg.SessionTTL() != time.Hour {
		t.Fatalf("durations = %v %v", cfg.LLMTimeout(), cfg.SessionTTL())
	}
}

func TestFromEnvParsesAndClamps(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{
		"OPENAI_API_KEY":        " sk-test ",
		"PORT":                  "9000",
		"DATABASE_URL":          "sqlite:chess.db",
		"LLM_TIMEOUT_SEC":       "abc",
		"LLM_TEMPERATURE":       "5",
		"MEDIATOR_MAX_ATTEMPTS": "0",
		"RANKER_CANDIDATES":     "50",
		"APP_VERSION":           "1.2.3",
		"WS_ORIGIN_PATTERNS":    "localhost:3000, *.example.com,,",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.OpenAIAPIKey != "sk-test" || cfg.HTTPAddr != ":9000" || cfg.DatabaseURL != "sqlite:chess.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.LLMTimeoutSec != 15 {
		t.Fatalf("bad number should keep default, got %d", cfg.LLMTimeoutSec)
	}
	if cfg.LLMTemperature != 2 || cfg.MediatorMaxAttempts != 1 || cfg.RankerCandidates != 8 {
		t.Fatalf("clamping = %+v", cfg)
	}
	if cfg.AppVersion != "1.2.3" {
		t.Fatalf("version = %s", cfg.AppVersion)
	}
	if len(cfg.WSOriginPatterns) != 2 || cfg.WSOriginPatterns[1] != "*.example.com" {
		t.Fatalf("origin patterns = %q", cfg.WSOriginPatterns)
	}
}

func TestFromEnvWithoutProvider(t *testing.T) {
	cfg, err := FromEnv(envOf(nil))
	if !errors.Is(err, ErrNoProvider) || cfg == nil {
		t.Fatalf("cfg = %v err = %v", cfg, err)
	}
}
