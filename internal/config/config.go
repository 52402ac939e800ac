package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	HTTPAddr string

	// DatabaseURL is a postgres:// URL, "sqlite:<path>", or empty for memory.
	DatabaseURL string
	// RedisURL selects the Redis session store; empty keeps sessions in memory.
	RedisURL string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	LLMMock        bool
	LLMTimeoutSec  int
	LLMMaxTokens   int
	LLMTemperature float64

	MediatorMaxAttempts int
	RankerCandidates    int

	SessionTTLSec     int
	PromptTemplateDir string

	// WSOriginPatterns allows cross-origin websocket watchers (host patterns).
	WSOriginPatterns []string

	BuildDate      string
	BuildTimestamp string
	AppVersion     string
}

func (c *AppConfig) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}

func (c *AppConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSec) * time.Second
}

// Load reads the environment, after merging an optional .env file.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds the config from getenv. Unparsable numbers keep their
// defaults and out-of-range ones are clamped.
func FromEnv(getenv func(string) string) (*AppConfig, error) {
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }
	cfg := &AppConfig{
		HTTPAddr:            ":8000",
		LLMTimeoutSec:       15,
		LLMMaxTokens:        150,
		LLMTemperature:      0.2,
		MediatorMaxAttempts: 3,
		RankerCandidates:    8,
		SessionTTLSec:       3600,
		AppVersion:          "dev",
	}

	if v := get("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	} else if v := get("PORT"); v != "" {
		cfg.HTTPAddr = ":" + v
	}
	cfg.DatabaseURL = get("DATABASE_URL")
	cfg.RedisURL = get("REDIS_URL")

	cfg.OpenAIAPIKey = get("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = get("OPENAI_BASE_URL")
	cfg.OpenAIModel = get("OPENAI_MODEL")
	cfg.GeminiAPIKey = get("GEMINI_API_KEY")
	cfg.GeminiBaseURL = get("GEMINI_BASE_URL")
	cfg.GeminiModel = get("GEMINI_MODEL")

	if v := get("LLM_MOCK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LLMMock = b
		}
	}
	cfg.LLMTimeoutSec = intEnv(get("LLM_TIMEOUT_SEC"), cfg.LLMTimeoutSec, 1, 120)
	cfg.LLMMaxTokens = intEnv(get("LLM_MAX_TOKENS"), cfg.LLMMaxTokens, 16, 4096)
	if v := get("LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLMTemperature = clampFloat(f, 0, 2)
		}
	}
	cfg.MediatorMaxAttempts = intEnv(get("MEDIATOR_MAX_ATTEMPTS"), cfg.MediatorMaxAttempts, 1, 10)
	cfg.RankerCandidates = intEnv(get("RANKER_CANDIDATES"), cfg.RankerCandidates, 1, 8)
	cfg.SessionTTLSec = intEnv(get("SESSION_TTL_SEC"), cfg.SessionTTLSec, 60, 7*24*3600)
	cfg.PromptTemplateDir = get("PROMPT_TEMPLATE_DIR")
	for _, p := range strings.Split(get("WS_ORIGIN_PATTERNS"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.WSOriginPatterns = append(cfg.WSOriginPatterns, p)
		}
	}

	cfg.BuildDate = get("BUILD_DATE")
	cfg.BuildTimestamp = get("BUILD_TIMESTAMP")
	if v := get("APP_VERSION"); v != "" {
		cfg.AppVersion = v
	}

	if !cfg.LLMMock && cfg.OpenAIAPIKey == "" && cfg.GeminiAPIKey == "" {
		return cfg, ErrNoProvider
	}
	return cfg, nil
}

// ErrNoProvider is returned together with a usable config when no oracle
// credentials are set; only the random engine will work.
var ErrNoProvider = errors.New("no OPENAI_API_KEY or GEMINI_API_KEY set and LLM_MOCK is off")

func intEnv(v string, def, lo, hi int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func clampFloat(f, lo, hi float64) float64 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}
