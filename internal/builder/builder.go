// Package builder wires the service graph from configuration.
package builder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Larswa/chess-combat/internal/config"
	"github.com/Larswa/chess-combat/internal/feed"
	"github.com/Larswa/chess-combat/internal/mediator"
	"github.com/Larswa/chess-combat/internal/msgcat"
	"github.com/Larswa/chess-combat/internal/oracle"
	"github.com/Larswa/chess-combat/internal/prompt"
	"github.com/Larswa/chess-combat/internal/ranker"
	"github.com/Larswa/chess-combat/internal/service/game"
	"github.com/Larswa/chess-combat/internal/session"
)

type Deps struct {
	Service  *game.Service
	Mediator *mediator.Mediator
	Oracles  *oracle.Registry
	Sessions session.Store
	Repo     game.Repository
	Hub      *feed.Hub

	redis *redis.Client
}

func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{Hub: feed.NewHub(cfg.WSOriginPatterns...)}

	cat, err := msgcat.New(cfg.PromptTemplateDir)
	if err != nil {
		return nil, fmt.Errorf("load prompt catalog: %w", err)
	}

	// Sessions: Redis when configured, otherwise in-process.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			return nil, fmt.Errorf("parse redis url: %w", perr)
		}
		d.redis = redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.redis.Ping(ctx).Err(); err != nil {
			_ = d.redis.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		d.Sessions = session.NewRedisStore(d.redis, cfg.SessionTTL(), nil)
		logger.Info("session_store", zap.String("backend", "redis"))
	} else {
		d.Sessions = session.NewMemoryStore(nil)
		logger.Info("session_store", zap.String("backend", "memory"))
	}

	d.Repo, err = game.OpenRepository(cfg.DatabaseURL)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("open repository: %w", err)
	}

	d.Oracles = oracle.NewRegistryFromConfig(oracle.Config{
		Mock:          cfg.LLMMock,
		OpenAIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
		GeminiKey:     cfg.GeminiAPIKey,
		GeminiBaseURL: cfg.GeminiBaseURL,
		GeminiModel:   cfg.GeminiModel,
		Timeout:       cfg.LLMTimeout(),
	})
	logger.Info("oracles_registered", zap.Strings("engines", d.Oracles.Names()), zap.Bool("mock", cfg.LLMMock))

	rk := ranker.New(nil)
	d.Mediator = mediator.New(mediator.Config{
		MaxAttempts:    cfg.MediatorMaxAttempts,
		AttemptTimeout: cfg.LLMTimeout(),
		MaxTokens:      cfg.LLMMaxTokens,
		Temperature:    cfg.LLMTemperature,
	}, nil, prompt.NewBuilder(cat, rk, cfg.RankerCandidates), rk, d.Sessions)

	d.Service, err = game.NewService(d.Repo, d.Mediator, d.Oracles, cat,
		game.WithPublisher(d.Hub),
		game.WithSessions(d.Sessions),
	)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// Close releases the repository and the Redis client.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	var errs *multierror.Error
	if d.Repo != nil {
		if err := d.Repo.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close repository: %w", err))
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errs.ErrorOrNil()
}
