// Command oraclecheck asks each configured provider for one move from the
// initial position and reports what the mediator made of the answer.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Larswa/chess-combat/internal/config"
	"github.com/Larswa/chess-combat/internal/mediator"
	"github.com/Larswa/chess-combat/internal/msgcat"
	"github.com/Larswa/chess-combat/internal/oracle"
	"github.com/Larswa/chess-combat/internal/prompt"
	"github.com/Larswa/chess-combat/internal/ranker"
	"github.com/Larswa/chess-combat/internal/rules"
)

func main() {
	cfg, err := config.Load()
	if cfg == nil {
		log.Fatalf("config: %v", err)
	}
	if err != nil {
		log.Printf("config: %v", err)
	}
	engines := os.Args[1:]
	if len(engines) == 0 {
		engines = []string{"openai", "gemini"}
	}

	reg := oracle.NewRegistryFromConfig(oracle.Config{
		Mock:          cfg.LLMMock,
		OpenAIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
		GeminiKey:     cfg.GeminiAPIKey,
		GeminiBaseURL: cfg.GeminiBaseURL,
		GeminiModel:   cfg.GeminiModel,
		Timeout:       cfg.LLMTimeout(),
	})
	cat, err := msgcat.New(cfg.PromptTemplateDir)
	if err != nil {
		log.Fatalf("prompt catalog: %v", err)
	}
	rk := ranker.New(nil)
	med := mediator.New(mediator.Config{
		MaxAttempts:    cfg.MediatorMaxAttempts,
		AttemptTimeout: cfg.LLMTimeout(),
		MaxTokens:      cfg.LLMMaxTokens,
		Temperature:    cfg.LLMTemperature,
	}, nil, prompt.NewBuilder(cat, rk, cfg.RankerCandidates), rk, nil)

	failed := 0
	for _, name := range engines {
		o, ok := reg.Get(name)
		if !ok {
			log.Printf("%s: not registered", name)
			failed++
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.MediatorMaxAttempts+1)*cfg.LLMTimeout())
		start := time.Now()
		res, err := med.Mediate(ctx, mediator.Request{Position: rules.StartPosition(), RulesEnforced: true, Oracle: o})
		cancel()
		if err != nil {
			log.Printf("%s: error: %v", name, err)
			failed++
			continue
		}
		fmt.Printf("%s: move=%s attempts=%d fallback=%v elapsed=%s\n", name, res.Move, len(res.Attempts), res.Fallback, time.Since(start).Round(time.Millisecond))
		if res.OracleErrors != nil {
			fmt.Printf("  oracle errors: %v\n", res.OracleErrors)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
