package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/p-n-ai/pai-lingo/internal/ai"
	"github.com/p-n-ai/pai-lingo/internal/grading"
	"github.com/p-n-ai/pai-lingo/internal/learning"
	"github.com/p-n-ai/pai-lingo/internal/orchestrator"
	"github.com/p-n-ai/pai-lingo/internal/platform/cache"
	"github.com/p-n-ai/pai-lingo/internal/platform/config"
	"github.com/p-n-ai/pai-lingo/internal/platform/database"
	"github.com/p-n-ai/pai-lingo/internal/scheduler"
	"github.com/p-n-ai/pai-lingo/internal/synthesis"
)

const sweepLockKey = "learn:sweep:lock"

// app holds the wired engine and the resources it owns.
type app struct {
	cfg    *config.Config
	policy learning.Policy
	store  learning.Store
	cache  cache.Store
	engine *orchestrator.Orchestrator
	checks []check

	closers []func()
}

// newApp connects storage and builds the engine from configuration.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	policy, err := cfg.Engine.Policy()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, policy: policy}

	var events learning.EventLogger
	switch cfg.Store {
	case "memory":
		slog.Warn("using in-memory store; progress is lost on restart")
		a.store = learning.NewMemoryStore()
		events = learning.NewMemoryEventLogger()
	default:
		db, err := database.New(ctx, cfg.Database.URL, database.Options{
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.checks = append(a.checks, check{name: "database", fn: db.HealthCheck})
		if err := db.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		store, err := learning.NewPostgresStore(db.Pool)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
		events = learning.NewPostgresEventLogger(db.Pool)
	}

	router := ai.NewRouter()
	if cfg.Cache.URL == "" {
		a.cache = cache.NewMemory()
		router.SetBudget(ai.NewInMemoryBudget(cfg.AI.DailyTokenBudget))
	} else {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		a.closers = append(a.closers, func() { _ = c.Close() })
		a.cache = c
		router.SetBudget(ai.NewRedisBudget(c.Client, cfg.AI.DailyTokenBudget))
	}
	a.checks = append(a.checks, check{name: "cache", fn: a.cache.HealthCheck})

	registerProviders(router, cfg.AI)

	synth, err := newSynthesizer(cfg, router, policy)
	if err != nil {
		a.Close()
		return nil, err
	}

	var grader grading.Grader
	if cfg.AI.LLMGrading && cfg.HasAIProvider() {
		grader = grading.NewLLMGrader(router, cfg.AI.Language)
	}

	a.engine, err = orchestrator.New(orchestrator.Config{
		Store:            a.store,
		Synthesizer:      synth,
		Grader:           grader,
		Events:           events,
		Cache:            a.cache,
		Policy:           policy,
		SweepConcurrency: cfg.Engine.SweepConcurrency,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func registerProviders(router *ai.Router, cfg config.AIConfig) {
	if cfg.OpenAI.APIKey != "" {
		var opts []ai.OpenAIOption
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, ai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		opts = append(opts, ai.WithDefaultModel(cfg.OpenAI.Model))
		router.Register("openai", ai.NewOpenAIProvider(cfg.OpenAI.APIKey, opts...))
		slog.Info("AI provider registered", "provider", "openai")
	}
	if cfg.DeepSeek.APIKey != "" {
		router.Register("deepseek", ai.NewDeepSeekProvider(cfg.DeepSeek.APIKey))
		slog.Info("AI provider registered", "provider", "deepseek")
	}
}

// newSynthesizer chains the authored catalog ahead of the language model.
func newSynthesizer(cfg *config.Config, router *ai.Router, policy learning.Policy) (synthesis.Chain, error) {
	var chain synthesis.Chain
	if cfg.CurriculumPath != "" {
		catalog, err := synthesis.NewCatalogSynthesizer(cfg.CurriculumPath)
		switch {
		case err == nil:
			chain = append(chain, catalog)
		case errors.Is(err, os.ErrNotExist):
			slog.Warn("curriculum catalog not found", "path", cfg.CurriculumPath)
		default:
			return nil, err
		}
	}
	if cfg.HasAIProvider() {
		llm, err := synthesis.NewLLMSynthesizer(router, cfg.AI.Language, policy.AssessmentQuestions)
		if err != nil {
			return nil, err
		}
		chain = append(chain, llm)
	}
	if len(chain) == 0 {
		slog.Warn("no content source available; generation will stay pending")
	}
	return chain, nil
}

func (a *app) newRunner() *scheduler.Runner {
	e := a.cfg.Engine
	return scheduler.New(scheduler.Config{
		Sweeper:       a.engine,
		Lock:          cache.NewLock(a.cache, sweepLockKey, e.SweepInterval),
		SweepInterval: e.SweepInterval,
		Lookback:      e.SweepLookback,
		Retention:     e.ActivityRetention,
		Location:      a.policy.Location,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
