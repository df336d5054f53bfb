package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/covenantwatch/covenantwatch/internal/assessment"
	"github.com/covenantwatch/covenantwatch/internal/backend"
	"github.com/covenantwatch/covenantwatch/internal/cache"
	"github.com/covenantwatch/covenantwatch/internal/config"
	"github.com/covenantwatch/covenantwatch/internal/covenant"
	"github.com/covenantwatch/covenantwatch/internal/llm"
	"github.com/covenantwatch/covenantwatch/internal/logger"
	"github.com/covenantwatch/covenantwatch/internal/monitor"
	"github.com/covenantwatch/covenantwatch/internal/news"
	"github.com/covenantwatch/covenantwatch/internal/risk"
	"github.com/covenantwatch/covenantwatch/internal/session"
	"github.com/covenantwatch/covenantwatch/internal/storage"
	"github.com/covenantwatch/covenantwatch/pkg/models"
	"github.com/covenantwatch/covenantwatch/pkg/retry"
)

// app holds every component a command may need, built once from the config.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *storage.Storage
	cache    cache.Cache
	sessions *session.Store
	eval     *covenant.Evaluator
	agg      *risk.Aggregator
	assessor *assessment.Assessor
	gemini   *llm.GeminiProvider
	backend  *backend.Client
	scanner  *news.Scanner
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.L()

	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, store: store}

	a.sessions = session.NewStore(store, log)
	if _, err := a.sessions.Load(ctx); err != nil {
		log.Warn("could not restore session", zap.Error(err))
	}

	a.cache, err = cache.New(ctx, cfg.Cache, log)
	if err != nil {
		// The cache only saves model calls; run without it.
		log.Warn("cache unavailable, continuing without it", zap.String("backend", cfg.Cache.Backend), zap.Error(err))
		a.cache = nil
	}

	a.eval = covenant.NewEvaluator(
		covenant.WithWarningMargin(cfg.Health.WarningMarginPct),
		covenant.WithStableBand(cfg.Health.StableBandPct),
		covenant.WithMissingDataStatus(models.HealthStatus(cfg.Health.MissingDataStatus)),
		covenant.WithLogger(log),
	)
	a.agg = risk.NewAggregator(
		risk.WithRecentWindow(time.Duration(cfg.Risk.RecentWindowDays)*24*time.Hour),
		risk.WithHalfLife(time.Duration(cfg.Risk.HalfLifeDays*24)*time.Hour),
		risk.WithTrendMargin(cfg.Risk.TrendMargin),
		risk.WithHighRiskScore(cfg.Risk.HighRiskScore),
	)

	var gen llm.Generator
	if cfg.AIEnabled() {
		p, err := llm.NewGeminiProvider(cfg.LLM.GeminiKey,
			llm.WithGeminiBaseURL(cfg.LLM.BaseURL),
			llm.WithGeminiModel(cfg.LLM.Model),
			llm.WithGeminiGeneration(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
			llm.WithGeminiHTTPClient(httpClient(cfg.LLM.TimeoutSec)),
			llm.WithGeminiRetry(retry.Config{
				MaxAttempts:    cfg.LLM.Retry.MaxAttempts,
				InitialDelay:   cfg.LLM.Retry.InitialDelay(),
				MaxDelay:       cfg.LLM.Retry.MaxDelay(),
				Multiplier:     cfg.LLM.Retry.Multiplier,
				JitterFraction: cfg.LLM.Retry.Jitter,
			}),
			llm.WithGeminiLogger(log),
		)
		if err != nil {
			return nil, fmt.Errorf("gemini setup failed: %w", err)
		}
		gen = p
		a.gemini = p
	} else {
		log.Info("no Gemini key configured, AI features disabled")
	}
	opts := []assessment.AssessorOption{assessment.WithLogger(log)}
	if a.cache != nil {
		opts = append(opts, assessment.WithCache(a.cache))
	}
	a.assessor = assessment.NewAssessor(assessment.NewClient(gen, log), a.agg, opts...)

	if cfg.Backend.BaseURL != "" {
		a.backend, err = backend.New(cfg.Backend.BaseURL,
			backend.WithHTTPClient(httpClient(cfg.Backend.TimeoutSec)),
			backend.WithTokenSource(a.sessions),
			backend.WithStaticToken(cfg.Backend.APIToken),
			backend.WithPageSize(cfg.Backend.PageSize),
			backend.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
	}

	a.scanner = news.NewScanner(cfg.News, news.WithLogger(log))
	return a, nil
}

// monitor builds a contract monitor; alerts are printed by the caller.
func (a *app) monitor(opts ...monitor.Option) *monitor.Monitor {
	base := []monitor.Option{
		monitor.WithAssessor(a.assessor, a.cfg.Monitor.UseAI),
		monitor.WithConcurrency(a.cfg.Monitor.Concurrency),
		monitor.WithAuditLog(a.cfg.Monitor.AuditLog),
		monitor.WithLogger(a.log),
	}
	if a.backend != nil {
		base = append(base, monitor.WithBackend(a.backend))
	}
	return monitor.New(a.store, a.eval, a.agg, append(base, opts...)...)
}

// requireBackend fails commands that only make sense against the backend.
func (a *app) requireBackend() error {
	if a.backend == nil {
		return errors.New("backend.base_url is not configured")
	}
	return nil
}

func (a *app) Close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	_ = a.store.Close()
}
