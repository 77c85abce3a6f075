// Package app wires the ingestion service together: connections,
// repositories, resilience infrastructure, pipeline, scheduler, and the
// HTTP surface. It owns startup order and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/dealpipe/dealpipe/internal/api"
	"github.com/dealpipe/dealpipe/internal/breaker"
	"github.com/dealpipe/dealpipe/internal/config"
	"github.com/dealpipe/dealpipe/internal/dailycap"
	"github.com/dealpipe/dealpipe/internal/dedup"
	"github.com/dealpipe/dealpipe/internal/enrich"
	"github.com/dealpipe/dealpipe/internal/fetch"
	"github.com/dealpipe/dealpipe/internal/logger"
	"github.com/dealpipe/dealpipe/internal/metrics"
	"github.com/dealpipe/dealpipe/internal/pipeline"
	"github.com/dealpipe/dealpipe/internal/ratelimit"
	"github.com/dealpipe/dealpipe/internal/scheduler"
	"github.com/dealpipe/dealpipe/internal/store"
)

// shutdownGrace bounds the HTTP server drain during shutdown.
const shutdownGrace = 10 * time.Second

// App is the assembled ingestion service.
type App struct {
	cfg *config.Config
	log logger.Interface

	db        *sqlx.DB
	redis     *redis.Client
	breakers  *breaker.Registry
	limiter   *ratelimit.Limiter
	caps      *dailycap.Tracker
	collector *metrics.Collector
	scheduler *scheduler.Scheduler
	server    *api.Server
}

// New builds the full service graph from configuration.
func New(cfg *config.Config, log logger.Interface) (*App, error) {
	db, err := store.NewPostgresConnection(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(registry)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Ingestion.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Ingestion.Breaker.SuccessThreshold,
		ResetTimeout:     cfg.Ingestion.Breaker.ResetTimeout,
		MonitorWindow:    cfg.Ingestion.Breaker.MonitorWindow,
		OnStateChange: func(source string, from, to breaker.State) {
			log.Warn("circuit state changed",
				"source", source,
				"from", from.String(),
				"to", to.String(),
			)
			collector.SetCircuitState(source, circuitStateValue(to))
		},
	})

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		GlobalRequests: cfg.Ingestion.RateLimit.GlobalRequests,
		GlobalWindow:   cfg.Ingestion.RateLimit.GlobalWindow,
		SourceRequests: cfg.Ingestion.RateLimit.SourceRequests,
		SourceWindow:   cfg.Ingestion.RateLimit.SourceWindow,
	})

	caps := dailycap.NewTracker(dailycap.Config{
		Default:   cfg.Ingestion.DailyCap.Default,
		PerSource: capOverrides(cfg),
		OnChange:  collector.SetCapUsage,
	})

	var redisClient *redis.Client
	var cache enrich.Cache = enrich.NopCache{}
	var cachePing api.Pinger
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisCache := enrich.NewRedisCache(redisClient, cfg.App.Name+":")
		cache = redisCache
		cachePing = redisCache.Ping
	}

	httpClient := fetch.NewHTTPClient()

	companies := enrich.NewCompanyResolver(store.NewCompanyRepository(db), log)
	merchants := enrich.NewMerchantResolver(httpClient, cache, log)
	images := enrich.NewImageExtractor(httpClient, cache, log)

	engine := dedup.NewEngine(store.NewDedupLookup(db), dedup.Config{
		TitleSimilarityThreshold: cfg.Ingestion.Dedup.TitleSimilarityThreshold,
		PriceVarianceThreshold:   cfg.Ingestion.Dedup.PriceVarianceThreshold,
		LookbackDays:             cfg.Ingestion.Dedup.LookbackDays,
		MaxCandidates:            cfg.Ingestion.Dedup.MaxCandidates,
	}, log)

	validator := pipeline.NewValidator(cfg.Ingestion.Validation, log)

	processor := pipeline.NewProcessor(
		[]pipeline.Variant{
			pipeline.NewDealVariant(store.NewDealRepository(db), merchants, images, limiter, log),
			pipeline.NewCouponVariant(store.NewCouponRepository(db), log),
		},
		validator,
		caps,
		companies,
		engine,
		log,
	)

	fetchers := fetch.NewRegistry(fetch.NewRSSFetcher(httpClient, log))

	sched := scheduler.New(cfg, scheduler.Deps{
		Fetchers:  fetchers,
		Processor: processor,
		Runs:      store.NewRunRepository(db),
		Limiter:   limiter,
		Breakers:  breakers,
		Metrics:   collector,
		Log:       log,
	})

	server := api.NewServer(cfg.Server, cfg.App.Environment, api.Deps{
		Log:       log,
		DBPing:    func(ctx context.Context) error { return store.Ping(ctx, db) },
		CachePing: cachePing,
		Breakers:  breakers,
		Limiter:   limiter,
		Caps:      caps,
		Metrics:   collector,
		Registry:  registry,
		Version:   cfg.App.Version,
	})

	return &App{
		cfg:       cfg,
		log:       log,
		db:        db,
		redis:     redisClient,
		breakers:  breakers,
		limiter:   limiter,
		caps:      caps,
		collector: collector,
		scheduler: sched,
		server:    server,
	}, nil
}

// Scheduler exposes the scheduler for manual runs.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Run starts the scheduler and HTTP server and blocks until the context
// is cancelled, then shuts down gracefully: job dispatch stops first so
// in-flight runs can drain, then the HTTP surface, then connections.
func (a *App) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx, a.cfg.Ingestion.Queue.RunOnStartup); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	return a.shutdown()
}

func (a *App) shutdown() error {
	if err := a.scheduler.Stop(); err != nil {
		a.log.Warn("scheduler drain incomplete", "error", err.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http server shutdown incomplete", "error", err.Error())
	}

	a.Close()
	a.log.Info("shutdown complete")
	return nil
}

// Close releases connections. Safe to call after Run returns.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("closing postgres", "error", err.Error())
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("closing redis", "error", err.Error())
		}
	}
}

// capOverrides merges per-source daily cap overrides from both the
// ingestion section and individual source definitions; the source
// definition wins.
func capOverrides(cfg *config.Config) map[string]int {
	overrides := make(map[string]int, len(cfg.Ingestion.DailyCap.PerSource))
	for key, cap := range cfg.Ingestion.DailyCap.PerSource {
		overrides[key] = cap
	}
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.DailyCap != nil && *src.DailyCap > 0 {
			overrides[src.Key] = *src.DailyCap
		}
	}
	return overrides
}

func circuitStateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateClosed:
		return 0
	case breaker.StateHalfOpen:
		return 1
	case breaker.StateOpen:
		return 2
	default:
		return -1
	}
}
