package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"dev.helix.ensemble/internal/analysis"
	"dev.helix.ensemble/internal/cache"
	"dev.helix.ensemble/internal/config"
	"dev.helix.ensemble/internal/events"
	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/middleware"
	"dev.helix.ensemble/internal/observability"
	"dev.helix.ensemble/internal/pipeline"
	"dev.helix.ensemble/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "ensembled:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Server.Mode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	registry, err := llm.NewRegistry(cfg.ProviderDefinitions(), cfg.RegistryConfig(), logger)
	if err != nil {
		return fmt.Errorf("build provider registry: %w", err)
	}

	store, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("build cache store: %w", err)
	}
	cacheService := cache.NewService(store, logger)
	defer func() { _ = cacheService.Close() }()

	limiter := middleware.NewRateLimiter(cfg.AdmissionConfig(), logger)
	defer limiter.Close()

	bus := events.NewBus(events.DefaultBusConfig())
	defer func() { _ = bus.Close() }()

	promRegistry := prometheus.NewRegistry()
	metrics := observability.New(promRegistry)

	manager := analysis.NewManager(logger)
	for _, name := range cfg.Analysis.ModulesEnabled {
		weight, ok := cfg.Analysis.ModuleWeights[name]
		if !ok {
			weight = 1.0
		}
		switch name {
		case "consensus":
			manager.Register(analysis.NewConsensusModule(), weight)
		case "coverage":
			manager.Register(analysis.NewCoverageModule(), weight)
		case "judge":
			manager.Register(analysis.NewJudgeModule(logger), weight)
		default:
			logger.Warn("unknown analysis module in config", zap.String("module", name))
		}
	}

	opts := []pipeline.Option{
		pipeline.WithCache(cacheService),
		pipeline.WithBus(bus),
		pipeline.WithAnalysisManager(manager),
	}
	if cfg.Pipeline.TraceEnabled {
		opts = append(opts, pipeline.WithTrace(pipeline.NewTraceWriter(cfg.Pipeline.TraceDir, logger)))
	}

	orchestrator := pipeline.New(registry, pipeline.Config{
		DefaultPattern: cfg.Pipeline.DefaultPattern,
		RequestTimeout: cfg.RequestTimeout(),
	}, logger, opts...)

	srv := server.New(server.Deps{
		Registry:     registry,
		Orchestrator: orchestrator,
		Patterns:     pipeline.DefaultPatternSet(),
		Bus:          bus,
		Limiter:      limiter,
		Metrics:      metrics,
		PromRegistry: promRegistry,
		Mode:         cfg.Server.Mode,
	}, logger)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	logger.Info("ensembled listening",
		zap.String("addr", addr),
		zap.Strings("providers", registry.Names()),
		zap.String("cache_backend", cfg.Cache.Backend))
	return srv.Run(addr)
}

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newStore(cfg *config.Config) (cache.Store, error) {
	if cfg.Cache.Backend == "redis" {
		return cache.NewRedisStore(context.Background(),
			cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.CacheStoreConfig())
	}
	return cache.NewMemoryStore(cfg.CacheStoreConfig()), nil
}
