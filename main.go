package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fathomlab/fathom/internal/activities"
	"github.com/fathomlab/fathom/internal/capabilities"
	"github.com/fathomlab/fathom/internal/config"
	"github.com/fathomlab/fathom/internal/httpapi"
	"github.com/fathomlab/fathom/internal/ratecontrol"
	"github.com/fathomlab/fathom/internal/streaming"
	"github.com/fathomlab/fathom/internal/tracing"
	"github.com/fathomlab/fathom/internal/workflows"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = config.DefaultPath
	}

	watcher, err := config.NewWatcher(cfgPath, zap.NewNop())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := watcher.Current()

	logger, err := buildLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := watcher.Start(); err != nil {
		logger.Warn("config hot-reload unavailable", zap.Error(err))
	}
	defer watcher.Stop()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Observability.Tracing.Enabled,
		ServiceName:  cfg.Observability.Tracing.ServiceName,
		OTLPEndpoint: cfg.Observability.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("tracing unavailable, continuing without it", zap.Error(err))
	}

	events := streaming.NewManager(cfg.Streaming.RingCapacity, logger)
	if cfg.Streaming.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Streaming.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, progress events stay in-process only", zap.Error(err))
		} else {
			events.SetSink(streaming.NewRedisSink(rdb, cfg.Streaming.Redis.StreamPrefix, cfg.Streaming.Redis.MaxLen, logger))
			defer rdb.Close()
		}
	}

	// Metrics, liveness, and progress SSE on one admin listener.
	if cfg.Observability.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		httpapi.NewStreamingHandler(events, logger).RegisterRoutes(mux)
		srv := &http.Server{
			Addr:         ":" + strconv.Itoa(cfg.Observability.Metrics.Port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", zap.Int("port", cfg.Observability.Metrics.Port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Per-provider search rate limits, hot-reloaded alongside the main file.
	rateCfg, err := ratecontrol.LoadConfig(cfg.Capabilities.RateLimitsFile)
	if err != nil {
		logger.Warn("rate limit config unreadable, using defaults", zap.Error(err))
	}
	limits := ratecontrol.NewRegistry(rateCfg, logger)
	watcher.OnChange(func(c *config.Config) {
		if rc, err := ratecontrol.LoadConfig(c.Capabilities.RateLimitsFile); err == nil {
			limits.Reload(rc)
		}
	})

	planner, err := capabilities.NewHTTPPlanner(cfg.Capabilities.Planner, logger)
	if err != nil {
		logger.Fatal("planner capability misconfigured", zap.Error(err))
	}
	searcher, err := capabilities.NewHTTPSearcher(cfg.Capabilities.Search, logger)
	if err != nil {
		logger.Fatal("search capability misconfigured", zap.Error(err))
	}

	acts := activities.New(activities.Options{
		Generator:    planner,
		Searcher:     searcher,
		RateLimits:   limits,
		ProviderName: cfg.Capabilities.Provider,
		Events:       events,
		Logger:       logger,
	})

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		logger.Fatal("temporal endpoint unreachable", zap.Error(err))
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.DeepResearchWorkflow)
	w.RegisterActivity(acts.PlanSubQueries)
	w.RegisterActivity(acts.ExecuteBranch)
	w.RegisterActivity(acts.EmitResearchUpdate)

	logger.Info("research worker starting",
		zap.String("task_queue", cfg.Temporal.TaskQueue),
		zap.String("temporal", cfg.Temporal.HostPort),
		zap.Int("concurrency_limit", cfg.Research.ConcurrencyLimit),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(worker.InterruptCh()) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		w.Stop()
	case err := <-errCh:
		if err != nil {
			logger.Fatal("worker stopped", zap.Error(err))
		}
	}
	logger.Info("research worker stopped")
}

func buildLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	var zc zap.Config
	if format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
