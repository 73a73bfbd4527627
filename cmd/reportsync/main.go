package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xelth-com/reportsync/internal/buildinfo"
	"github.com/xelth-com/reportsync/internal/config"
	"github.com/xelth-com/reportsync/internal/database"
	"github.com/xelth-com/reportsync/internal/executor"
	"github.com/xelth-com/reportsync/internal/handlers"
	"github.com/xelth-com/reportsync/internal/ledger"
	"github.com/xelth-com/reportsync/internal/logger"
	"github.com/xelth-com/reportsync/internal/mapping"
	"github.com/xelth-com/reportsync/internal/metrics"
	"github.com/xelth-com/reportsync/internal/metrics/datadog"
	"github.com/xelth-com/reportsync/internal/metrics/prom"
	"github.com/xelth-com/reportsync/internal/middleware"
	"github.com/xelth-com/reportsync/internal/models"
	"github.com/xelth-com/reportsync/internal/retry"
	"github.com/xelth-com/reportsync/internal/services/pipeline"
	"github.com/xelth-com/reportsync/internal/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	once := flag.Bool("once", false, "run a single pass and exit")
	printToken := flag.Bool("print-token", false, "print a read-only API token and exit")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of the token printed by -print-token")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *printToken {
		token, err := middleware.IssueToken(cfg.JWTSecret, "reportsync-cli", *tokenTTL)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog, *once); err != nil {
		zlog.Error("reportsync stopped with error", zap.Error(err))
		zlog.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger, once bool) error {
	info := buildinfo.Current()
	log.Info("starting reportsync",
		zap.String("version", info.Version),
		zap.String("commit", info.CommitHash),
		zap.String("driver", cfg.Database.Driver))

	// 2. Initialize database (embedded Postgres when no external one is configured)
	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	// Closing also stops embedded PostgreSQL
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("database close error", zap.Error(err))
		}
	}()

	// 3. Ledger tables only; business tables belong to their owners
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}

	promHandler, closeMetrics, err := setupMetrics(cfg)
	if err != nil {
		return err
	}
	defer closeMetrics()

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.InitialDelay = cfg.Retry.InitialDelay
	policy.MaxDelay = cfg.Retry.MaxDelay
	policy.Retryable = database.IsTransient
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("transient database error, retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}

	l := ledger.New(db.DB)
	hub := websocket.NewHub(log)

	gen := mapping.NewGenerator(db, l, log, mapping.Options{
		BatchSize:  cfg.Pipeline.MappingBatchSize,
		ParseCheck: cfg.Pipeline.ParseCheck,
		Retry:      policy,
	}).WithNotifier(hub)
	ex := executor.New(db, l, log, executor.Options{
		RowCap:      cfg.Pipeline.RowCap,
		BatchSize:   cfg.Pipeline.ExecutionBatchSize,
		StaleAfter:  cfg.Pipeline.StaleAfter,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		ParseCheck:  cfg.Pipeline.ParseCheck,
		Retry:       policy,
	}).WithNotifier(hub)
	svc := pipeline.NewService(gen, ex, l, log, pipeline.Config{
		PollInterval: cfg.Pipeline.PollInterval,
		Retry:        policy,
	}).WithNotifier(hub)

	if once {
		p, err := svc.RunPass(context.Background())
		if err != nil {
			return err
		}
		log.Info("single pass finished", zap.String("run_id", p.RunID), zap.String("status", p.Status))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. HTTP status API
	router := handlers.NewRouter(handlers.Deps{
		Ledger:    l,
		State:     svc.State(),
		Hub:       hub,
		Metrics:   promHandler,
		JWTSecret: cfg.JWTSecret,
		Log:       log,
	})
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty, the status API is unauthenticated")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		log.Info("status API listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("shutdown complete")
	return err
}

// setupMetrics installs the configured backend and returns the scrape
// handler when there is one
func setupMetrics(cfg *config.Config) (http.Handler, func(), error) {
	switch cfg.Metrics.Backend {
	case "prometheus":
		b, err := prom.NewBackend(prom.Config{
			JobName:        cfg.Metrics.Namespace,
			PushgatewayURL: cfg.Metrics.PushgatewayURL,
		})
		if err != nil {
			return nil, nil, err
		}
		metrics.SetBackend(b)
		return b.Handler(), func() { _ = b.Flush() }, nil
	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       cfg.Metrics.DatadogAddr,
			GlobalTags: []string{"service:" + cfg.Metrics.Namespace, "env:" + cfg.NodeEnv},
		})
		if err != nil {
			return nil, nil, err
		}
		metrics.SetBackend(b)
		return nil, func() { _ = b.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
