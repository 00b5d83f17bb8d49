package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/claimguard/internal/api"
	"github.com/opensource-finance/claimguard/internal/bus"
	"github.com/opensource-finance/claimguard/internal/cache"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/metrics"
	"github.com/opensource-finance/claimguard/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scoring HTTP API and the async worker",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("starting claimguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"threshold", cfg.Decision.Threshold,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	p, err := buildPipeline(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer p.Close()

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, p.scorer)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.TenantIDs}); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
		slog.Info("async worker started", "tenant_count", len(cfg.Worker.TenantIDs))
	} else {
		slog.Info("async worker disabled, POST /score/async will answer 503")
	}

	srv := api.NewServer(cfg.Server, api.Options{
		Repo:        p.repo,
		Cache:       cacheImpl,
		Bus:         busImpl,
		Worker:      asyncWorker,
		Scorer:      p.scorer,
		Engine:      p.engine,
		Metrics:     m,
		RateLimit:   cfg.RateLimit,
		Idempotency: cfg.Idempotency,
		Version:     Version,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	slog.Info("claimguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"model_version", p.scorer.ModelVersion(),
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-serverErr:
		slog.Error("server failed", "error", err)
		return err
	}

	slog.Info("shutting down...")

	// Stop consuming before the transport closes.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("claimguard shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                CLAIMGUARD                 |")
	fmt.Println("  |       Insurance claim fraud scoring       |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:   %s\n", version)
	fmt.Printf("  Server:    http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Threshold: %.2f\n", cfg.Decision.Threshold)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score                  - Score a claim")
	fmt.Println("    POST /score/async            - Queue a claim for the worker")
	fmt.Println("    GET  /scores/{id}            - Get an audited decision")
	fmt.Println("    GET  /customers/{id}/scores  - List a customer's decisions")
	fmt.Println("    POST /customers/records      - Append customer history")
	fmt.Println("    GET  /rules                  - List adjustment rules")
	fmt.Println("    POST /rules                  - Create or replace a rule")
	fmt.Println("    POST /rules/reload           - Hot-reload rules from database")
	fmt.Println("    GET  /health, /ready, /metrics")
	fmt.Println()
}
