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

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/ruletable"
	"github.com/opensource-finance/harrier/internal/worker"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *domain.Config) error {
	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or HARRIER_JWT_SECRET) is required to serve")
	}

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"persist_results", cfg.PersistResults,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		otel.SetTextMapPropagator(propagation.TraceContext{})
		slog.Info("trace context propagation enabled", "service", cfg.Tracing.ServiceName)
	}

	tables, err := ruletable.LoadWithOverrides(cfg.RuleTableDir)
	if err != nil {
		return fmt.Errorf("failed to load rule tables: %w", err)
	}
	slog.Info("rule tables loaded", "years", tables.Years(), "latest", tables.Latest())

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

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

	engine, err := rules.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	defer engine.Close()

	// A broken stored rule must not keep the API down; it can be fixed and reloaded.
	if count, err := engine.ReloadFrom(ctx, repo); err != nil {
		slog.Warn("failed to load custom audit rules", "error", err)
	} else {
		slog.Info("rule engine initialized", "rules_count", count)
	}

	scheduler, err := scheduleRuleReload(ctx, cfg.AuditRules.ReloadSchedule, engine, repo)
	if err != nil {
		return err
	}
	if scheduler != nil {
		defer func() { <-scheduler.Stop().Done() }()
	}

	var persister *worker.Worker
	if cfg.PersistResults {
		persister = worker.NewWorker(busImpl, repo, cacheImpl, worker.Config{CacheTTL: cfg.Cache.ResultTTL})
		if err := persister.Start(); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		slog.Info("persistence worker started", "topic", domain.TopicComputationCompleted)
	}

	handler := api.NewHandler(pipeline.NewProcessor(tables, engine), engine, api.Options{
		Repo:           repo,
		Cache:          cacheImpl,
		Bus:            busImpl,
		Version:        Version,
		ResultTTL:      cfg.Cache.ResultTTL,
		PersistResults: cfg.PersistResults,
	})
	srv := api.NewServer(cfg, handler)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop the worker after the server so in-flight publishes are drained.
	if persister != nil {
		if err := persister.Stop(); err != nil {
			slog.Error("failed to stop worker", "error", err)
		}
	}

	slog.Info("harrier shutdown complete")
	return nil
}

// scheduleRuleReload reloads custom audit rules on schedule. An empty schedule
// schedules nothing and returns a nil cron.
func scheduleRuleReload(ctx context.Context, schedule string, engine *rules.Engine, src rules.RuleSource) (*cron.Cron, error) {
	if schedule == "" {
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		count, err := engine.ReloadFrom(ctx, src)
		if err != nil {
			slog.Error("scheduled audit rule reload failed", "error", err)
			return
		}
		slog.Debug("scheduled audit rule reload", "rules_count", count)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid audit rule reload schedule %q: %w", schedule, err)
	}

	c.Start()
	slog.Info("audit rule reload scheduled", "schedule", schedule)
	return c, nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                 HARRIER                   |")
	fmt.Println("  |   Income Tax Computation & Advisory       |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints (Bearer token required under /v1):")
	fmt.Println("    POST /v1/compute                  - Compute tax for one regime")
	fmt.Println("    POST /v1/compare                  - Compare old and new regimes")
	fmt.Println("    POST /v1/audit                    - Audit filing readiness")
	fmt.Println("    POST /v1/recommend                - Savings recommendations")
	fmt.Println("    POST /v1/assess                   - Full pipeline")
	fmt.Println("    POST /v1/export                   - Export summary document")
	fmt.Println("    GET  /v1/financial-years          - Supported financial years")
	fmt.Println("    GET  /v1/rule-tables/{fy}/{regime}")
	fmt.Println("    GET  /v1/calculations[/{id}]      - Saved calculations")
	fmt.Println("    GET  /v1/audit-rules              - Custom audit rules")
	fmt.Println("    POST /v1/audit-rules/reload       - Hot-reload custom rules")
	fmt.Println("    GET  /health                      - Health check")
	fmt.Println()
}
