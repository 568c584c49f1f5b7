// cmd/main.go is the application entry point.
// It wires together all layers and runs them under a supervisor tree.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/config"
	"github.com/Shivanand-hulikatti/session-registration/internal/database"
	"github.com/Shivanand-hulikatti/session-registration/internal/handler"
	"github.com/Shivanand-hulikatti/session-registration/internal/logging"
	"github.com/Shivanand-hulikatti/session-registration/internal/repository"
	"github.com/Shivanand-hulikatti/session-registration/internal/service"
	"github.com/Shivanand-hulikatti/session-registration/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("service stopped")
	}
}

func run() error {
	// ── 1. Configuration and logging ─────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 2. Store ─────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── 3. Wire up layers ────────────────────────────────────────────────
	svc := service.NewRegistrationService(store, service.WithPenaltyPolicy(service.PenaltyPolicy{
		Window:        cfg.Penalty.Window,
		Threshold:     cfg.Penalty.Threshold,
		BlockDuration: cfg.Penalty.BlockDuration,
	}))
	router := handler.NewRouter(handler.NewRegistrationHandler(svc), cfg.Server)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// ── 4. Supervise ─────────────────────────────────────────────────────
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))
	if cfg.Penalty.SweepInterval > 0 {
		tree.AddJob(supervisor.NewPenaltySweepService(svc, cfg.Penalty.SweepInterval))
	}

	logging.Info().
		Int("port", cfg.Server.Port).
		Str("driver", cfg.Database.Driver).
		Dur("penalty_window", cfg.Penalty.Window).
		Int("penalty_threshold", cfg.Penalty.Threshold).
		Msg("server listening")

	// Blocks until SIGINT or SIGTERM.
	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("services did not stop within the shutdown timeout")
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	logging.Info().Msg("server stopped")
	return nil
}

// openStore returns the configured store and its cleanup function.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		store := repository.NewMemoryStore(cfg.LockTimeout)
		if cfg.SeedFile != "" {
			fixture, err := repository.LoadFixture(cfg.SeedFile)
			if err != nil {
				return nil, nil, err
			}
			if err := store.Seed(fixture, time.Now().UTC()); err != nil {
				return nil, nil, err
			}
			logging.Info().
				Str("file", cfg.SeedFile).
				Int("users", len(fixture.Users)).
				Int("sessions", len(fixture.Sessions)).
				Msg("memory store seeded")
		}
		return store, func() {}, nil

	default:
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		if cfg.Migrate {
			if err := database.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("database: %w", err)
			}
		}
		return repository.NewPostgresStore(pool, cfg.LockTimeout), pool.Close, nil
	}
}
