// Package infrastructure provides core service initialization for application startup.
// It assembles common dependencies (logging, database, storage, tracing) that domain systems require.
package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"

	"github.com/JaimeStill/docket/internal/config"
	"github.com/JaimeStill/docket/internal/store"
	"github.com/JaimeStill/docket/pkg/database"
	"github.com/JaimeStill/docket/pkg/lifecycle"
	"github.com/JaimeStill/docket/pkg/storage"
)

// Infrastructure holds the core systems required by all domain modules.
// It provides a single point of initialization for lifecycle coordination,
// logging, database access, archive storage, and tracing.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Storage   storage.System
	Tracer    trace.TracerProvider

	shutdownTracer func(context.Context) error
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
func New(cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))

	db, err := database.New(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	archive, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	tp, shutdown, err := newTracerProvider(context.Background(), &cfg.Tracing, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}

	return &Infrastructure{
		Lifecycle:      lc,
		Logger:         logger,
		Database:       db,
		Storage:        archive,
		Tracer:         tp,
		shutdownTracer: shutdown,
	}, nil
}

// Start registers all infrastructure systems with the lifecycle coordinator.
// Schema migrations run once the database is reachable, before any ready
// hook registered later.
func (i *Infrastructure) Start() error {
	if err := i.Database.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("database start failed: %w", err)
	}
	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start failed: %w", err)
	}

	i.Lifecycle.OnReady("migrations", func(ctx context.Context) error {
		if err := store.Migrate(i.Database.Connection(), i.Database.Dialect()); err != nil {
			return err
		}
		i.Logger.Info("database schema current", "dialect", i.Database.Dialect())
		return nil
	})

	i.Lifecycle.OnShutdown(func() {
		<-i.Lifecycle.Context().Done()
		if err := i.shutdownTracer(context.Background()); err != nil {
			i.Logger.Error("tracer shutdown failed", "error", err)
		}
	})

	return nil
}
