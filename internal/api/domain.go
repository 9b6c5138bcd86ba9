package api

import (
	"fmt"

	"github.com/JaimeStill/docket/internal/config"
	"github.com/JaimeStill/docket/internal/engine"
	"github.com/JaimeStill/docket/internal/extraction"
	"github.com/JaimeStill/docket/internal/store"
	"github.com/JaimeStill/docket/internal/workflows"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Engine    *engine.Engine
	Workflows workflows.System
}

// NewDomain creates all domain systems from the API runtime. Fields are
// extracted by connector.
func NewDomain(cfg *config.Config, runtime *Runtime, connector extraction.Connector) (*Domain, error) {
	router, err := cfg.Engine.Router()
	if err != nil {
		return nil, fmt.Errorf("validation rules: %w", err)
	}

	st := store.NewSQL(
		runtime.Database.Connection(),
		runtime.Database.Dialect(),
		runtime.Logger,
	)

	archive := workflows.NewArchive(runtime.Storage, runtime.Logger)

	eng := engine.New(
		st,
		router,
		connector,
		runtime.Logger,
		engine.WithArchiver(archive),
		engine.WithTracerProvider(runtime.Tracer),
		engine.WithExtractionTimeout(cfg.Engine.ExtractionTimeoutDuration()),
		engine.WithClaimTTL(cfg.Engine.ClaimTTLDuration()),
	)

	return &Domain{
		Engine: eng,
		Workflows: workflows.New(
			st,
			eng,
			archive,
			runtime.Logger,
			cfg.Engine.RecoveryWorkers,
		),
	}, nil
}
