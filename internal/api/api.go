// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"net/http"

	"github.com/JaimeStill/docket/internal/config"
	"github.com/JaimeStill/docket/internal/extraction"
	"github.com/JaimeStill/docket/internal/infrastructure"
	"github.com/JaimeStill/docket/pkg/middleware"
)

// Module is the HTTP surface of the workflow service.
type Module struct {
	Domain  *Domain
	runtime *Runtime
	handler http.Handler
}

// NewModule creates the API module with an extraction agent built from the
// agent configuration.
func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) (*Module, error) {
	connector, err := extraction.NewAgent(&cfg.Agent, infra.Logger)
	if err != nil {
		return nil, err
	}
	return NewModuleWithConnector(cfg, infra, connector)
}

// NewModuleWithConnector creates the API module around an explicit
// extraction connector.
func NewModuleWithConnector(
	cfg *config.Config,
	infra *infrastructure.Infrastructure,
	connector extraction.Connector,
) (*Module, error) {
	runtime := NewRuntime(infra)

	domain, err := NewDomain(cfg, runtime, connector)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerRoutes(mux, domain, cfg)

	mw := middleware.New()
	mw.Use(middleware.Recover(runtime.Logger))
	mw.Use(middleware.Logger(runtime.Logger))
	mw.Use(middleware.CORS(&cfg.API.CORS))
	mw.Use(middleware.MaxBody(cfg.API.MaxBodySizeBytes()))

	return &Module{
		Domain:  domain,
		runtime: runtime,
		handler: mw.Apply(mux),
	}, nil
}

// Handler returns the module's HTTP handler with middleware applied.
func (m *Module) Handler() http.Handler {
	return m.handler
}

// Start registers the domain systems with the lifecycle coordinator.
func (m *Module) Start() error {
	return m.Domain.Workflows.Start(m.runtime.Lifecycle)
}
