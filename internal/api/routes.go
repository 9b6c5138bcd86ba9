package api

import (
	"net/http"

	"github.com/JaimeStill/docket/internal/config"
	"github.com/JaimeStill/docket/pkg/routes"
)

func registerRoutes(mux *http.ServeMux, domain *Domain, cfg *config.Config) {
	routes.Register(mux, routes.Group{
		Prefix: cfg.API.BasePath,
		Children: []routes.Group{
			domain.Workflows.Handler().Routes(),
		},
	})
}
