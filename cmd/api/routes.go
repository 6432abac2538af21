package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	httphandlers "accountlink/internal/interfaces/http"
	"accountlink/internal/shared/config"
	"accountlink/internal/shared/middleware"
	"accountlink/internal/shared/telemetry"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Tracing)
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	if cfg.TLS.Enabled {
		r.Use(middleware.HSTS)
		logger.Info("TLS security middleware enabled (HSTS)")
	}

	r.Get("/health", httphandlers.HandleHealth)
	r.Handle("/metrics", telemetry.MetricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoStore)
		if deps.JWT != nil {
			r.Use(middleware.Auth(deps.JWT))
		} else {
			logger.Warn("JWT_SECRET not set, API authentication disabled")
		}

		r.Get("/institutions", httphandlers.HandleInstitutions)
		r.Get("/institutions/{id}", httphandlers.HandleInstitution)
		r.Route("/wizard", deps.WizardHandler.Register)
		r.Route("/monitors", deps.MonitorHandler.Register)
	})

	return middleware.Telemetry(cfg.Telemetry.ServiceName)(r)
}
