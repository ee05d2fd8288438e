package api

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/finmetrics/grounding/internal/api/handlers"
	custommiddleware "github.com/finmetrics/grounding/internal/api/middleware"
	"github.com/finmetrics/grounding/internal/config"
	"github.com/finmetrics/grounding/internal/service"
)

// Services are the engine services the router exposes.
type Services struct {
	System  *service.SystemService
	Facts   *service.FactService
	Calc    *service.CalcService
	Claims  *service.ClaimsService
	Catalog *service.CatalogService
}

// NewRouter creates and configures the HTTP router
func NewRouter(svc Services, cfg *config.Config, logger *log.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(custommiddleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(custommiddleware.Logger(logger))
	r.Use(middleware.Recoverer)

	// CORS middleware
	corsMiddleware := custommiddleware.NewCORS(cfg.CORS.AllowedOrigins)
	r.Use(corsMiddleware.Handler)

	systemHandler := handlers.NewSystemHandler(svc.System)
	r.Get("/status", systemHandler.Status)
	r.Route("/system", func(r chi.Router) {
		r.Get("/health", systemHandler.Health)
	})

	// Everything below reads facts or calls upstream sources.
	r.Group(func(r chi.Router) {
		if cfg.Server.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		}

		r.Route("/metrics/{issuer}", func(r chi.Router) {
			r.Use(custommiddleware.ValidateIssuerMiddleware)
			metricsHandler := handlers.NewMetricsHandler(svc.Calc)
			r.Get("/{concept}", metricsHandler.Series)
		})

		r.Route("/segments/{issuer}", func(r chi.Router) {
			r.Use(custommiddleware.ValidateIssuerMiddleware)
			segmentHandler := handlers.NewSegmentHandler(svc.Facts)
			r.Get("/{metric}", segmentHandler.Segments)
		})

		r.Route("/calc", func(r chi.Router) {
			calcHandler := handlers.NewCalcHandler(svc.Calc)
			r.Post("/explain", calcHandler.Explain)
			r.Post("/verify-expression", calcHandler.VerifyExpression)
		})

		r.Route("/claims", func(r chi.Router) {
			claimsHandler := handlers.NewClaimsHandler(svc.Claims)
			r.Post("/verify", claimsHandler.Verify)
		})

		r.Route("/catalog", func(r chi.Router) {
			catalogHandler := handlers.NewCatalogHandler(svc.Catalog)
			r.Get("/concepts", catalogHandler.Concepts)
			r.Get("/metrics", catalogHandler.Metrics)
		})
	})

	return r
}
