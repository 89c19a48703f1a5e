/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Recoverer:  Panic recovery (500 instead of crash)
  2. Tracing:    OpenTelemetry span, request and trace IDs
  3. Logging:    One zap entry per request
  4. CORS:       Cross-origin requests for the citizen portal

ROUTE GROUPS:
  /api/estimate      Public estimates
  /api/taxes/*       Tax records
  /api/penalties/*   Penalty preview and bulk refresh
  /api/tariffs       Loaded configuration
  /api/scenarios/*   Demo data (development only)
  /health            Liveness

SECURITY NOTE:
  No authentication middleware. Deploy behind the municipality's gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Tracing and logging
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures cross-cutting router behavior.
type RouterOptions struct {
	AllowedOrigins []string
}

// DefaultAllowedOrigins are the local frontends used in development.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware(h.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, TraceIDHeader},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/estimate", h.Estimate)

		r.Route("/taxes", func(r chi.Router) {
			r.Get("/", h.ListTaxes)
			r.Post("/tib", h.AssessTIB)
			r.Post("/ttnb", h.AssessTTNB)
			r.Get("/{id}", h.GetTax)
			r.Post("/{id}/pay", h.PayTax)
		})

		r.Route("/penalties", func(r chi.Router) {
			r.Get("/preview", h.PreviewPenalty)
			r.Post("/refresh", h.RefreshPenalties)
			r.Get("/runs", h.ListRefreshRuns)
		})

		r.Get("/tariffs", h.GetTariffs)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
