package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	fbotel "github.com/Strob0t/ForgeBot/internal/adapter/otel"
	"github.com/Strob0t/ForgeBot/internal/middleware"
)

// RouterConfig selects the optional surfaces mounted next to the REST API.
type RouterConfig struct {
	ServiceName string
	CORSOrigin  string
	// RateLimiter throttles request intake; nil disables throttling.
	RateLimiter *middleware.RateLimiter
	// WS serves live events at /ws when set.
	WS http.HandlerFunc
	// MCP serves the MCP streamable transport at /mcp when set.
	MCP http.Handler
}

// NewRouter builds the full HTTP surface. No request timeout is applied:
// an agent loop or build may legitimately run for minutes and is bounded by
// its own iteration ceilings.
func NewRouter(h *Handlers, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(fbotel.HTTPMiddleware(cfg.ServiceName))
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(CORS(cfg.CORSOrigin))

	r.Get("/health", h.HealthCheck)
	if cfg.WS != nil {
		r.Get("/ws", cfg.WS)
	}
	if cfg.MCP != nil {
		r.Handle("/mcp", cfg.MCP)
	}

	MountRoutes(r, h, cfg.RateLimiter)
	return r
}

// MountRoutes registers the /api/v1 routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, limiter *middleware.RateLimiter) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": "1.0.0"})
		})

		// Request intake spends model budget, so it alone is throttled.
		r.Group(func(r chi.Router) {
			if limiter != nil {
				r.Use(limiter.Handler)
			}
			r.Post("/requests", h.HandleRequest)
		})
		r.Post("/route", h.RouteMessage)

		r.Get("/builds/{id}/log", h.GetBuildLog)
		r.Get("/issues/recent", h.RecentIssues)

		r.Get("/model", h.GetModel)
		r.Put("/model", h.SwitchModel)
	})
}
