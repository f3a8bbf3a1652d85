package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"stagepass/pkg/platform/middleware/device"
	"stagepass/pkg/platform/middleware/metadata"
	"stagepass/pkg/platform/middleware/requesttime"
)

type routerConfig struct {
	metrics        http.Handler
	authLimiter    func(http.Handler) http.Handler
	requestTimeout time.Duration
}

type RouterOption func(*routerConfig)

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) RouterOption {
	return func(c *routerConfig) { c.metrics = h }
}

// WithAuthFailureLimit wraps every /v1 route with mw.
func WithAuthFailureLimit(mw func(http.Handler) http.Handler) RouterOption {
	return func(c *routerConfig) { c.authLimiter = mw }
}

func WithRequestTimeout(d time.Duration) RouterOption {
	return func(c *routerConfig) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// NewRouter wires every endpoint.
func NewRouter(h *Handler, opts ...RouterOption) http.Handler {
	cfg := routerConfig{requestTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(metadata.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(device.Middleware)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.handleHealth)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.requestTimeout))
		if cfg.authLimiter != nil {
			r.Use(cfg.authLimiter)
		}
		r.Get("/credentials", h.handleListCredentials)
		r.Post("/credentials", h.handleIssueCredential)
		r.Delete("/credentials/{id}", h.handleRevokeCredential)
		r.Get("/me/capabilities", h.handleCapabilities)
		r.Get("/spaces/{space}/access", h.handleSpaceAccess)
		r.Post("/audit/commerce-events", h.handleCommerceEvent)
	})
	return r
}
