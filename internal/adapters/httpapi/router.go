package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
)

type RouterOptions struct {
	// AuthMiddleware guards the /v1 record routes. Nil leaves them open.
	AuthMiddleware func(http.Handler) http.Handler
	// WebSocket serves /ws when set.
	WebSocket http.Handler
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Health, when set, makes /healthz answer 503 while it returns an error.
	Health func(ctx context.Context) error
}

func NewRouter(api *Server) http.Handler {
	return NewRouterWithOptions(api, RouterOptions{})
}

// NewRouterWithOptions constructs the relay HTTP router.
func NewRouterWithOptions(api *Server, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoint is unauthenticated (used for infra checks).
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				writeAPIError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error(), nil)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.WebSocket != nil {
		r.Handle("/ws", opts.WebSocket)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/session", api.CreateSession)

		r.Group(func(r chi.Router) {
			if opts.AuthMiddleware != nil {
				r.Use(opts.AuthMiddleware)
			}

			r.Get("/members", api.ListRecords(domain.CollectionMembers))
			r.Post("/members", api.CreateRecord(domain.CollectionMembers))
			r.Put("/members/{id}", api.UpdateRecord(domain.CollectionMembers))

			r.Get("/line-items", api.ListRecords(domain.CollectionLineItems))
			r.Post("/line-items", api.CreateRecord(domain.CollectionLineItems))
			r.Put("/line-items/{id}", api.UpdateRecord(domain.CollectionLineItems))
			r.Delete("/line-items/{id}", api.DeleteRecord(domain.CollectionLineItems))
		})
	})
	return r
}
