// internal/transport/http/routes.go
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leraspizh/crypto-project/pkg/httpserver"
)

// Routes builds the application router. Middlewares wrap every route.
func Routes(h *Handler, mws ...httpserver.Middleware) http.Handler {
	r := chi.NewRouter()
	if len(mws) > 0 {
		r.Use(httpserver.Compose(mws...))
	}

	r.Get("/", h.Index)
	r.Route("/api/prices", func(r chi.Router) {
		r.Get("/", h.ListPrices)
		r.Get("/latest", h.LatestPrices)
		r.Get("/{id}", h.GetPrice)
	})
	r.Get(StreamPath, h.Stream)

	return r
}

// RoutePattern labels metrics with the matched chi pattern.
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "other"
}
