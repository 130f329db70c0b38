package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"campaign-sdk/internal/observability"
)

func Router(h *Handler, rl *RateLimiter, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.Ready)
	r.Handle("/metrics", observability.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		if rl != nil {
			r.Use(rl.Handler)
		}
		r.Use(middleware.Timeout(timeout))

		r.Post("/track", h.Track)
		r.Post("/identify", h.Identify)
		r.Post("/device", h.Device)
		r.Get("/campaigns/match", h.Match)
		r.Post("/segments/evaluate", h.EvaluateSegment)
	})
	return r
}
