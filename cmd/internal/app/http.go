package app

import (
	"context"
	"net/http"
	"time"

	authapi "warden/cmd/internal/auth/api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// pinger is satisfied by *Stores.
type pinger interface {
	Ping(ctx context.Context, timeout time.Duration) error
}

func newRouter(log Logger, cfg Config, db pinger, reg *prometheus.Registry, m *httpMetrics, auth *authapi.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		WithRequestLogging(log, m),
		middleware.Recoverer,
		WithSecurityHeaders,
		WithCORS(cfg.CORSAllowedOrigins),
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context(), 2*time.Second); err != nil {
			log.Info("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Route("/api/v1", func(r chi.Router) {
		auth.Register(r)
	})

	return r
}
