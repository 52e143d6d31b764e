package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Aaliyah097/bochat/cmd/internal/metrics"
)

// Handler returns the full HTTP surface: probes, metrics, the chat socket and the REST API.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler { return WithRequestLogging(next, a.log) })
	r.Use(middleware.Recoverer)
	r.Use(WithSecurityHeaders)
	r.Use(func(next http.Handler) http.Handler { return WithCORS(next, a.cfg, a.log) })

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(a.registry))

	// Origin checks for the socket live in the gateway itself.
	r.Get("/messages/connect", a.ws.ServeHTTP)

	a.api.Register(r)
	return r
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireDB && a.be.pool == nil {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}
	if a.be.pool != nil {
		if err := PingDB(r.Context(), a.be.pool, 2*time.Second); err != nil {
			a.log.Info("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if a.be.redis != nil {
		if err := PingRedis(r.Context(), a.be.redis, 2*time.Second); err != nil {
			a.log.Info("readyz.redis.not_ready", "err", err)
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}
