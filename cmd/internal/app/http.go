package app

import (
	"context"
	"net/http"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/api"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/internal/realtime"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routes struct {
	log      Logger
	cfg      Config
	store    identity.Store
	gate     *session.Gate
	auth     *api.Handler
	ws       *realtime.WSGateway
	gatherer prometheus.Gatherer
}

func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(WithRequestLogging(rt.log))
	r.Use(middleware.Recoverer)
	r.Use(WithSecurityHeaders)
	r.Use(WithCORS(rt.cfg))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := rt.store.Ping(ctx); err != nil {
			rt.log.Info("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))

	// Request-shaped routes: a missing token passes through anonymously.
	r.Group(func(r chi.Router) {
		r.Use(rt.gate.HTTP)
		rt.auth.Register(r)
	})

	// Handshake-shaped route: a missing token refuses the upgrade.
	r.With(rt.gate.Handshake).Handle("/ws", rt.ws)

	return r
}
