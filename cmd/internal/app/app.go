// Package app wires the gatehouse runtime: config, logging, the identity store,
// HTTP routes and the WebSocket gateway.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/api"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/internal/realtime"
	"gatehouse/cmd/security/token"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App owns the HTTP server wiring and the store lifecycle.
type App struct {
	cfg Config
	log Logger

	store      identity.Store
	closeStore func()

	handler http.Handler
}

// New validates the security policy, opens the store and wires every component.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := newApp(cfg, log, st, closeStore)
	if err != nil {
		closeStore()
		return nil, err
	}
	return a, nil
}

func newApp(cfg Config, log Logger, st identity.Store, closeStore func()) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	codec, err := token.NewCodec(cfg.Session.TokenConfig())
	if err != nil {
		return nil, err
	}

	sessionMetrics := session.NewMetrics(reg)
	resolver, err := session.NewResolver(codec, st,
		session.WithLogger(log),
		session.WithMetrics(sessionMetrics),
	)
	if err != nil {
		return nil, err
	}
	gate, err := session.NewGate(resolver, cfg.Session,
		session.WithGateLogger(log),
		session.WithGateMetrics(sessionMetrics),
	)
	if err != nil {
		return nil, err
	}

	auth, err := api.NewHandler(log, st, codec, cfg.Password, cfg.Auth,
		api.WithMetrics(api.NewMetrics(reg)),
	)
	if err != nil {
		return nil, err
	}

	if cfg.WS.DevInsecure {
		log.Warn("ws.dev_insecure.enabled")
	}
	ws := realtime.NewWSGateway(log, cfg.WS, realtime.WithMetrics(realtime.NewMetrics(reg)))

	return &App{
		cfg:        cfg,
		log:        log,
		store:      st,
		closeStore: closeStore,
		handler: newRouter(routes{
			log:      log,
			cfg:      cfg,
			store:    st,
			gate:     gate,
			auth:     auth,
			ws:       ws,
			gatherer: reg,
		}),
	}, nil
}

// Handler returns the fully wired HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Close releases the store.
func (a *App) Close() {
	if a.closeStore != nil {
		a.closeStore()
	}
}

// Run starts the HTTP server and blocks until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"http_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_driver", a.cfg.DatabaseDriver,
		"token_alg", a.cfg.Session.TokenAlgorithm,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return "ws://" + httpURL
	}
}
