package session

import (
	"errors"
	"log/slog"
	"net/http"

	"gatehouse/cmd/identity"
)

// ErrorHandler is the error stage a gate forwards a *ResolutionError to.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Gate applies the resolver at the edge of the request pipeline.
type Gate struct {
	resolver *Resolver
	cfg      Config
	log      *slog.Logger
	metrics  *Metrics

	onError          ErrorHandler
	onHandshakeError ErrorHandler
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithErrorHandler replaces the HTTP error stage.
func WithErrorHandler(h ErrorHandler) GateOption {
	return func(g *Gate) {
		if h != nil {
			g.onError = h
		}
	}
}

// WithHandshakeErrorHandler replaces the handshake error channel.
func WithHandshakeErrorHandler(h ErrorHandler) GateOption {
	return func(g *Gate) {
		if h != nil {
			g.onHandshakeError = h
		}
	}
}

func WithGateLogger(log *slog.Logger) GateOption {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

func WithGateMetrics(m *Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// NewGate builds both gate variants around one resolver.
func NewGate(resolver *Resolver, cfg Config, opts ...GateOption) (*Gate, error) {
	if resolver == nil {
		return nil, errors.New("session: nil resolver")
	}
	if !validHeaderName(cfg.TokenHeader) || cfg.HandshakeParam == "" {
		return nil, ErrConfig
	}

	g := &Gate{
		resolver: resolver,
		cfg:      cfg,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(g)
	}
	if g.onError == nil {
		g.onError = ErrorStage(g.log, "http.session.fail")
	}
	if g.onHandshakeError == nil {
		g.onHandshakeError = ErrorStage(g.log, "ws.session.fail")
	}
	return g, nil
}

// HTTP reads the raw token from the configured header.
//
//	no token -> next, anonymous
//	failure  -> error stage
//	identity -> next, identity attached
//	dangling -> 401, chain halted
func (g *Gate) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.resolver.Dispatch(r.Context(), r.Header.Get(g.cfg.TokenHeader), Outcomes{
			NoToken: func() {
				next.ServeHTTP(w, r)
			},
			Failed: func(err error) {
				g.onError(w, r, err)
			},
			Resolved: func(u identity.User) {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), u)))
			},
			Dangling: func() {
				g.metrics.reject("http", "dangling")
				g.log.InfoContext(r.Context(), "http.reject.dangling", "path", r.URL.Path)
				w.WriteHeader(http.StatusUnauthorized)
			},
		})
	})
}

// Handshake reads the raw token from the handshake query string and runs before
// the WebSocket upgrade. Unlike HTTP, a missing token is a hard rejection.
//
//	no token -> 401, connection refused
//	failure  -> handshake error channel
//	identity -> next (upgrade), identity attached
//	dangling -> 401, connection refused
func (g *Gate) Handshake(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.resolver.Dispatch(r.Context(), r.URL.Query().Get(g.cfg.HandshakeParam), Outcomes{
			NoToken: func() {
				g.metrics.reject("handshake", "no_token")
				g.log.InfoContext(r.Context(), "ws.reject.no_token", "remote", r.RemoteAddr)
				w.WriteHeader(http.StatusUnauthorized)
			},
			Failed: func(err error) {
				g.onHandshakeError(w, r, err)
			},
			Resolved: func(u identity.User) {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), u)))
			},
			Dangling: func() {
				g.metrics.reject("handshake", "dangling")
				g.log.InfoContext(r.Context(), "ws.reject.dangling", "remote", r.RemoteAddr)
				w.WriteHeader(http.StatusUnauthorized)
			},
		})
	})
}

// RequireAuth rejects requests that no gate attached an identity to.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
