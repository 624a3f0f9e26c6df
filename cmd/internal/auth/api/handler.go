package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/security/password"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CredentialStore is the read side of identity persistence that login needs.
type CredentialStore interface {
	FindUserByEmail(ctx context.Context, email string) (identity.User, error)
	FindCredential(ctx context.Context, userID string) (identity.Credential, error)
}

// TokenEncoder mints bearer tokens.
type TokenEncoder interface {
	Encode(id string) (string, error)
}

// Handler serves POST /auth/login and GET /me.
type Handler struct {
	log *slog.Logger
	cfg Config

	store     CredentialStore
	tokens    TokenEncoder
	passwords password.Config

	onError  session.ErrorHandler
	throttle *loginThrottle
	metrics  *Metrics
	tracer   trace.Tracer
	now      func() time.Time

	dummyHash string
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithErrorHandler sets the stage infrastructure failures are forwarded to.
func WithErrorHandler(eh session.ErrorHandler) HandlerOption {
	return func(h *Handler) {
		if eh != nil {
			h.onError = eh
		}
	}
}

func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, store CredentialStore, tokens TokenEncoder, passwords password.Config, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		return nil, errors.New("auth: nil credential store")
	}
	if tokens == nil {
		return nil, errors.New("auth: nil token encoder")
	}
	cfg = cfg.normalized()

	throttle, err := newLoginThrottle(cfg)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		log:       log,
		cfg:       cfg,
		store:     store,
		tokens:    tokens,
		passwords: passwords,
		throttle:  throttle,
		tracer:    otel.Tracer("gatehouse/auth"),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	if h.onError == nil {
		h.onError = session.ErrorStage(log, "auth.login.fail")
	}

	// Dummy hash for timing-resistant login checks. Policy limits do not apply here.
	dummyCfg := passwords
	dummyCfg.Policy = password.Policy{MinLength: 1, MaxLength: 1024}
	if hash, err := dummyCfg.Hash("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// Register wires routes onto r. Callers mount r behind the HTTP session gate.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
	r.With(session.RequireAuth).Get("/me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "auth.login")
	defer span.End()

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		// Anything that is not a usable object carries no email.
		req = loginRequest{}
	}

	email, ok := jsonString(req.Email)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "email required")
		return
	}
	pw, ok := jsonString(req.Password)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "password required")
		return
	}

	now := h.now().UTC()
	ip := ipString(clientIP(r, h.cfg.TrustProxy))
	ua := strings.TrimSpace(r.UserAgent())

	// Throttle before any store lookup.
	if blocked, retryAfter := h.throttle.check(ip, email, now); blocked {
		h.auditLoginRateLimited(ctx, ip, ua, email, retryAfter)
		span.SetAttributes(attribute.String("auth.login.result", "rate_limited"))
		writeRateLimited(w, retryAfter)
		return
	}

	user, err := h.store.FindUserByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			h.reject(ctx, w, pw, "", ip, ua, email, "unknown_email", now)
			return
		}
		h.onError(w, r, err)
		return
	}

	cred, err := h.store.FindCredential(ctx, user.ID)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsMalformedID(err) {
			h.reject(ctx, w, pw, user.ID, ip, ua, email, "no_credential", now)
			return
		}
		h.onError(w, r, err)
		return
	}

	match, err := h.passwords.Verify(cred.PasswordHash, pw)
	if err != nil {
		// A stored hash we cannot parse is an operator problem, but the caller still just fails to log in.
		h.log.ErrorContext(ctx, "auth.login.stored_hash.invalid", "user_id", user.ID, "err", err)
	}
	if !match {
		h.throttle.recordFailure(ip, email, now)
		h.auditLoginFailed(ctx, user.ID, ip, ua, email, "bad_password")
		span.SetAttributes(attribute.String("auth.login.result", "bad_password"))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	tok, err := h.tokens.Encode(user.ID)
	if err != nil {
		h.onError(w, r, err)
		return
	}

	h.throttle.reset(email)
	h.auditLoginSuccess(ctx, user.ID, ip, ua, email)
	span.SetAttributes(attribute.String("auth.login.result", "success"))

	writeJSON(w, http.StatusOK, loginResponse{
		Data:  toUserResponse(user),
		Token: tok,
	})
}

// reject answers 401 for a missing user or credential after spending a verify's
// worth of time, so the response does not reveal which emails exist.
func (h *Handler) reject(ctx context.Context, w http.ResponseWriter, pw, userID, ip, ua, email, reason string, now time.Time) {
	if h.dummyHash != "" {
		_, _ = h.passwords.Verify(h.dummyHash, pw)
	}
	h.throttle.recordFailure(ip, email, now)
	h.auditLoginFailed(ctx, userID, ip, ua, email, reason)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("auth.login.result", reason))
	w.WriteHeader(http.StatusUnauthorized)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := session.FromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Data: toUserResponse(u)})
}

// ---- helpers ----

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(strings.Join(r.Header.Values("X-Forwarded-For"), ",")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// parseForwardedIP returns the rightmost valid hop. Entries to its left are
// client supplied and can be forged.
func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		if ip := net.ParseIP(strings.TrimSpace(parts[i])); ip != nil {
			return ip
		}
	}
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
