package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"gatehouse/cmd/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// downstream records whether (and with which identity) the next handler ran.
type downstream struct {
	calls    int
	identity identity.User
	attached bool
}

func (p *downstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.calls++
	p.identity, p.attached = FromContext(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGate(t *testing.T, f *fixture, opts ...GateOption) *Gate {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TokenSecret = testSecret
	opts = append([]GateOption{WithGateLogger(quietLogger()), WithGateMetrics(f.metrics)}, opts...)
	g, err := NewGate(f.resolver, cfg, opts...)
	require.NoError(t, err)
	return g
}

func serveHTTPGate(g *Gate, next http.Handler, tok string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/thing", nil)
	if tok != "" {
		req.Header.Set("Authorization", tok)
	}
	rec := httptest.NewRecorder()
	g.HTTP(next).ServeHTTP(rec, req)
	return rec
}

func serveHandshakeGate(g *Gate, next http.Handler, tok string) *httptest.ResponseRecorder {
	target := "/ws"
	if tok != "" {
		target += "?token=" + url.QueryEscape(tok)
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	g.Handshake(next).ServeHTTP(rec, req)
	return rec
}

func TestHTTPGate_NoTokenPassesThroughAnonymous(t *testing.T) {
	f := newFixture(t)
	p := &downstream{}

	rec := serveHTTPGate(newTestGate(t, f), p, "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, p.calls)
	assert.False(t, p.attached)
}

func TestHTTPGate_IdentityAttached(t *testing.T) {
	f := newFixture(t)
	p := &downstream{}

	rec := serveHTTPGate(newTestGate(t, f), p, f.mint(t, f.user.ID))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, p.calls)
	assert.True(t, p.attached)
	assert.Equal(t, f.user, p.identity)
}

func TestHTTPGate_RawHeaderOnly(t *testing.T) {
	f := newFixture(t)
	p := &downstream{}

	// A "Bearer " prefix is not stripped: the value is not a token.
	rec := serveHTTPGate(newTestGate(t, f), p, "Bearer "+f.mint(t, f.user.ID))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, p.calls)
}

func TestHTTPGate_ConfiguredHeader(t *testing.T) {
	f := newFixture(t)
	p := &downstream{}

	cfg := DefaultConfig()
	cfg.TokenSecret = testSecret
	cfg.TokenHeader = "X-Session-Token"
	g, err := NewGate(f.resolver, cfg, WithGateLogger(quietLogger()))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/thing", nil)
	req.Header.Set("X-Session-Token", f.mint(t, f.user.ID))
	rec := httptest.NewRecorder()
	g.HTTP(p).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, p.attached)
}

func TestHTTPGate_DanglingIs401AndHalts(t *testing.T) {
	f := newFixture(t)
	p := &downstream{}

	rec := serveHTTPGate(newTestGate(t, f), p, f.mint(t, "01ARZ3NDEKTSV4RRFFQ69G5FAV"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Zero(t, p.calls)
}

func TestHTTPGate_MalformedIDIs401(t *testing.T) {
	f := newFixture(t)
	p := &downstream{}

	rec := serveHTTPGate(newTestGate(t, f), p, f.mint(t, "not-an-id"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, p.calls)
}

func TestHTTPGate_FailureGoesToErrorStage(t *testing.T) {
	f := newFixture(t)
	f.users.err = errors.New("pool exhausted")
	p := &downstream{}

	var stageErr error
	g := newTestGate(t, f, WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
		stageErr = err
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := serveHTTPGate(g, p, f.mint(t, f.user.ID))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Zero(t, p.calls)
	require.Error(t, stageErr)
	assert.True(t, IsResolutionError(stageErr))
}

func TestHTTPGate_DefaultErrorStage(t *testing.T) {
	f := newFixture(t)
	p := &downstream{}
	g := newTestGate(t, f)

	t.Run("invalid token is 401 with empty body", func(t *testing.T) {
		rec := serveHTTPGate(g, p, "garbage")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, rec.Body.String())
	})

	t.Run("infrastructure failure is 500", func(t *testing.T) {
		f.users.err = errors.New("pool exhausted")
		defer func() { f.users.err = nil }()

		rec := serveHTTPGate(g, p, f.mint(t, f.user.ID))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, map[string]string{"message": "internal error"}, body)
	})

	assert.Zero(t, p.calls)
}

func TestHandshakeGate_NoTokenIsRejected(t *testing.T) {
	f := newFixture(t)
	p := &downstream{}

	rec := serveHandshakeGate(newTestGate(t, f), p, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, p.calls)
}

func TestHandshakeGate_DanglingIsRejected(t *testing.T) {
	f := newFixture(t)
	p := &downstream{}

	rec := serveHandshakeGate(newTestGate(t, f), p, f.mint(t, "01ARZ3NDEKTSV4RRFFQ69G5FAV"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, p.calls)
}

func TestHandshakeGate_IdentityProceeds(t *testing.T) {
	f := newFixture(t)
	p := &downstream{}

	rec := serveHandshakeGate(newTestGate(t, f), p, f.mint(t, f.user.ID))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, f.user, p.identity)
}

func TestHandshakeGate_HeaderIsIgnored(t *testing.T) {
	f := newFixture(t)
	p := &downstream{}

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", f.mint(t, f.user.ID))
	rec := httptest.NewRecorder()
	newTestGate(t, f).Handshake(p).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, p.calls)
}

func TestHandshakeGate_FailureGoesToHandshakeChannel(t *testing.T) {
	f := newFixture(t)
	f.users.err = errors.New("db down")
	p := &downstream{}

	var httpStage, wsStage int
	g := newTestGate(t, f,
		WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) { httpStage++ }),
		WithHandshakeErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			wsStage++
			w.WriteHeader(http.StatusServiceUnavailable)
		}),
	)

	rec := serveHandshakeGate(g, p, f.mint(t, f.user.ID))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 0, httpStage)
	assert.Equal(t, 1, wsStage)
	assert.Zero(t, p.calls)
}

func TestRequireAuth(t *testing.T) {
	t.Run("without identity", func(t *testing.T) {
		p := &downstream{}
		rec := httptest.NewRecorder()
		RequireAuth(p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, rec.Body.String())
		assert.Zero(t, p.calls)
	})

	t.Run("with identity", func(t *testing.T) {
		p := &downstream{}
		u := identity.User{ID: "01ARZ3NDEKTSV4RRFFQ69G5FAV", Email: "a@x.com"}
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req = req.WithContext(WithIdentity(req.Context(), u))

		rec := httptest.NewRecorder()
		RequireAuth(p).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, 1, p.calls)
		assert.Equal(t, u, p.identity)
	})
}

func TestGateChain_AnonymousRejectedByRequireAuth(t *testing.T) {
	f := newFixture(t)
	p := &downstream{}
	g := newTestGate(t, f)

	rec := serveHTTPGate(g, RequireAuth(p), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, p.calls)

	rec = serveHTTPGate(g, RequireAuth(p), f.mint(t, f.user.ID))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, p.calls)
}

func TestNewGate_RejectsBadConfig(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.TokenHeader = ""
	_, err := NewGate(f.resolver, cfg)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewGate(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestErrorStage_LogsResolutionFailures(t *testing.T) {
	var buf bytes.Buffer
	stage := ErrorStage(slog.New(slog.NewJSONHandler(&buf, nil)), "test.fail")

	cases := []struct {
		name       string
		err        error
		resolution bool
	}{
		{"resolver failure", &ResolutionError{Op: "session.lookup", Err: errors.New("pool exhausted")}, true},
		{"handler failure", errors.New("pool exhausted"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			rec := httptest.NewRecorder()
			stage(rec, httptest.NewRequest(http.MethodGet, "/thing", nil), tc.err)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)

			var line map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, "test.fail", line["msg"])
			assert.Equal(t, tc.resolution, line["resolution"])
		})
	}
}
