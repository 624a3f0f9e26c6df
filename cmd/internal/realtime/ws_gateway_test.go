package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/security/token"
	v1 "gatehouse/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type wsFixture struct {
	server *httptest.Server
	codec  *token.Codec
	user   identity.User
}

func newWSFixture(t *testing.T, cfg Config) *wsFixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := identity.OpenSQLite(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	res, err := store.CreateUser(context.Background(), identity.CreateUserInput{
		Email:        "ada@example.com",
		Name:         "Ada",
		PasswordHash: "$argon2id$v=19$m=8,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	codec, err := token.NewCodec(token.Config{Secret: []byte(testSecret)})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	resolver, err := session.NewResolver(codec, store, session.WithLogger(log))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	scfg := session.DefaultConfig()
	scfg.TokenSecret = testSecret
	gate, err := session.NewGate(resolver, scfg, session.WithGateLogger(log))
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gate.Handshake(NewWSGateway(log, cfg)))
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &wsFixture{server: ts, codec: codec, user: res.User}
}

func (f *wsFixture) mint(t *testing.T, id string) string {
	t.Helper()
	tok, err := f.codec.Encode(id)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return tok
}

func openConfig() Config {
	cfg := DefaultConfig()
	cfg.OriginRequired = false
	return cfg
}

func dialWS(t *testing.T, baseURL, origin, tok string, subprotocols ...string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	if tok != "" {
		u.RawQuery = url.Values{"token": {tok}}.Encode()
	}

	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	if subprotocols == nil {
		subprotocols = []string{v1.Subprotocol}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: subprotocols,
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

func expectHandshakeStatus(t *testing.T, resp *http.Response, err error, want int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != want {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("expected %d, got status=%d err=%v", want, status, err)
	}
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, env v1.Envelope) {
	t.Helper()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readEnvelopeWS(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func clientEnvelope(typ string, payload any) v1.Envelope {
	p, _ := json.Marshal(payload)
	return v1.Envelope{V: v1.Version, Type: typ, ID: "c-" + typ, TS: time.Now().UTC(), Payload: p}
}

func TestWSGateway_NoTokenRejected(t *testing.T) {
	f := newWSFixture(t, openConfig())

	_, resp, err := dialWS(t, f.server.URL, "", "")
	expectHandshakeStatus(t, resp, err, http.StatusUnauthorized)
}

func TestWSGateway_InvalidTokenRejected(t *testing.T) {
	f := newWSFixture(t, openConfig())

	_, resp, err := dialWS(t, f.server.URL, "", "not-a-valid-token")
	expectHandshakeStatus(t, resp, err, http.StatusUnauthorized)
}

func TestWSGateway_DanglingTokenRejected(t *testing.T) {
	f := newWSFixture(t, openConfig())

	missing, err := identity.NewULID(time.Now())
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	for _, id := range []string{missing, "not-a-ulid"} {
		_, resp, err := dialWS(t, f.server.URL, "", f.mint(t, id))
		expectHandshakeStatus(t, resp, err, http.StatusUnauthorized)
	}
}

func TestWSGateway_HeaderTokenIgnored(t *testing.T) {
	f := newWSFixture(t, openConfig())

	u, _ := url.Parse(f.server.URL)
	u.Scheme = "ws"
	u.Path = "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   http.Header{"Authorization": {f.mint(t, f.user.ID)}},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	expectHandshakeStatus(t, resp, err, http.StatusUnauthorized)
}

func TestWSGateway_AuthorizedSession(t *testing.T) {
	f := newWSFixture(t, openConfig())

	conn, _, err := dialWS(t, f.server.URL, "", f.mint(t, f.user.ID))
	if err != nil {
		t.Fatalf("authorized dial failed: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ready := readEnvelopeWS(t, conn)
	if ready.Type != v1.TypeSessionReady {
		t.Fatalf("first frame type = %q, want %q", ready.Type, v1.TypeSessionReady)
	}
	var rp v1.SessionReadyPayload
	if err := json.Unmarshal(ready.Payload, &rp); err != nil {
		t.Fatalf("decode session.ready: %v", err)
	}
	if rp.User.ID != f.user.ID || rp.User.Email != f.user.Email {
		t.Fatalf("session.ready user = %+v, want %+v", rp.User, f.user)
	}
	if rp.ConnID == "" {
		t.Fatalf("session.ready missing conn_id")
	}
	if strings.Contains(string(ready.Payload), "argon2id") {
		t.Fatalf("session.ready leaked credential data: %s", ready.Payload)
	}

	writeEnvelopeWS(t, conn, clientEnvelope(v1.TypeHello, v1.HelloPayload{Client: "test"}))
	ack := readEnvelopeWS(t, conn)
	if ack.Type != v1.TypeHelloAck {
		t.Fatalf("got %q, want %q", ack.Type, v1.TypeHelloAck)
	}
	var ap v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &ap); err != nil {
		t.Fatalf("decode hello.ack: %v", err)
	}
	if ap.ConnID != rp.ConnID || ap.UserID != f.user.ID {
		t.Fatalf("hello.ack = %+v", ap)
	}

	writeEnvelopeWS(t, conn, clientEnvelope(v1.TypeWhoAmI, struct{}{}))
	who := readEnvelopeWS(t, conn)
	if who.Type != v1.TypeIdentity {
		t.Fatalf("got %q, want %q", who.Type, v1.TypeIdentity)
	}
	var ip v1.IdentityPayload
	if err := json.Unmarshal(who.Payload, &ip); err != nil {
		t.Fatalf("decode identity: %v", err)
	}
	if ip.User.ID != f.user.ID {
		t.Fatalf("identity user = %q, want %q", ip.User.ID, f.user.ID)
	}
}

func TestWSGateway_BadFramesGetErrors(t *testing.T) {
	f := newWSFixture(t, openConfig())

	conn, _, err := dialWS(t, f.server.URL, "", f.mint(t, f.user.ID))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	_ = readEnvelopeWS(t, conn) // session.ready

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{nope")); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
	if env := readEnvelopeWS(t, conn); env.Type != v1.TypeError {
		t.Fatalf("got %q, want error", env.Type)
	}

	writeEnvelopeWS(t, conn, clientEnvelope("message.send", struct{}{}))
	env := readEnvelopeWS(t, conn)
	var ep v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &ep); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if env.Type != v1.TypeError || ep.Code != "bad_envelope" {
		t.Fatalf("got %q/%q, want error/bad_envelope", env.Type, ep.Code)
	}
}

func TestWSGateway_RateLimitClosesSession(t *testing.T) {
	cfg := openConfig()
	cfg.RateEvents = 2
	cfg.RateWindow = time.Minute
	f := newWSFixture(t, cfg)

	conn, _, err := dialWS(t, f.server.URL, "", f.mint(t, f.user.ID))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	for i := 0; i < 3; i++ {
		writeEnvelopeWS(t, conn, clientEnvelope(v1.TypeWhoAmI, struct{}{}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
			t.Fatalf("close status = %v, want %v (err=%v)", got, websocket.StatusPolicyViolation, err)
		}
		return
	}
}

func TestWSGateway_SubprotocolRequired(t *testing.T) {
	f := newWSFixture(t, openConfig())

	conn, _, err := dialWS(t, f.server.URL, "", f.mint(t, f.user.ID), []string{}...)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusProtocolError {
		t.Fatalf("close status = %v, want %v (err=%v)", got, websocket.StatusProtocolError, err)
	}
}

func TestWSGateway_OriginPolicy(t *testing.T) {
	f := newWSFixture(t, DefaultConfig())
	tok := f.mint(t, f.user.ID)

	_, resp, err := dialWS(t, f.server.URL, "", tok)
	expectHandshakeStatus(t, resp, err, http.StatusForbidden)

	_, resp, err = dialWS(t, f.server.URL, "https://evil.example", tok)
	expectHandshakeStatus(t, resp, err, http.StatusForbidden)

	conn, _, err := dialWS(t, f.server.URL, "http://localhost", tok)
	if err != nil {
		t.Fatalf("allowed origin dial failed: %v", err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func TestWSGateway_WithoutHandshakeGateRefuses(t *testing.T) {
	gw := NewWSGateway(slog.New(slog.NewTextHandler(io.Discard, nil)), openConfig())

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
