package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gatehouse/cmd/identity"
	v1 "gatehouse/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testEmail    = "ada@example.com"
	testPassword = "correct horse battery staple"
)

func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "gatehouse.db")
	cfg.Session.TokenSecret = strings.Repeat("k", 32)
	cfg.Password.Params.MemoryKiB = 8 * 1024
	cfg.Password.Params.Iterations = 1
	cfg.Password.Params.Parallelism = 1
	cfg.Password.BcryptCost = bcrypt.MinCost
	cfg.WS.OriginRequired = false
	return cfg
}

type appFixture struct {
	app    *App
	server *httptest.Server
	user   identity.User
}

func newAppFixture(t *testing.T, cfg Config) *appFixture {
	t.Helper()

	a, err := New(context.Background(), cfg, newLogger(io.Discard, "debug", "json", false))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	hash, err := cfg.Password.Hash(testPassword)
	require.NoError(t, err)
	res, err := a.store.CreateUser(context.Background(), identity.CreateUserInput{
		Email:        testEmail,
		Name:         "Ada",
		PasswordHash: hash,
		Now:          time.Now(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)

	return &appFixture{app: a, server: ts, user: res.User}
}

func (f *appFixture) login(t *testing.T, email, pw string) (*http.Response, map[string]any) {
	t.Helper()

	body, err := json.Marshal(map[string]string{"email": email, "password": pw})
	require.NoError(t, err)

	resp, err := http.Post(f.server.URL+"/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func (f *appFixture) get(t *testing.T, path, tok string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestNew_RefusesWithoutSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.TokenSecret = ""

	_, err := New(context.Background(), cfg, newLogger(io.Discard, "info", "json", false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security policy")
}

func TestApp_HealthReadyMetrics(t *testing.T) {
	f := newAppFixture(t, testConfig(t))

	resp := f.get(t, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp = f.get(t, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "gatehouse_ws_connections_active")
	assert.Contains(t, string(raw), "go_goroutines")
}

func TestApp_LoginThenMe(t *testing.T) {
	f := newAppFixture(t, testConfig(t))

	resp, body := f.login(t, testEmail, testPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)
	data, _ := body["data"].(map[string]any)
	assert.Equal(t, f.user.ID, data["id"])
	assert.NotContains(t, data, "password_hash")

	me := f.get(t, "/me", tok)
	require.Equal(t, http.StatusOK, me.StatusCode)
	var meBody struct {
		Data struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(me.Body).Decode(&meBody))
	assert.Equal(t, f.user.ID, meBody.Data.ID)
	assert.Equal(t, testEmail, meBody.Data.Email)
}

func TestApp_LoginRejections(t *testing.T) {
	f := newAppFixture(t, testConfig(t))

	resp, body := f.login(t, testEmail, "wrong password entirely")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, body)

	resp, body = f.login(t, "nobody@example.com", testPassword)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, body)
}

func TestApp_MeRejections(t *testing.T) {
	f := newAppFixture(t, testConfig(t))

	assert.Equal(t, http.StatusUnauthorized, f.get(t, "/me", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, f.get(t, "/me", "not-a-token").StatusCode)
}

func TestApp_WebSocketSession(t *testing.T) {
	f := newAppFixture(t, testConfig(t))

	_, body := f.login(t, testEmail, testPassword)
	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + url.QueryEscape(tok)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{Subprotocols: []string{v1.Subprotocol}})
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	ready := readWSEnvelope(t, ctx, conn)
	require.Equal(t, v1.TypeSessionReady, ready.Type)
	var rp v1.SessionReadyPayload
	require.NoError(t, json.Unmarshal(ready.Payload, &rp))
	assert.Equal(t, f.user.ID, rp.User.ID)

	req, err := json.Marshal(v1.Envelope{V: v1.Version, Type: v1.TypeWhoAmI, ID: "c1"})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, req))

	who := readWSEnvelope(t, ctx, conn)
	require.Equal(t, v1.TypeIdentity, who.Type)
	var ip v1.IdentityPayload
	require.NoError(t, json.Unmarshal(who.Payload, &ip))
	assert.Equal(t, testEmail, ip.User.Email)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))
}

func TestApp_WebSocketWithoutToken(t *testing.T) {
	f := newAppFixture(t, testConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	_, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{Subprotocols: []string{v1.Subprotocol}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func readWSEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) v1.Envelope {
	t.Helper()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env v1.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}
