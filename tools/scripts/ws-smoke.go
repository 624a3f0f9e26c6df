// Package main provides a CI-friendly end-to-end smoke test for a running gatehouse.
//
// It validates:
//   - password login over HTTP and GET /me with the issued token
//   - handshake refusal without a token
//   - handshake + subprotocol selection with a token
//   - session.ready carrying the authenticated identity
//   - hello -> hello.ack and whoami -> identity
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "gatehouse/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/fatih/color"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

type loginResult struct {
	Data struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"data"`
	Token string `json:"token"`
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		email    = flag.String("email", "", "Login email (seed with: gatehouse users create)")
		password = flag.String("password", os.Getenv("GATEHOUSE_SMOKE_PASSWORD"), "Login password (env: GATEHOUSE_SMOKE_PASSWORD)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*email) == "" || *password == "" {
		fatalf("-email and -password are required")
	}

	root := context.Background()
	base := strings.TrimRight(*baseURL, "/")

	lr := mustLogin(root, base, *email, *password, *timeout)
	mustMe(root, base, lr.Token, lr.Data.ID, *timeout)
	if *verbose {
		fmt.Printf("login: user_id=%s\n", lr.Data.ID)
	}

	wsURL := wsEndpoint(base)
	mustRefuseAnonymous(root, wsURL, *origin, *timeout)

	c, connID := mustConnect(root, wsURL, lr.Token, *origin, lr.Data.ID, *timeout)
	defer closeWS(c.conn)
	if *verbose {
		fmt.Printf("connected: conn_id=%s\n", connID)
	}

	mustWriteWithTimeout(root, c.conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      "smoke-hello",
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{Client: "ws-smoke"}),
	}, *timeout)

	ack := c.mustReadUntilType(root, v1.TypeHelloAck, *timeout)
	var ap v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &ap); err != nil {
		fatalf("unmarshal hello.ack payload: %v", err)
	}
	if ap.ConnID != connID || ap.UserID != lr.Data.ID {
		fatalf("hello.ack mismatch: conn_id=%q user_id=%q", ap.ConnID, ap.UserID)
	}

	mustWriteWithTimeout(root, c.conn, v1.Envelope{V: v1.Version, Type: v1.TypeWhoAmI, ID: "smoke-whoami"}, *timeout)

	who := c.mustReadUntilType(root, v1.TypeIdentity, *timeout)
	var ip v1.IdentityPayload
	if err := json.Unmarshal(who.Payload, &ip); err != nil {
		fatalf("unmarshal identity payload: %v", err)
	}
	if ip.User.ID != lr.Data.ID {
		fatalf("identity mismatch: got=%q want=%q", ip.User.ID, lr.Data.ID)
	}

	fmt.Printf("%s user_id=%s conn_id=%s\n", color.New(color.FgGreen, color.Bold).Sprint("OK:"), lr.Data.ID, connID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func wsEndpoint(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	default:
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	}
}

func mustLogin(parent context.Context, base, email, password string, stepTimeout time.Duration) loginResult {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body := mustJSON(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/auth/login", bytes.NewReader(body))
	if err != nil {
		fatalf("login request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("login: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		fatalf("login: status=%d body=%q", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var lr loginResult
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		fatalf("login: decode: %v", err)
	}
	if lr.Token == "" || lr.Data.ID == "" {
		fatalf("login: response missing token or user id")
	}
	return lr
}

func mustMe(parent context.Context, base, tok, wantID string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/me", nil)
	if err != nil {
		fatalf("me request: %v", err)
	}
	req.Header.Set("Authorization", tok)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("me: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fatalf("me: status=%d", resp.StatusCode)
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("me: decode: %v", err)
	}
	if out.Data.ID != wantID {
		fatalf("me: user mismatch: got=%q want=%q", out.Data.ID, wantID)
	}
}

func mustRefuseAnonymous(parent context.Context, wsURL, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL, dialOptions(origin))
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		closeWS(conn)
		fatalf("anonymous handshake was accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		fatalf("anonymous handshake: want 401, got %v (%v)", statusOf(resp), err)
	}
}

func mustConnect(parent context.Context, wsURL, tok, origin, wantUserID string, stepTimeout time.Duration) (*smokeClient, string) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL+"?token="+url.QueryEscape(tok), dialOptions(origin))
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v (status=%v)", err, statusOf(resp))
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	ready := c.mustReadUntilType(parent, v1.TypeSessionReady, stepTimeout)
	var p v1.SessionReadyPayload
	if err := json.Unmarshal(ready.Payload, &p); err != nil {
		fatalf("unmarshal session.ready payload: %v", err)
	}
	if strings.TrimSpace(p.ConnID) == "" {
		fatalf("session.ready missing conn_id")
	}
	if p.User.ID != wantUserID {
		fatalf("session.ready user mismatch: got=%q want=%q", p.User.ID, wantUserID)
	}
	return c, p.ConnID
}

func dialOptions(origin string) *websocket.DialOptions {
	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	return &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	}
}

func statusOf(resp *http.Response) any {
	if resp == nil {
		return "no response"
	}
	return resp.StatusCode
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if env.V != v1.Version {
				select {
				case c.errCh <- fmt.Errorf("bad envelope version: %q", env.V):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q: %v", wantType, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			}
			fatalf("unexpected envelope type: got=%q want=%q", env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s "+format+"\n", append([]any{color.New(color.FgRed, color.Bold).Sprint("FAIL:")}, args...)...)
	os.Exit(1)
}
