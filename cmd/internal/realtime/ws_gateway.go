package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/session"
	v1 "gatehouse/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// WSGateway is the authenticated WebSocket endpoint.
//
// It must be mounted behind session.Gate.Handshake: the identity is resolved once,
// at the handshake, and stays bound to the connection for its lifetime. The gateway
// enforces origin policy, subprotocol selection, rate limits and heartbeats.
type WSGateway struct {
	log     *slog.Logger
	cfg     Config
	origins originPolicy
	metrics *Metrics
}

// GatewayOption configures optional gateway dependencies.
type GatewayOption func(*WSGateway)

func WithMetrics(m *Metrics) GatewayOption {
	return func(g *WSGateway) { g.metrics = m }
}

// NewWSGateway constructs a gateway from cfg.
func NewWSGateway(log *slog.Logger, cfg Config, opts ...GatewayOption) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()

	g := &WSGateway{
		log:     log,
		cfg:     cfg,
		origins: newOriginPolicy(cfg.OriginRequired, cfg.AllowedOrigins),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(g)
	}
	return g
}

// ServeHTTP upgrades the request and runs the session loop.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u, ok := session.FromContext(r.Context())
	if !ok {
		// Mounted without the handshake gate. Never run anonymously.
		g.log.Error("ws.reject.no_identity", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if err := g.origins.check(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Server read/write timeouts would otherwise survive the hijack and cut the session.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.origins.patterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)
	g.run(r.Context(), conn, NewClient(NewConnID(), u, g.cfg.SendQueueSize))
}

func (g *WSGateway) run(parent context.Context, conn *websocket.Conn, client *Client) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	log := g.log.With("conn_id", client.ConnID, "user_id", client.Identity.ID)
	log.Info("ws.session.open")
	g.metrics.opened()

	var (
		closeOnce   sync.Once
		closeReason = "normal"
	)
	shutdown := func(code websocket.StatusCode, reason, label string) {
		closeOnce.Do(func() {
			closeReason = label
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}
	defer func() {
		g.metrics.closed(closeReason)
		log.Info("ws.session.close", "reason", closeReason)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, client, log, shutdown)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeatLoop(ctx, conn, client, log, shutdown)
	}()

	ready, _ := json.Marshal(v1.SessionReadyPayload{ConnID: client.ConnID, User: toWireUser(client.Identity)})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypeSessionReady, ready, time.Now().UTC())) {
		shutdown(websocket.StatusInternalError, "backpressure", "backpressure")
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed", "peer_closed")
			case readErrIdle:
				shutdown(websocket.StatusPolicyViolation, "idle timeout", "idle")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done", "context_done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed", "conn_closed")
			case readErrBadFrame:
				if !rl.Allow(time.Now().UTC()) {
					shutdown(websocket.StatusPolicyViolation, "rate limited", "rate_limited")
					break readLoop
				}
				g.metrics.frame("invalid")
				g.trySendError(ctx, client, "bad_frame", "invalid JSON frame")
				continue readLoop
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed", "read_failed")
			}
			break readLoop
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many frames")
			log.Info("ws.rate_limited", "retry_after", rl.RetryAfter(now))
			shutdown(websocket.StatusPolicyViolation, "rate limited", "rate_limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.metrics.frame("invalid")
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}
		g.metrics.frame(env.Type)

		switch env.Type {
		case v1.TypeHello:
			if err := g.onHello(ctx, client, env); err != nil {
				g.trySendError(ctx, client, "hello_failed", err.Error())
				continue readLoop
			}
		case v1.TypeWhoAmI:
			p, _ := json.Marshal(v1.IdentityPayload{User: toWireUser(client.Identity)})
			if !g.enqueue(ctx, client, newEnvelope(v1.TypeIdentity, p, now)) {
				shutdown(websocket.StatusPolicyViolation, "backpressure", "backpressure")
				break readLoop
			}
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye", "normal")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *WSGateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client, log *slog.Logger, shutdown func(websocket.StatusCode, string, string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case env := <-client.Send:
			if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
				log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed", "write_failed")
				return
			}
		}
	}
}

func (g *WSGateway) heartbeatLoop(ctx context.Context, conn *websocket.Conn, client *Client, log *slog.Logger, shutdown func(websocket.StatusCode, string, string)) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err == nil {
				failures = 0
				continue
			}
			failures++
			log.Info("ws.ping.fail", "failures", failures, "err", err)
			if failures >= maxPingFailures {
				shutdown(websocket.StatusGoingAway, "heartbeat failed", "heartbeat")
				return
			}
		}
	}
}

func (g *WSGateway) onHello(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.HelloPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}

	ack, _ := json.Marshal(v1.HelloAckPayload{ConnID: client.ConnID, UserID: client.Identity.ID})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypeHelloAck, ack, time.Now().UTC())) {
		return errors.New("backpressure: hello.ack")
	}
	return nil
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, newEnvelope(v1.TypeError, p, time.Now().UTC()))
}

// enqueue never blocks: a full queue means the peer is not reading.
func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

func toWireUser(u identity.User) v1.User {
	return v1.User{
		ID:        u.ID,
		CreatedAt: u.CreatedAt,
		Name:      u.Name,
		Email:     u.Email,
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(ts),
		TS:      ts,
		Payload: payload,
	}
}

var errBadFrame = errors.New("bad frame")

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrIdle
	readErrCtxDone
	readErrConnClosed
	readErrBadFrame
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadFrame):
		return readErrBadFrame
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.DeadlineExceeded):
		return readErrIdle
	case errors.Is(err, context.Canceled):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}
