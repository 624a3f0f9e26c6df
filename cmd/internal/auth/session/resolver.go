package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/security/token"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is the non-error result of a resolution.
type Outcome uint8

const (
	_ Outcome = iota
	// OutcomeNoToken: nothing was presented.
	OutcomeNoToken
	// OutcomeDangling: the token decoded, but its id addresses no user.
	OutcomeDangling
	// OutcomeIdentity: the token resolved to a stored user.
	OutcomeIdentity
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoToken:
		return "no_token"
	case OutcomeDangling:
		return "dangling"
	case OutcomeIdentity:
		return "identity"
	default:
		return "unknown"
	}
}

// Resolution is a resolved session. Identity is set only for OutcomeIdentity.
type Resolution struct {
	Outcome  Outcome
	Identity identity.User
}

// TokenDecoder verifies a raw token and returns its claims.
type TokenDecoder interface {
	Decode(tok string) (token.Claims, error)
}

// Resolver implements the resolution flow shared by every gate.
// It holds no per-request state and is safe for concurrent use.
type Resolver struct {
	tokens  TokenDecoder
	users   identity.UserFinder
	log     *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// ResolverOption configures optional Resolver dependencies.
type ResolverOption func(*Resolver)

func WithLogger(log *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

func WithMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver wires a token decoder to a user lookup.
func NewResolver(tokens TokenDecoder, users identity.UserFinder, opts ...ResolverOption) (*Resolver, error) {
	if tokens == nil {
		return nil, errors.New("session: nil token decoder")
	}
	if users == nil {
		return nil, errors.New("session: nil user finder")
	}

	r := &Resolver{
		tokens: tokens,
		users:  users,
		log:    slog.Default(),
		tracer: otel.Tracer("gatehouse/session"),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}
	return r, nil
}

// Resolve runs the three-way resolution for raw.
//
// A nil error always comes with OutcomeNoToken, OutcomeDangling or OutcomeIdentity.
// A non-nil error is always a *ResolutionError and the Resolution is zero.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Resolution, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "session.resolve", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	res, err := r.resolve(ctx, raw)

	label := res.Outcome.String()
	switch {
	case errors.Is(err, token.ErrInvalidToken):
		label = "invalid_token"
	case err != nil:
		label = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity lookup failed")
	}
	span.SetAttributes(attribute.String("session.outcome", label))
	r.metrics.observeResolution(label, time.Since(start))

	return res, err
}

func (r *Resolver) resolve(ctx context.Context, raw string) (Resolution, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Resolution{Outcome: OutcomeNoToken}, nil
	}

	claims, err := r.tokens.Decode(raw)
	if err != nil {
		return Resolution{}, &ResolutionError{Op: "session.decode", Err: err}
	}

	user, err := r.users.FindUserByID(ctx, claims.ID)
	switch {
	case err == nil:
		return Resolution{Outcome: OutcomeIdentity, Identity: user}, nil
	case identity.IsMalformedID(err):
		// A validly signed id outside the store's id scheme cannot address a user.
		r.log.DebugContext(ctx, "session.resolve.malformed_id")
		return Resolution{Outcome: OutcomeDangling}, nil
	case identity.IsNotFound(err):
		return Resolution{Outcome: OutcomeDangling}, nil
	default:
		return Resolution{}, &ResolutionError{Op: "session.lookup", Err: err}
	}
}

// Outcomes is a per-gate table of terminal actions, one per resolution result.
type Outcomes struct {
	NoToken  func()
	Failed   func(err error)
	Resolved func(u identity.User)
	Dangling func()
}

// Dispatch resolves raw and invokes exactly one entry of o. Nil entries are skipped.
func (r *Resolver) Dispatch(ctx context.Context, raw string, o Outcomes) {
	res, err := r.Resolve(ctx, raw)
	if err != nil {
		if o.Failed != nil {
			o.Failed(err)
		}
		return
	}

	switch res.Outcome {
	case OutcomeNoToken:
		if o.NoToken != nil {
			o.NoToken()
		}
	case OutcomeIdentity:
		if o.Resolved != nil {
			o.Resolved(res.Identity)
		}
	case OutcomeDangling:
		if o.Dangling != nil {
			o.Dangling()
		}
	}
}
