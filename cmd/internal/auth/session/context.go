package session

import (
	"context"

	"gatehouse/cmd/identity"
)

type identityKey struct{}

// WithIdentity attaches an authenticated user to ctx.
func WithIdentity(ctx context.Context, u identity.User) context.Context {
	return context.WithValue(ctx, identityKey{}, u)
}

// FromContext returns the user attached by a gate, if any.
func FromContext(ctx context.Context) (identity.User, bool) {
	u, ok := ctx.Value(identityKey{}).(identity.User)
	return u, ok
}
