package auth

import "context"

// Identity is the browser-facing view of a login: who and which session,
// never any bearer token material.
type Identity struct {
	UserID    string
	SessionID string
}

type contextKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(Identity)
	return identity, ok
}
