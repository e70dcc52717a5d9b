package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

// DefaultContextKey is the Locals key the session gate writes to.
const DefaultContextKey = "user"

var identityCtxKey = &contextKey{"identity"}
var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// Principal is what the session gate resolves a bearer token to.
type Principal struct {
	Session  Session
	Identity Identity
	// Token is the bearer token the session was read from.
	Token string
}

// WithContext sets the Identity in the given context
func WithContext(r context.Context, identity Identity) context.Context {
	return context.WithValue(r, identityCtxKey, identity)
}

// FromContext finds the identity from the context.
func FromContext(ctx context.Context) (Identity, bool) {
	raw, ok := ctx.Value(identityCtxKey).(Identity)
	return raw, ok && raw != nil
}

// WithSessionContext sets the Session in the given context
func WithSessionContext(r context.Context, session Session) context.Context {
	return context.WithValue(r, sessionCtxKey, session)
}

// SessionFromContext extracts the Session from the standard context
func SessionFromContext(ctx context.Context) (Session, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(Session)
	return raw, ok && raw != nil
}

// WithPrincipalContext stores both halves of a principal.
func WithPrincipalContext(ctx context.Context, p *Principal) context.Context {
	if p == nil {
		return ctx
	}
	return WithSessionContext(WithContext(ctx, p.Identity), p.Session)
}

// GetPrincipal reads the principal the session gate stored under key.
func GetPrincipal(c router.Context, key string) (*Principal, bool) {
	if key == "" {
		key = DefaultContextKey
	}
	p, ok := c.Locals(key).(*Principal)
	return p, ok && p != nil
}
