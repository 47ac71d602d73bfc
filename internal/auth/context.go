// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// Auth methods
const (
	MethodJWT    = "jwt"
	MethodAPIKey = "apikey"
)

// Identity holds the authenticated caller information extracted from a
// request. Populated by the middleware and retrieved from context in
// handlers.
type Identity struct {
	Owner  string // owner id all session/agent operations are scoped to
	Method string // "jwt" or "apikey"
	KeyID  string // set when Method is "apikey"
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if
// not present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if
// not present. Only for handlers behind the auth middleware.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}
