package auth

import (
	"context"
	"slices"
)

// Identity is the resolved caller of a gateway request: who they are, which
// tenant they belong to, and which capabilities their token granted.
type Identity struct {
	// Subject is the stable identifier of the caller (the "sub" claim).
	Subject string

	// OrganizationID and EnvironmentID scope the identity to a tenant.
	OrganizationID string
	EnvironmentID  string

	// Scopes are the capabilities granted by the token.
	Scopes []string

	// ServiceAccount is true for platform service identities, which hold
	// elevated privileges such as secret retrieval.
	ServiceAccount bool

	// TokenID is the one-time token identifier (the "jti" claim).
	TokenID string
}

// HasScope reports whether the identity was granted the named scope.
func (i *Identity) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// IdentityContextKey is the key used to store the identity in the request context.
type IdentityContextKey struct{}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey{}, identity)
}

// IdentityFromContext returns the identity stored in the context, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(IdentityContextKey{}).(*Identity)
	return identity
}
