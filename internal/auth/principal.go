package auth

import (
	"context"

	"github.com/veltix/auth-api/internal/user"
)

// Principal is the resolved identity attached to a request: an authenticated
// user, or the synthetic public guest carrying the public role's permissions.
type Principal struct {
	User   *user.User
	Public bool

	permissions map[string]struct{}
}

// NewUserPrincipal wraps an authenticated user, flattening its permission
// slugs for O(1) checks.
func NewUserPrincipal(u *user.User) *Principal {
	p := &Principal{User: u, permissions: make(map[string]struct{}, len(u.Permissions))}
	for _, slug := range u.Permissions {
		p.permissions[slug] = struct{}{}
	}
	return p
}

// NewPublicPrincipal synthesizes the guest principal from the reserved
// public role.
func NewPublicPrincipal(role *user.Role) *Principal {
	p := &Principal{Public: true, permissions: make(map[string]struct{}, len(role.Permissions))}
	for _, slug := range role.Permissions {
		p.permissions[slug] = struct{}{}
	}
	return p
}

// Can checks membership of a permission slug in the flattened set.
func (p *Principal) Can(slug string) bool {
	if p == nil {
		return false
	}
	_, ok := p.permissions[slug]
	return ok
}

// Authenticated reports whether this is a real, non-guest principal.
func (p *Principal) Authenticated() bool {
	return p != nil && !p.Public && p.User != nil
}

type contextKey string

const principalContextKey contextKey = "principal"

// WithPrincipal attaches the principal to the request context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext extracts the principal from the request context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}
