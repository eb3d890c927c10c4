// Package auth defines the verified caller identity and the token
// verification port.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized covers every token verification failure surfaced to
// transports; the detailed cause stays in logs.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Claims is the verified identity attached to a request.
type Claims struct {
	Subject string
	Tenant  string
	Roles   []string
}

// HasRole reports whether the claim set carries the given role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Verifier validates a bearer token and extracts its claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

type claimsKey struct{}

// WithClaims attaches verified claims to a context.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom retrieves the claims attached by WithClaims, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}
