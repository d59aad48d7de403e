// Package auth resolves who is making a request and guards the endpoints
// that need it.
package auth

import (
	"context"
	"errors"
)

// Principal is the authenticated user of a request.
type Principal struct {
	UserID   int64
	Username string
}

// ErrAnonymous is returned when a request carries no principal.
var ErrAnonymous = errors.New("no principal in context")

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// GetPrincipal returns the request principal or ErrAnonymous.
func GetPrincipal(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	if !ok || p == nil {
		return nil, ErrAnonymous
	}
	return p, nil
}

// Viewer returns the principal or nil for anonymous requests.
func Viewer(ctx context.Context) *Principal {
	p, _ := GetPrincipal(ctx)
	return p
}
