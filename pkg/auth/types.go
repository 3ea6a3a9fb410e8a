package auth

import (
	"context"

	"github.com/dentflow/dentflow/pkg/contextkeys"
)

// Principal is the authenticated caller as asserted by the API gateway.
// Authentication itself happens upstream; this service only consumes the
// identity headers the gateway injects after verifying the session.
type Principal struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return contextkeys.WithPrincipal(ctx, p)
}

// FromContext returns the principal set by the identity middleware, or nil
// when the request was not authenticated.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	return p
}
