// Package tenancy carries the resolved tenant through a request.
//
// The tenant id lives only in the request's context.Context. There is no
// package level state, so concurrent requests and any goroutines they start
// with the request context always observe their own tenant.
package tenancy

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrMissingTenantContext is returned when tenant scoped work runs without a resolved tenant.
	ErrMissingTenantContext = errors.New("missing tenant context")

	// ErrTenantMismatch is returned when an entity, reference or token names a different tenant
	// than the one resolved for the request.
	ErrTenantMismatch = errors.New("tenant mismatch")

	// ErrUnknownTenant is returned when an identifier does not name a registered tenant.
	ErrUnknownTenant = errors.New("unknown tenant")

	// ErrTenantInactive is returned when the resolved tenant has been deactivated.
	ErrTenantInactive = errors.New("tenant is inactive")
)

type contextKey int

const (
	tenantContextKey contextKey = iota
)

// WithTenant returns a copy of ctx scoped to tenantID.
func WithTenant(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantContextKey, tenantID)
}

// FromContext returns the tenant resolved for ctx, if any.
func FromContext(ctx context.Context) (uuid.UUID, bool) {
	tenantID, ok := ctx.Value(tenantContextKey).(uuid.UUID)
	if !ok || tenantID == uuid.Nil {
		return uuid.Nil, false
	}
	return tenantID, true
}

// Require returns the tenant resolved for ctx or ErrMissingTenantContext.
func Require(ctx context.Context) (uuid.UUID, error) {
	tenantID, ok := FromContext(ctx)
	if !ok {
		return uuid.Nil, ErrMissingTenantContext
	}
	return tenantID, nil
}
