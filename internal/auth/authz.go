package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

var (
	// ErrUnauthenticated is returned when a request carries no verified principal.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrPermissionDenied is returned when the principal lacks a permission.
	ErrPermissionDenied = errors.New("permission denied")
)

// Principal is the authenticated user of a request, taken from a verified token.
type Principal struct {
	UserID      uuid.UUID
	TenantID    uuid.UUID
	UserName    string
	FullName    string
	Roles       []string
	Permissions []string
	TokenID     string
}

type contextKey int

const (
	principalContextKey contextKey = iota
)

func principalFromClaims(claims *Claims) (*Principal, error) {
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}
	tenantID, err := claims.Tenant()
	if err != nil {
		return nil, err
	}

	return &Principal{
		UserID:      userID,
		TenantID:    tenantID,
		UserName:    claims.UserName,
		FullName:    claims.FullName,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		TokenID:     claims.ID,
	}, nil
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext extracts the authenticated principal from the request context.
// Returns nil if no principal is present (unauthenticated request).
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey).(*Principal)
	return principal
}

// HasPermission reports whether the token granted the named permission.
func (p *Principal) HasPermission(name string) bool {
	return slices.Contains(p.Permissions, name)
}

// RequirePermission checks authorization and returns an error if not authorized
func RequirePermission(ctx context.Context, name string) error {
	p := PrincipalFromContext(ctx)
	if p == nil {
		return ErrUnauthenticated
	}

	if !p.HasPermission(name) {
		return fmt.Errorf("%w: %s requires %s", ErrPermissionDenied, p.UserName, name)
	}

	return nil
}
