package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	httpmiddleware "github.com/wolfeidau/tenantcore/internal/http"
	"github.com/wolfeidau/tenantcore/internal/store"
	"github.com/wolfeidau/tenantcore/internal/telemetry"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

// SuspensionChecker reports tenants whose tokens must no longer be accepted.
type SuspensionChecker interface {
	IsSuspended(ctx context.Context, tenantID uuid.UUID) bool
}

// PermissionLoader returns the current effective permissions of a user of
// the context tenant.
type PermissionLoader interface {
	PermissionNamesOfUser(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Authenticator verifies bearer tokens and puts the principal in the request context.
type Authenticator struct {
	issuer      *Issuer
	suspensions SuspensionChecker
	permissions PermissionLoader
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithLivePermissions replaces the permission claim with the user's current
// permissions on every request, so revocations apply before the token expires.
// A user that no longer exists in the tenant is rejected.
func WithLivePermissions(loader PermissionLoader) AuthenticatorOption {
	return func(a *Authenticator) { a.permissions = loader }
}

// NewAuthenticator creates an authenticator. suspensions may be nil.
func NewAuthenticator(issuer *Issuer, suspensions SuspensionChecker, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{issuer: issuer, suspensions: suspensions}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Middleware returns an HTTP middleware that requires a valid bearer token.
//
// When the tenant was already resolved for the request, the token's tenantId
// must match it or the request gets 403. Otherwise the token's tenant becomes
// the request tenant.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := zerolog.Ctx(ctx)

			token, ok := httpmiddleware.BearerToken(r)
			if !ok {
				rejected(ctx, "missing")
				logger.Debug().Msg("Missing bearer token")
				httpmiddleware.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "bearer token required")
				return
			}

			claims, err := a.issuer.Validate(token)
			if err != nil {
				rejected(ctx, "invalid")
				logger.Debug().Err(err).Msg("Rejected bearer token")
				httpmiddleware.WriteError(w, r, http.StatusUnauthorized, "invalid_token", ErrInvalidToken.Error())
				return
			}

			principal, err := principalFromClaims(claims)
			if err != nil {
				rejected(ctx, "claims")
				logger.Debug().Err(err).Msg("Rejected token claims")
				httpmiddleware.WriteError(w, r, http.StatusUnauthorized, "invalid_token", ErrInvalidToken.Error())
				return
			}

			if a.suspensions != nil && a.suspensions.IsSuspended(ctx, principal.TenantID) {
				rejected(ctx, "suspended")
				logger.Debug().Str("tenant_id", principal.TenantID.String()).Msg("Token of suspended tenant")
				httpmiddleware.WriteError(w, r, http.StatusUnauthorized, "tenant_inactive", tenancy.ErrTenantInactive.Error())
				return
			}

			if resolved, ok := tenancy.FromContext(ctx); ok {
				if resolved != principal.TenantID {
					rejected(ctx, "mismatch")
					logger.Warn().
						Str("tenant_id", resolved.String()).
						Str("token_tenant_id", principal.TenantID.String()).
						Msg("Token tenant does not match request tenant")
					httpmiddleware.WriteError(w, r, http.StatusForbidden, "tenant_mismatch", tenancy.ErrTenantMismatch.Error())
					return
				}
			} else {
				ctx = tenancy.WithTenant(ctx, principal.TenantID)
			}

			if a.permissions != nil {
				perms, err := a.permissions.PermissionNamesOfUser(ctx, principal.UserID)
				switch {
				case errors.Is(err, store.ErrNotFound):
					rejected(ctx, "unknown_user")
					logger.Debug().Str("user_id", principal.UserID.String()).Msg("Token of a user no longer in the tenant")
					httpmiddleware.WriteError(w, r, http.StatusUnauthorized, "invalid_token", ErrInvalidToken.Error())
					return
				case err != nil:
					logger.Error().Err(err).Msg("Failed to load permissions")
					httpmiddleware.WriteError(w, r, http.StatusInternalServerError, "internal", "failed to load permissions")
					return
				}
				principal.Permissions = perms
			}

			ctx = logger.With().
				Str("user_id", principal.UserID.String()).
				Str("tenant_id", principal.TenantID.String()).
				Logger().WithContext(ctx)

			ctx = WithPrincipal(ctx, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func rejected(ctx context.Context, reason string) {
	telemetry.GetMetrics().TokenRejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
