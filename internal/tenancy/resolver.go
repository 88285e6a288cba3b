package tenancy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	httpmiddleware "github.com/wolfeidau/tenantcore/internal/http"
	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/telemetry"
)

// TenantLookup resolves an identifier, either a tenant id or slug, to a tenant.
// Unknown identifiers must return an error wrapping ErrUnknownTenant.
type TenantLookup interface {
	Lookup(ctx context.Context, identifier string) (*models.Tenant, error)
}

// Resolver determines the tenant of a request by trying strategies in order.
// The first strategy that yields an identifier wins; later strategies are not consulted.
type Resolver struct {
	lookup     TenantLookup
	strategies []Strategy
}

// NewResolver creates a resolver with strategies in precedence order.
func NewResolver(lookup TenantLookup, strategies ...Strategy) *Resolver {
	return &Resolver{lookup: lookup, strategies: strategies}
}

// Resolve returns the tenant for r. It returns ErrMissingTenantContext when no
// strategy matched and ErrUnknownTenant when the identifier is not registered.
// Inactive tenants are returned without error; callers decide how to treat them.
func (rv *Resolver) Resolve(r *http.Request) (*models.Tenant, error) {
	tenant, _, err := rv.resolve(r)
	return tenant, err
}

func (rv *Resolver) resolve(r *http.Request) (*models.Tenant, Strategy, error) {
	for _, s := range rv.strategies {
		identifier, ok := s.Identifier(r)
		if !ok {
			continue
		}

		tenant, err := rv.lookup.Lookup(r.Context(), identifier)
		if err != nil {
			return nil, s, fmt.Errorf("%s strategy: %w", s.Name(), err)
		}
		return tenant, s, nil
	}

	return nil, nil, ErrMissingTenantContext
}

// Middleware resolves the tenant once per request and stores it in the request
// context. Unknown tenants get 404 and inactive tenants 403. When required is
// true a request with no tenant identifier gets 400; otherwise it continues
// without a tenant and any tenant scoped store call fails closed.
func Middleware(resolver *Resolver, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := zerolog.Ctx(ctx)

			tenant, strategy, err := resolver.resolve(r)
			switch {
			case errors.Is(err, ErrMissingTenantContext):
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				resolutionFailed(ctx, "missing")
				httpmiddleware.WriteError(w, r, http.StatusBadRequest, "missing_tenant_context", "no tenant identifier in request")
				return

			case errors.Is(err, ErrUnknownTenant):
				resolutionFailed(ctx, "unknown")
				logger.Debug().Err(err).Msg("Unknown tenant")
				httpmiddleware.WriteError(w, r, http.StatusNotFound, "unknown_tenant", "tenant not found")
				return

			case err != nil:
				logger.Error().Err(err).Msg("Tenant resolution failed")
				httpmiddleware.WriteError(w, r, http.StatusInternalServerError, "internal", "tenant resolution failed")
				return
			}

			if !tenant.Active {
				resolutionFailed(ctx, "inactive")
				logger.Debug().Str("tenant_id", tenant.TenantID.String()).Msg("Rejected request for inactive tenant")
				httpmiddleware.WriteError(w, r, http.StatusForbidden, "tenant_inactive", ErrTenantInactive.Error())
				return
			}

			if ps, ok := strategy.(PathStrategy); ok {
				r = ps.strip(r)
			}

			ctx = WithTenant(ctx, tenant.TenantID)
			ctx = logger.With().Str("tenant_id", tenant.TenantID.String()).Logger().WithContext(ctx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolutionFailed(ctx context.Context, reason string) {
	telemetry.GetMetrics().TenantResolutionFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}
