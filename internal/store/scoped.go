package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/telemetry"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

// Scoped is the only sanctioned path to tenant owned storage. Every operation
// reads the tenant from the context and fails with
// tenancy.ErrMissingTenantContext when there is none.
type Scoped[T models.TenantOwned] struct {
	kind    string
	backend Backend[T]
}

// NewScoped wraps backend; kind names the entity in errors and logs.
func NewScoped[T models.TenantOwned](kind string, backend Backend[T]) *Scoped[T] {
	return &Scoped[T]{kind: kind, backend: backend}
}

// Find returns the entity with id owned by the context tenant. A missing id and
// an id owned by another tenant both return ErrNotFound.
func (s *Scoped[T]) Find(ctx context.Context, id uuid.UUID) (T, error) {
	var zero T

	tenantID, err := s.tenant(ctx, "find")
	if err != nil {
		return zero, err
	}

	entity, err := s.backend.Get(ctx, tenantID, id)
	if err != nil {
		return zero, s.wrap(err)
	}
	if entity.OwnerTenant() != tenantID {
		return zero, s.wrap(ErrNotFound)
	}

	return entity, nil
}

// List returns the context tenant's entities that satisfy match. The tenant
// filter is applied by the backend before match runs, so match can only
// narrow the result. A nil match returns every entity of the tenant.
func (s *Scoped[T]) List(ctx context.Context, match func(T) bool) ([]T, error) {
	tenantID, err := s.tenant(ctx, "list")
	if err != nil {
		return nil, err
	}

	all, err := s.backend.List(ctx, tenantID)
	if err != nil {
		return nil, s.wrap(err)
	}

	result := make([]T, 0, len(all))
	for _, e := range all {
		if e.OwnerTenant() != tenantID {
			continue
		}
		if match == nil || match(e) {
			result = append(result, e)
		}
	}

	return result, nil
}

// First returns the first entity satisfying match or ErrNotFound.
func (s *Scoped[T]) First(ctx context.Context, match func(T) bool) (T, error) {
	var zero T

	found, err := s.List(ctx, match)
	if err != nil {
		return zero, err
	}
	if len(found) == 0 {
		return zero, s.wrap(ErrNotFound)
	}
	return found[0], nil
}

// Create persists entity for the context tenant. An entity without a tenant is
// stamped with it; an entity naming another tenant is rejected with
// tenancy.ErrTenantMismatch and nothing is written.
func (s *Scoped[T]) Create(ctx context.Context, entity T) error {
	tenantID, err := s.tenant(ctx, "create")
	if err != nil {
		return err
	}

	switch owner := entity.OwnerTenant(); owner {
	case uuid.Nil:
		entity.StampTenant(tenantID)
	case tenantID:
	default:
		return s.violation(ctx, "create", tenantID, owner, tenancy.ErrTenantMismatch)
	}

	return s.wrap(s.backend.Insert(ctx, entity))
}

// Update persists changes to entity. The entity must name the context tenant
// and must still exist under it when re-read; the write itself is conditional
// on the tenant as well.
func (s *Scoped[T]) Update(ctx context.Context, entity T) error {
	tenantID, err := s.owned(ctx, "update", entity)
	if err != nil {
		return err
	}

	if _, err := s.backend.Get(ctx, tenantID, entity.EntityID()); err != nil {
		return s.wrap(err)
	}

	return s.wrap(s.backend.Update(ctx, tenantID, entity))
}

// Remove deletes entity under the same ownership rules as Update.
func (s *Scoped[T]) Remove(ctx context.Context, entity T) error {
	tenantID, err := s.owned(ctx, "remove", entity)
	if err != nil {
		return err
	}

	if _, err := s.backend.Get(ctx, tenantID, entity.EntityID()); err != nil {
		return s.wrap(err)
	}

	return s.wrap(s.backend.Delete(ctx, tenantID, entity.EntityID()))
}

func (s *Scoped[T]) tenant(ctx context.Context, op string) (uuid.UUID, error) {
	tenantID, err := tenancy.Require(ctx)
	if err != nil {
		return uuid.Nil, s.violation(ctx, op, uuid.Nil, uuid.Nil, err)
	}
	return tenantID, nil
}

func (s *Scoped[T]) owned(ctx context.Context, op string, entity T) (uuid.UUID, error) {
	tenantID, err := s.tenant(ctx, op)
	if err != nil {
		return uuid.Nil, err
	}
	if owner := entity.OwnerTenant(); owner != tenantID {
		return uuid.Nil, s.violation(ctx, op, tenantID, owner, tenancy.ErrTenantMismatch)
	}
	return tenantID, nil
}

// violation logs and counts an isolation failure and returns it wrapped.
func (s *Scoped[T]) violation(ctx context.Context, op string, tenantID, owner uuid.UUID, err error) error {
	log.Warn().
		Str("kind", s.kind).
		Str("op", op).
		Str("tenant_id", tenantID.String()).
		Str("entity_tenant_id", owner.String()).
		Err(err).
		Msg("Tenant isolation violation")

	telemetry.GetMetrics().IsolationViolationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", s.kind),
		attribute.String("op", op),
		attribute.String("reason", reasonOf(err)),
	))

	return fmt.Errorf("%s %s: %w", op, s.kind, err)
}

func (s *Scoped[T]) wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", s.kind, err)
}

func reasonOf(err error) string {
	if errors.Is(err, tenancy.ErrMissingTenantContext) {
		return "missing_tenant"
	}
	return "tenant_mismatch"
}
