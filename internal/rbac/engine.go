// Package rbac manages roles, users and their permissions within a tenant.
//
// Every Engine method takes the tenant from the context and reaches storage
// only through store.Scoped, so an operation can never observe or modify
// another tenant's data. Multi-step writes run in a single transaction.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/tenantcore/internal/catalog"
	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
	"github.com/wolfeidau/tenantcore/internal/telemetry"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

var (
	// ErrDuplicateName is returned when a role, user or section name is
	// already taken within the tenant.
	ErrDuplicateName = errors.New("name already in use")

	// ErrRoleInUse is returned when removing a role that users still hold.
	ErrRoleInUse = errors.New("role is assigned to users")

	// ErrLastAdministratorProtected is returned when an operation would leave
	// the tenant without any holder of an administrative role.
	ErrLastAdministratorProtected = errors.New("cannot remove the last administrator")

	// ErrCannotDeleteSelf is returned when a user tries to delete themselves.
	ErrCannotDeleteSelf = errors.New("cannot delete the acting user")
)

// Engine implements the role and permission operations of a tenant.
type Engine struct {
	tx          store.TxRunner
	users       *store.Scoped[*models.User]
	roles       *store.Scoped[*models.Role]
	sections    *store.Scoped[*models.Section]
	assignments *store.Assignments
	catalog     *catalog.Catalog
	cache       PermissionCache

	now   func() time.Time
	newID func() (uuid.UUID, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides the id generator.
func WithIDGenerator(newID func() (uuid.UUID, error)) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithPermissionCache caches effective permission names.
func WithPermissionCache(cache PermissionCache) Option {
	return func(e *Engine) { e.cache = cache }
}

// New creates an engine over stores.
func New(stores store.Stores, cat *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		tx:          stores.Tx,
		users:       store.NewScoped("user", stores.Users),
		roles:       store.NewScoped("role", stores.Roles),
		sections:    store.NewScoped("section", stores.Sections),
		assignments: store.NewAssignments(stores.Assignments),
		catalog:     cat,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewV7,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) id() (uuid.UUID, error) {
	id, err := e.newID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to generate id: %w", err)
	}
	return id, nil
}

// write runs fn in a transaction and invalidates the tenant's cached
// permissions once it commits.
func (e *Engine) write(ctx context.Context, fn func(ctx context.Context) error) error {
	tenantID, err := tenancy.Require(ctx)
	if err != nil {
		return err
	}

	if err := e.tx.InTx(ctx, fn); err != nil {
		return err
	}

	e.invalidate(ctx, tenantID)
	return nil
}

func (e *Engine) invalidate(ctx context.Context, tenantID uuid.UUID) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, tenantID); err != nil {
		cacheError(ctx, "invalidate")
		log.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("Failed to invalidate permission cache")
	}
}

func cacheHit(ctx context.Context, hit bool) {
	attrs := metric.WithAttributes(attribute.String("cache", "permissions"))
	if hit {
		telemetry.GetMetrics().CacheHitsTotal.Add(ctx, 1, attrs)
		return
	}
	telemetry.GetMetrics().CacheMissesTotal.Add(ctx, 1, attrs)
}

func cacheError(ctx context.Context, op string) {
	telemetry.GetMetrics().CacheErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", "permissions"),
		attribute.String("op", op),
	))
}

// duplicate maps a storage uniqueness conflict onto ErrDuplicateName.
func duplicate(err error, what string) error {
	if errors.Is(err, store.ErrAlreadyExists) {
		return fmt.Errorf("%w: %s", ErrDuplicateName, what)
	}
	return err
}
