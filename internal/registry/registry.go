// Package registry manages the lifecycle of tenants and resolves tenant
// identifiers for the request resolver.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
	"github.com/wolfeidau/tenantcore/internal/telemetry"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

var (
	// ErrDuplicateSlug is returned when another tenant already uses the slug.
	ErrDuplicateSlug = errors.New("tenant slug already in use")

	// ErrTenantInUse is returned when deleting a tenant that still owns users or sections.
	ErrTenantInUse = errors.New("tenant still owns users or sections")

	// ErrTenantInactive is returned when a deactivated tenant is used.
	ErrTenantInactive = tenancy.ErrTenantInactive
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 30 * time.Second
)

// Registry creates, looks up and retires tenants.
type Registry struct {
	tenants store.TenantStore
	now     func() time.Time
	newID   func() (uuid.UUID, error)

	cache *lru.LRU[string, *models.Tenant]
	group singleflight.Group
}

var _ tenancy.TenantLookup = (*Registry)(nil)

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides the tenant id generator.
func WithIDGenerator(newID func() (uuid.UUID, error)) Option {
	return func(r *Registry) { r.newID = newID }
}

// WithCache sizes the lookup cache.
func WithCache(size int, ttl time.Duration) Option {
	return func(r *Registry) { r.cache = lru.NewLRU[string, *models.Tenant](size, nil, ttl) }
}

// New creates a registry over tenants.
func New(tenants store.TenantStore, opts ...Option) *Registry {
	r := &Registry{
		tenants: tenants,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewV7,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = lru.NewLRU[string, *models.Tenant](defaultCacheSize, nil, defaultCacheTTL)
	}
	return r
}

// Create registers an active tenant.
func (r *Registry) Create(ctx context.Context, name, slug string) (*models.Tenant, error) {
	id, err := r.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tenant id: %w", err)
	}

	tenant, err := models.NewTenant(id, name, slug, r.now())
	if err != nil {
		return nil, err
	}

	if err := r.tenants.Create(ctx, tenant); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSlug, slug)
		}
		return nil, err
	}

	log.Info().
		Str("tenant_id", tenant.TenantID.String()).
		Str("slug", tenant.Slug).
		Msg("Created tenant")

	return tenant, nil
}

// Get returns the tenant with id.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return r.load(ctx, "id:"+id.String(), func() (*models.Tenant, error) {
		return r.tenants.Get(ctx, id)
	})
}

// GetBySlug returns the tenant with slug.
func (r *Registry) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	return r.load(ctx, "slug:"+slug, func() (*models.Tenant, error) {
		return r.tenants.GetBySlug(ctx, slug)
	})
}

// Lookup resolves identifier as a tenant id when it parses as a UUID and as a
// slug otherwise. Inactive tenants are returned without error.
func (r *Registry) Lookup(ctx context.Context, identifier string) (*models.Tenant, error) {
	identifier = strings.TrimSpace(identifier)
	if id, err := uuid.Parse(identifier); err == nil {
		return r.Get(ctx, id)
	}
	return r.GetBySlug(ctx, strings.ToLower(identifier))
}

// List returns every tenant ordered by slug.
func (r *Registry) List(ctx context.Context) ([]*models.Tenant, error) {
	return r.tenants.List(ctx)
}

// Inactive returns the ids of deactivated tenants.
func (r *Registry) Inactive(ctx context.Context) ([]uuid.UUID, error) {
	tenants, err := r.tenants.List(ctx)
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for _, t := range tenants {
		if !t.Active {
			ids = append(ids, t.TenantID)
		}
	}
	return ids, nil
}

// Rename changes the display name of a tenant.
func (r *Registry) Rename(ctx context.Context, id uuid.UUID, name string) (*models.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", models.ErrInvalid)
	}
	return r.update(ctx, id, func(t *models.Tenant) { t.Name = name })
}

// Activate re-enables a deactivated tenant.
func (r *Registry) Activate(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return r.update(ctx, id, func(t *models.Tenant) { t.Active = true })
}

// Deactivate blocks all access by the tenant's users without deleting data.
func (r *Registry) Deactivate(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return r.update(ctx, id, func(t *models.Tenant) { t.Active = false })
}

// Delete removes a tenant that owns no users and no sections. Its roles and
// assignments are removed with it.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.tenants.Delete(ctx, id)
	if errors.Is(err, store.ErrReferenced) {
		usage, uerr := r.tenants.Usage(ctx, id)
		if uerr != nil {
			return fmt.Errorf("%w: tenant owns users or sections", ErrTenantInUse)
		}
		return fmt.Errorf("%w: %d users, %d sections", ErrTenantInUse, usage.Users, usage.Sections)
	}
	if err != nil {
		return unknown(err)
	}

	r.cache.Purge()
	log.Info().Str("tenant_id", id.String()).Msg("Deleted tenant")
	return nil
}

func (r *Registry) update(ctx context.Context, id uuid.UUID, mutate func(*models.Tenant)) (*models.Tenant, error) {
	tenant, err := r.tenants.Get(ctx, id)
	if err != nil {
		return nil, unknown(err)
	}

	mutate(tenant)
	tenant.UpdatedAt = r.now()

	if err := r.tenants.Update(ctx, tenant); err != nil {
		return nil, unknown(err)
	}

	r.cache.Purge()
	log.Info().
		Str("tenant_id", tenant.TenantID.String()).
		Bool("active", tenant.Active).
		Msg("Updated tenant")

	return tenant, nil
}

func (r *Registry) load(ctx context.Context, key string, fetch func() (*models.Tenant, error)) (*models.Tenant, error) {
	if store.InTransaction(ctx) {
		t, err := fetch()
		return t, unknown(err)
	}

	attrs := metric.WithAttributes(attribute.String("cache", "registry"))
	if t, ok := r.cache.Get(key); ok {
		telemetry.GetMetrics().CacheHitsTotal.Add(ctx, 1, attrs)
		clone := *t
		return &clone, nil
	}
	telemetry.GetMetrics().CacheMissesTotal.Add(ctx, 1, attrs)

	v, err, _ := r.group.Do(key, func() (any, error) {
		t, err := fetch()
		if err != nil {
			return nil, err
		}
		r.cache.Add("id:"+t.TenantID.String(), t)
		r.cache.Add("slug:"+t.Slug, t)
		return t, nil
	})
	if err != nil {
		return nil, unknown(err)
	}

	clone := *v.(*models.Tenant)
	return &clone, nil
}

// unknown marks store.ErrNotFound as tenancy.ErrUnknownTenant so the resolver
// and HTTP layer can recognise it.
func unknown(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", tenancy.ErrUnknownTenant, err)
	}
	return err
}
