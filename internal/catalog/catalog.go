package catalog

import (
	"context"
	"errors"
	"fmt"
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
)

var (
	// ErrImmutablePermission is returned when renaming or deleting a system permission.
	ErrImmutablePermission = errors.New("permission is immutable")

	// ErrPermissionInUse is returned when deleting a permission still granted to a role.
	ErrPermissionInUse = errors.New("permission is assigned to a role")

	// ErrPermissionNotFound is returned for unknown permission ids or names.
	ErrPermissionNotFound = errors.New("permission not found")
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = time.Minute
)

// Catalog manages the global permission catalog. Lookups are served from an
// expiring LRU that is purged on every write; concurrent misses for the same
// key share one storage read.
type Catalog struct {
	permissions store.PermissionStore
	assignments store.AssignmentBackend
	now         func() time.Time
	newID       func() (uuid.UUID, error)

	cache *lru.LRU[string, *models.Permission]
	group singleflight.Group

	shared Invalidator
}

// Invalidator drops caches shared between processes that hold permission
// names, such as the effective permission cache.
type Invalidator interface {
	InvalidateAll(ctx context.Context) error
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock overrides the clock used to stamp new permissions.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// WithIDGenerator overrides the id generator.
func WithIDGenerator(newID func() (uuid.UUID, error)) Option {
	return func(c *Catalog) { c.newID = newID }
}

// WithCache sizes the lookup cache.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *Catalog) { c.cache = lru.NewLRU[string, *models.Permission](size, nil, ttl) }
}

// WithInvalidator registers a shared cache dropped whenever a permission is
// renamed or deleted.
func WithInvalidator(inv Invalidator) Option {
	return func(c *Catalog) { c.shared = inv }
}

// New creates a catalog over the permission store. assignments is consulted
// before deleting a permission.
func New(permissions store.PermissionStore, assignments store.AssignmentBackend, opts ...Option) *Catalog {
	c := &Catalog{
		permissions: permissions,
		assignments: assignments,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewV7,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = lru.NewLRU[string, *models.Permission](defaultCacheSize, nil, defaultCacheTTL)
	}
	return c
}

// Seed creates every system permission that does not exist yet.
func (c *Catalog) Seed(ctx context.Context) error {
	created := 0
	for _, def := range SystemPermissions() {
		_, ok, err := c.ensure(ctx, def.Name, def.Description, true)
		if err != nil {
			return fmt.Errorf("seed %s: %w", def.Name, err)
		}
		if ok {
			created++
		}
	}

	log.Info().Int("created", created).Msg("Seeded system permissions")
	return nil
}

// Ensure returns the permission called name, creating it when missing.
func (c *Catalog) Ensure(ctx context.Context, name, description string) (*models.Permission, error) {
	p, _, err := c.ensure(ctx, name, description, false)
	return p, err
}

func (c *Catalog) ensure(ctx context.Context, name, description string, system bool) (*models.Permission, bool, error) {
	existing, err := c.GetByName(ctx, name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrPermissionNotFound) {
		return nil, false, err
	}

	id, err := c.newID()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate permission id: %w", err)
	}

	p, err := models.NewPermission(id, name, description, system, c.now())
	if err != nil {
		return nil, false, err
	}

	if err := c.permissions.Create(ctx, p); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// lost a race with a concurrent Ensure
			existing, err := c.permissions.GetByName(ctx, name)
			if err != nil {
				return nil, false, notFound(err)
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	c.cache.Purge()
	log.Debug().Str("permission", name).Bool("system", system).Msg("Created permission")

	return p, true, nil
}

// Get returns the permission with id.
func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (*models.Permission, error) {
	return c.load(ctx, "id:"+id.String(), func() (*models.Permission, error) {
		return c.permissions.Get(ctx, id)
	})
}

// GetByName returns the permission called name.
func (c *Catalog) GetByName(ctx context.Context, name string) (*models.Permission, error) {
	return c.load(ctx, "name:"+name, func() (*models.Permission, error) {
		return c.permissions.GetByName(ctx, name)
	})
}

// List returns the whole catalog ordered by name.
func (c *Catalog) List(ctx context.Context) ([]*models.Permission, error) {
	return c.permissions.List(ctx)
}

// ListByIDs returns the permissions with the given ids, skipping unknown ids.
func (c *Catalog) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Permission, error) {
	return c.permissions.ListByIDs(ctx, ids)
}

// Rename changes the name and description of a non-system permission.
func (c *Catalog) Rename(ctx context.Context, id uuid.UUID, name, description string) (*models.Permission, error) {
	p, err := c.permissions.Get(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	if p.System {
		return nil, fmt.Errorf("%w: %s", ErrImmutablePermission, p.Name)
	}
	if err := models.ValidatePermissionName(name); err != nil {
		return nil, err
	}

	p.Name = name
	p.Description = description
	if err := c.permissions.Update(ctx, p); err != nil {
		return nil, err
	}

	c.purge(ctx)
	return p, nil
}

// Delete removes a non-system permission that no role holds.
func (c *Catalog) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := c.permissions.Get(ctx, id)
	if err != nil {
		return notFound(err)
	}
	if p.System {
		return fmt.Errorf("%w: %s", ErrImmutablePermission, p.Name)
	}

	grants, err := c.assignments.CountPermissionGrants(ctx, id)
	if err != nil {
		return err
	}
	if grants > 0 {
		return fmt.Errorf("%w: %s has %d grants", ErrPermissionInUse, p.Name, grants)
	}

	if err := c.permissions.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrReferenced) {
			return fmt.Errorf("%w: %s", ErrPermissionInUse, p.Name)
		}
		return notFound(err)
	}

	c.purge(ctx)
	log.Info().Str("permission", p.Name).Msg("Deleted permission")
	return nil
}

// purge drops the local lookups and any shared cache holding permission names.
func (c *Catalog) purge(ctx context.Context) {
	c.cache.Purge()
	if c.shared == nil {
		return
	}
	if err := c.shared.InvalidateAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate shared permission caches")
	}
}

// load serves key from the cache, coalescing concurrent misses. Reads inside a
// transaction bypass the cache entirely since they may see uncommitted rows.
func (c *Catalog) load(ctx context.Context, key string, fetch func() (*models.Permission, error)) (*models.Permission, error) {
	if store.InTransaction(ctx) {
		p, err := fetch()
		return p, notFound(err)
	}

	if p, ok := c.cache.Get(key); ok {
		cacheResult(ctx, true)
		return p.Clone(), nil
	}
	cacheResult(ctx, false)

	v, err, _ := c.group.Do(key, func() (any, error) {
		p, err := fetch()
		if err != nil {
			return nil, err
		}
		c.cache.Add("id:"+p.PermissionID.String(), p)
		c.cache.Add("name:"+p.Name, p)
		return p, nil
	})
	if err != nil {
		return nil, notFound(err)
	}

	return v.(*models.Permission).Clone(), nil
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrPermissionNotFound, err)
	}
	return err
}

func cacheResult(ctx context.Context, hit bool) {
	attrs := metric.WithAttributes(attribute.String("cache", "catalog"))
	if hit {
		telemetry.GetMetrics().CacheHitsTotal.Add(ctx, 1, attrs)
		return
	}
	telemetry.GetMetrics().CacheMissesTotal.Add(ctx, 1, attrs)
}
