package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
)

// TenantStore implements store.TenantStore using in-memory storage.
type TenantStore struct {
	db *DB
}

var _ store.TenantStore = (*TenantStore)(nil)

// Create creates a new tenant; ids and slugs are unique.
func (s *TenantStore) Create(ctx context.Context, tenant *models.Tenant) error {
	return s.db.write(ctx, func(st *state) error {
		if _, exists := st.tenants[tenant.TenantID]; exists {
			return store.ErrAlreadyExists
		}
		for _, other := range st.tenants {
			if other.Slug == tenant.Slug {
				return store.ErrAlreadyExists
			}
		}

		clone := *tenant
		st.tenants[tenant.TenantID] = &clone
		return nil
	})
}

// Get retrieves a tenant by ID.
func (s *TenantStore) Get(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	var result *models.Tenant
	err := s.db.read(ctx, func(st *state) error {
		tenant, ok := st.tenants[tenantID]
		if !ok {
			return store.ErrNotFound
		}
		clone := *tenant
		result = &clone
		return nil
	})
	return result, err
}

// GetBySlug retrieves a tenant by its access identifier.
func (s *TenantStore) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	var result *models.Tenant
	err := s.db.read(ctx, func(st *state) error {
		for _, tenant := range st.tenants {
			if tenant.Slug == slug {
				clone := *tenant
				result = &clone
				return nil
			}
		}
		return store.ErrNotFound
	})
	return result, err
}

// List returns every tenant ordered by slug.
func (s *TenantStore) List(ctx context.Context) ([]*models.Tenant, error) {
	var result []*models.Tenant
	err := s.db.read(ctx, func(st *state) error {
		for _, tenant := range st.tenants {
			clone := *tenant
			result = append(result, &clone)
		}
		return nil
	})
	slices.SortFunc(result, func(a, b *models.Tenant) int { return strings.Compare(a.Slug, b.Slug) })
	return result, err
}

// Update updates an existing tenant.
func (s *TenantStore) Update(ctx context.Context, tenant *models.Tenant) error {
	return s.db.write(ctx, func(st *state) error {
		if _, exists := st.tenants[tenant.TenantID]; !exists {
			return store.ErrNotFound
		}
		for _, other := range st.tenants {
			if other.TenantID != tenant.TenantID && other.Slug == tenant.Slug {
				return store.ErrAlreadyExists
			}
		}

		clone := *tenant
		st.tenants[tenant.TenantID] = &clone
		return nil
	})
}

// Delete removes a tenant together with its roles and assignments, mirroring
// the cascading foreign keys of the SQL schema. Tenants that still own users or
// sections are left alone.
func (s *TenantStore) Delete(ctx context.Context, tenantID uuid.UUID) error {
	return s.db.write(ctx, func(st *state) error {
		if _, exists := st.tenants[tenantID]; !exists {
			return store.ErrNotFound
		}
		if st.countUsers(tenantID) > 0 || st.countSections(tenantID) > 0 {
			return store.ErrReferenced
		}

		for id, r := range st.roles {
			if r.TenantID == tenantID {
				st.deleteRole(id)
			}
		}
		for id, p := range st.permissions {
			if p.TenantID != nil && *p.TenantID == tenantID {
				delete(st.permissions, id)
			}
		}

		delete(st.tenants, tenantID)
		return nil
	})
}

// Usage counts the users, roles and sections owned by a tenant.
func (s *TenantStore) Usage(ctx context.Context, tenantID uuid.UUID) (store.TenantUsage, error) {
	var usage store.TenantUsage
	err := s.db.read(ctx, func(st *state) error {
		if _, exists := st.tenants[tenantID]; !exists {
			return store.ErrNotFound
		}

		usage.Users = st.countUsers(tenantID)
		for _, r := range st.roles {
			if r.TenantID == tenantID {
				usage.Roles++
			}
		}
		usage.Sections = st.countSections(tenantID)
		return nil
	})
	return usage, err
}
