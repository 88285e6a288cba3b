package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
)

// PermissionStore implements store.PermissionStore using in-memory storage.
type PermissionStore struct {
	db *DB
}

var _ store.PermissionStore = (*PermissionStore)(nil)

// Create adds a permission; names are globally unique.
func (s *PermissionStore) Create(ctx context.Context, p *models.Permission) error {
	return s.db.write(ctx, func(st *state) error {
		if _, exists := st.permissions[p.PermissionID]; exists {
			return store.ErrAlreadyExists
		}
		for _, other := range st.permissions {
			if other.Name == p.Name {
				return store.ErrAlreadyExists
			}
		}
		if p.TenantID != nil {
			if _, ok := st.tenants[*p.TenantID]; !ok {
				return store.ErrNotFound
			}
		}

		st.permissions[p.PermissionID] = p.Clone()
		return nil
	})
}

func (s *PermissionStore) Get(ctx context.Context, permissionID uuid.UUID) (*models.Permission, error) {
	var result *models.Permission
	err := s.db.read(ctx, func(st *state) error {
		p, ok := st.permissions[permissionID]
		if !ok {
			return store.ErrNotFound
		}
		result = p.Clone()
		return nil
	})
	return result, err
}

func (s *PermissionStore) GetByName(ctx context.Context, name string) (*models.Permission, error) {
	var result *models.Permission
	err := s.db.read(ctx, func(st *state) error {
		for _, p := range st.permissions {
			if p.Name == name {
				result = p.Clone()
				return nil
			}
		}
		return store.ErrNotFound
	})
	return result, err
}

func (s *PermissionStore) List(ctx context.Context) ([]*models.Permission, error) {
	var result []*models.Permission
	err := s.db.read(ctx, func(st *state) error {
		for _, p := range st.permissions {
			result = append(result, p.Clone())
		}
		return nil
	})
	sortPermissions(result)
	return result, err
}

func (s *PermissionStore) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Permission, error) {
	var result []*models.Permission
	err := s.db.read(ctx, func(st *state) error {
		seen := make(map[uuid.UUID]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			if p, ok := st.permissions[id]; ok {
				result = append(result, p.Clone())
			}
		}
		return nil
	})
	sortPermissions(result)
	return result, err
}

func (s *PermissionStore) Update(ctx context.Context, p *models.Permission) error {
	return s.db.write(ctx, func(st *state) error {
		if _, exists := st.permissions[p.PermissionID]; !exists {
			return store.ErrNotFound
		}
		for _, other := range st.permissions {
			if other.PermissionID != p.PermissionID && other.Name == p.Name {
				return store.ErrAlreadyExists
			}
		}

		st.permissions[p.PermissionID] = p.Clone()
		return nil
	})
}

func (s *PermissionStore) Delete(ctx context.Context, permissionID uuid.UUID) error {
	return s.db.write(ctx, func(st *state) error {
		if _, exists := st.permissions[permissionID]; !exists {
			return store.ErrNotFound
		}
		if st.permissionGranted(permissionID) {
			return store.ErrReferenced
		}

		delete(st.permissions, permissionID)
		return nil
	})
}

func sortPermissions(perms []*models.Permission) {
	slices.SortFunc(perms, func(a, b *models.Permission) int { return strings.Compare(a.Name, b.Name) })
}
