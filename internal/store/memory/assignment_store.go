package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

// AssignmentStore implements store.AssignmentBackend using in-memory storage.
type AssignmentStore struct {
	db *DB
}

var _ store.AssignmentBackend = (*AssignmentStore)(nil)

func (st *state) roleIn(tenantID, roleID uuid.UUID) error {
	r, ok := st.roles[roleID]
	if !ok || r.TenantID != tenantID {
		return fmt.Errorf("role %s: %w", roleID, store.ErrNotFound)
	}
	return nil
}

func (st *state) userIn(tenantID, userID uuid.UUID) error {
	u, ok := st.users[userID]
	if !ok || u.TenantID != tenantID {
		return fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	return nil
}

func (s *AssignmentStore) GrantPermission(ctx context.Context, tenantID, roleID, permissionID uuid.UUID, at time.Time) (bool, error) {
	added := false
	err := s.db.write(ctx, func(st *state) error {
		if err := st.roleIn(tenantID, roleID); err != nil {
			return err
		}
		p, ok := st.permissions[permissionID]
		if !ok {
			return fmt.Errorf("permission %s: %w", permissionID, store.ErrNotFound)
		}
		if !p.AssignableIn(tenantID) {
			return fmt.Errorf("permission %s: %w", p.Name, tenancy.ErrTenantMismatch)
		}

		key := rolePermissionKey{roleID: roleID, permissionID: permissionID}
		if _, exists := st.rolePermissions[key]; exists {
			return nil
		}
		st.rolePermissions[key] = &models.RolePermission{
			TenantID:     tenantID,
			RoleID:       roleID,
			PermissionID: permissionID,
			CreatedAt:    stamp(at),
		}
		added = true
		return nil
	})
	return added, err
}

func (s *AssignmentStore) RevokePermission(ctx context.Context, tenantID, roleID, permissionID uuid.UUID) (bool, error) {
	removed := false
	err := s.db.write(ctx, func(st *state) error {
		key := rolePermissionKey{roleID: roleID, permissionID: permissionID}
		rp, exists := st.rolePermissions[key]
		if !exists || rp.TenantID != tenantID {
			return nil
		}
		delete(st.rolePermissions, key)
		removed = true
		return nil
	})
	return removed, err
}

func (s *AssignmentStore) PermissionIDsOfRole(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.read(ctx, func(st *state) error {
		for key, rp := range st.rolePermissions {
			if key.roleID == roleID && rp.TenantID == tenantID {
				ids = append(ids, key.permissionID)
			}
		}
		return nil
	})
	slices.SortFunc(ids, compareIDs)
	return ids, err
}

func (s *AssignmentStore) CountPermissionGrants(ctx context.Context, permissionID uuid.UUID) (int, error) {
	n := 0
	err := s.db.read(ctx, func(st *state) error {
		for key := range st.rolePermissions {
			if key.permissionID == permissionID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *AssignmentStore) AddUserRole(ctx context.Context, tenantID, userID, roleID uuid.UUID, at time.Time) (bool, error) {
	added := false
	err := s.db.write(ctx, func(st *state) error {
		if err := st.userIn(tenantID, userID); err != nil {
			return err
		}
		if err := st.roleIn(tenantID, roleID); err != nil {
			return err
		}

		key := userRoleKey{userID: userID, roleID: roleID}
		if _, exists := st.userRoles[key]; exists {
			return nil
		}
		st.userRoles[key] = &models.UserRole{
			TenantID:  tenantID,
			UserID:    userID,
			RoleID:    roleID,
			CreatedAt: stamp(at),
		}
		added = true
		return nil
	})
	return added, err
}

func (s *AssignmentStore) RemoveUserRole(ctx context.Context, tenantID, userID, roleID uuid.UUID) (bool, error) {
	removed := false
	err := s.db.write(ctx, func(st *state) error {
		key := userRoleKey{userID: userID, roleID: roleID}
		ur, exists := st.userRoles[key]
		if !exists || ur.TenantID != tenantID {
			return nil
		}
		delete(st.userRoles, key)
		removed = true
		return nil
	})
	return removed, err
}

func (s *AssignmentStore) RoleIDsOfUser(ctx context.Context, tenantID, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.read(ctx, func(st *state) error {
		for key, ur := range st.userRoles {
			if key.userID == userID && ur.TenantID == tenantID {
				ids = append(ids, key.roleID)
			}
		}
		return nil
	})
	slices.SortFunc(ids, compareIDs)
	return ids, err
}

func (s *AssignmentStore) UserIDsWithRole(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.read(ctx, func(st *state) error {
		for key, ur := range st.userRoles {
			if key.roleID == roleID && ur.TenantID == tenantID {
				ids = append(ids, key.userID)
			}
		}
		return nil
	})
	slices.SortFunc(ids, compareIDs)
	return ids, err
}

// LockTenant is satisfied by the database wide writer lock held by every
// transaction, so there is nothing further to acquire.
func (s *AssignmentStore) LockTenant(ctx context.Context, tenantID uuid.UUID) error {
	return nil
}

func compareIDs(a, b uuid.UUID) int {
	return slices.Compare(a[:], b[:])
}
