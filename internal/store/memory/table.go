package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
)

// Table implements store.Backend for one tenant owned entity kind.
type Table[T models.TenantOwned] struct {
	db   *DB
	kind string

	rows   func(st *state) map[uuid.UUID]T
	clone  func(T) T
	unique func(st *state, entity T) error
	remove func(st *state, entity T) error
	order  func(a, b T) int
}

var (
	_ store.Backend[*models.User]    = (*Table[*models.User])(nil)
	_ store.Backend[*models.Role]    = (*Table[*models.Role])(nil)
	_ store.Backend[*models.Section] = (*Table[*models.Section])(nil)
)

// NewUserBackend stores users; login name and email are unique per tenant.
func NewUserBackend(db *DB) *Table[*models.User] {
	return &Table[*models.User]{
		db:    db,
		kind:  "user",
		rows:  func(st *state) map[uuid.UUID]*models.User { return st.users },
		clone: (*models.User).Clone,
		unique: func(st *state, u *models.User) error {
			for _, other := range st.users {
				if other.UserID == u.UserID || other.TenantID != u.TenantID {
					continue
				}
				if other.LoginName == u.LoginName || other.Email == u.Email {
					return fmt.Errorf("user %s: %w", u.LoginName, store.ErrAlreadyExists)
				}
			}
			return nil
		},
		remove: func(st *state, u *models.User) error {
			st.deleteUser(u.UserID)
			return nil
		},
		order: func(a, b *models.User) int { return strings.Compare(a.LoginName, b.LoginName) },
	}
}

// NewRoleBackend stores roles; the normalized name is unique per tenant and
// a role held by any user cannot be deleted.
func NewRoleBackend(db *DB) *Table[*models.Role] {
	return &Table[*models.Role]{
		db:    db,
		kind:  "role",
		rows:  func(st *state) map[uuid.UUID]*models.Role { return st.roles },
		clone: (*models.Role).Clone,
		unique: func(st *state, r *models.Role) error {
			for _, other := range st.roles {
				if other.RoleID != r.RoleID && other.TenantID == r.TenantID && other.NormalizedName == r.NormalizedName {
					return fmt.Errorf("role %s: %w", r.Name, store.ErrAlreadyExists)
				}
			}
			return nil
		},
		remove: func(st *state, r *models.Role) error {
			if st.roleHeld(r.RoleID) {
				return fmt.Errorf("role %s: %w", r.Name, store.ErrReferenced)
			}
			st.deleteRole(r.RoleID)
			return nil
		},
		order: func(a, b *models.Role) int { return strings.Compare(a.NormalizedName, b.NormalizedName) },
	}
}

// NewSectionBackend stores sections; the key is unique per tenant.
func NewSectionBackend(db *DB) *Table[*models.Section] {
	return &Table[*models.Section]{
		db:    db,
		kind:  "section",
		rows:  func(st *state) map[uuid.UUID]*models.Section { return st.sections },
		clone: (*models.Section).Clone,
		unique: func(st *state, s *models.Section) error {
			for _, other := range st.sections {
				if other.SectionID != s.SectionID && other.TenantID == s.TenantID && other.Key == s.Key {
					return fmt.Errorf("section %s: %w", s.Name, store.ErrAlreadyExists)
				}
			}
			return nil
		},
		remove: func(st *state, s *models.Section) error {
			delete(st.sections, s.SectionID)
			return nil
		},
		order: func(a, b *models.Section) int { return strings.Compare(a.Key, b.Key) },
	}
}

func (t *Table[T]) Get(ctx context.Context, tenantID, id uuid.UUID) (T, error) {
	var result T
	err := t.db.read(ctx, func(st *state) error {
		row, ok := t.rows(st)[id]
		if !ok || row.OwnerTenant() != tenantID {
			return store.ErrNotFound
		}
		result = t.clone(row)
		return nil
	})
	return result, err
}

func (t *Table[T]) List(ctx context.Context, tenantID uuid.UUID) ([]T, error) {
	var result []T
	err := t.db.read(ctx, func(st *state) error {
		for _, row := range t.rows(st) {
			if row.OwnerTenant() == tenantID {
				result = append(result, t.clone(row))
			}
		}
		return nil
	})
	slices.SortFunc(result, t.order)
	return result, err
}

func (t *Table[T]) Insert(ctx context.Context, entity T) error {
	return t.db.write(ctx, func(st *state) error {
		if _, ok := st.tenants[entity.OwnerTenant()]; !ok {
			return fmt.Errorf("%s tenant %s: %w", t.kind, entity.OwnerTenant(), store.ErrNotFound)
		}

		rows := t.rows(st)
		if _, exists := rows[entity.EntityID()]; exists {
			return fmt.Errorf("%s %s: %w", t.kind, entity.EntityID(), store.ErrAlreadyExists)
		}
		if err := t.unique(st, entity); err != nil {
			return err
		}

		rows[entity.EntityID()] = t.clone(entity)
		return nil
	})
}

func (t *Table[T]) Update(ctx context.Context, tenantID uuid.UUID, entity T) error {
	return t.db.write(ctx, func(st *state) error {
		rows := t.rows(st)
		current, ok := rows[entity.EntityID()]
		if !ok || current.OwnerTenant() != tenantID || entity.OwnerTenant() != tenantID {
			return store.ErrNotFound
		}
		if err := t.unique(st, entity); err != nil {
			return err
		}

		rows[entity.EntityID()] = t.clone(entity)
		return nil
	})
}

func (t *Table[T]) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	return t.db.write(ctx, func(st *state) error {
		current, ok := t.rows(st)[id]
		if !ok || current.OwnerTenant() != tenantID {
			return store.ErrNotFound
		}
		return t.remove(st, current)
	})
}
