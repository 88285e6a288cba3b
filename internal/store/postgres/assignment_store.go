package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfeidau/tenantcore/internal/store"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

// AssignmentStore implements store.AssignmentBackend using PostgreSQL.
// Composite foreign keys on (tenant_id, role_id) and (tenant_id, user_id)
// keep both sides of every assignment inside one tenant.
type AssignmentStore struct {
	db *DB
}

var _ store.AssignmentBackend = (*AssignmentStore)(nil)

// ErrLockOutsideTransaction is returned by LockTenant without a transaction;
// a transaction-scoped advisory lock would be released immediately.
var ErrLockOutsideTransaction = errors.New("tenant lock requires a transaction")

func (s *AssignmentStore) exists(ctx context.Context, kind, query string, args ...any) error {
	var found bool
	if err := s.db.q(ctx).QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return fmt.Errorf("failed to look up %s: %w", kind, err)
	}
	if !found {
		return fmt.Errorf("%s: %w", kind, store.ErrNotFound)
	}
	return nil
}

func (s *AssignmentStore) roleIn(ctx context.Context, tenantID, roleID uuid.UUID) error {
	return s.exists(ctx, "role",
		`SELECT EXISTS(SELECT 1 FROM roles WHERE tenant_id = $1 AND role_id = $2)`, tenantID, roleID)
}

func (s *AssignmentStore) userIn(ctx context.Context, tenantID, userID uuid.UUID) error {
	return s.exists(ctx, "user",
		`SELECT EXISTS(SELECT 1 FROM users WHERE tenant_id = $1 AND user_id = $2)`, tenantID, userID)
}

func (s *AssignmentStore) GrantPermission(ctx context.Context, tenantID, roleID, permissionID uuid.UUID, at time.Time) (bool, error) {
	if err := s.roleIn(ctx, tenantID, roleID); err != nil {
		return false, err
	}

	var restrictedTo *uuid.UUID
	err := s.db.q(ctx).QueryRow(ctx,
		`SELECT tenant_id FROM permissions WHERE permission_id = $1`, permissionID).Scan(&restrictedTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("permission: %w", store.ErrNotFound)
		}
		return false, fmt.Errorf("failed to look up permission: %w", err)
	}
	if restrictedTo != nil && *restrictedTo != tenantID {
		return false, fmt.Errorf("permission %s: %w", permissionID, tenancy.ErrTenantMismatch)
	}

	result, err := s.db.q(ctx).Exec(ctx, `
		INSERT INTO role_permissions (tenant_id, role_id, permission_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role_id, permission_id) DO NOTHING
	`, tenantID, roleID, permissionID, at)
	if err != nil {
		return false, insertError("role permission", err)
	}

	return result.RowsAffected() > 0, nil
}

func (s *AssignmentStore) RevokePermission(ctx context.Context, tenantID, roleID, permissionID uuid.UUID) (bool, error) {
	result, err := s.db.q(ctx).Exec(ctx, `
		DELETE FROM role_permissions
		WHERE tenant_id = $1 AND role_id = $2 AND permission_id = $3
	`, tenantID, roleID, permissionID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke permission: %w", mapPostgresError(err))
	}
	return result.RowsAffected() > 0, nil
}

func (s *AssignmentStore) PermissionIDsOfRole(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error) {
	return s.ids(ctx, `
		SELECT permission_id FROM role_permissions
		WHERE tenant_id = $1 AND role_id = $2
		ORDER BY permission_id
	`, tenantID, roleID)
}

func (s *AssignmentStore) CountPermissionGrants(ctx context.Context, permissionID uuid.UUID) (int, error) {
	var n int
	err := s.db.q(ctx).QueryRow(ctx,
		`SELECT count(*) FROM role_permissions WHERE permission_id = $1`, permissionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count permission grants: %w", err)
	}
	return n, nil
}

func (s *AssignmentStore) AddUserRole(ctx context.Context, tenantID, userID, roleID uuid.UUID, at time.Time) (bool, error) {
	if err := s.userIn(ctx, tenantID, userID); err != nil {
		return false, err
	}
	if err := s.roleIn(ctx, tenantID, roleID); err != nil {
		return false, err
	}

	result, err := s.db.q(ctx).Exec(ctx, `
		INSERT INTO user_roles (tenant_id, user_id, role_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`, tenantID, userID, roleID, at)
	if err != nil {
		return false, insertError("user role", err)
	}

	return result.RowsAffected() > 0, nil
}

func (s *AssignmentStore) RemoveUserRole(ctx context.Context, tenantID, userID, roleID uuid.UUID) (bool, error) {
	result, err := s.db.q(ctx).Exec(ctx, `
		DELETE FROM user_roles
		WHERE tenant_id = $1 AND user_id = $2 AND role_id = $3
	`, tenantID, userID, roleID)
	if err != nil {
		return false, fmt.Errorf("failed to remove user role: %w", mapPostgresError(err))
	}
	return result.RowsAffected() > 0, nil
}

func (s *AssignmentStore) RoleIDsOfUser(ctx context.Context, tenantID, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.ids(ctx, `
		SELECT role_id FROM user_roles
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY role_id
	`, tenantID, userID)
}

func (s *AssignmentStore) UserIDsWithRole(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error) {
	return s.ids(ctx, `
		SELECT user_id FROM user_roles
		WHERE tenant_id = $1 AND role_id = $2
		ORDER BY user_id
	`, tenantID, roleID)
}

// LockTenant takes a transaction scoped advisory lock keyed by the tenant.
func (s *AssignmentStore) LockTenant(ctx context.Context, tenantID uuid.UUID) error {
	if !s.db.inTx(ctx) {
		return ErrLockOutsideTransaction
	}

	_, err := s.db.q(ctx).Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, tenantID.String())
	if err != nil {
		return fmt.Errorf("failed to lock tenant: %w", mapPostgresError(err))
	}
	return nil
}

func (s *AssignmentStore) ids(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.db.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}

	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (uuid.UUID, error) {
		var id uuid.UUID
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan assignments: %w", err)
	}
	return ids, nil
}
