package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
)

// RoleStore implements store.Backend for roles.
type RoleStore struct {
	db *DB
}

var _ store.Backend[*models.Role] = (*RoleStore)(nil)

const roleColumns = `role_id, tenant_id, name, normalized_name, description, admin, active, created_at, updated_at`

func scanRole(row pgx.Row) (*models.Role, error) {
	var r models.Role
	err := row.Scan(
		&r.RoleID,
		&r.TenantID,
		&r.Name,
		&r.NormalizedName,
		&r.Description,
		&r.Admin,
		&r.Active,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RoleStore) Get(ctx context.Context, tenantID, roleID uuid.UUID) (*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = $1 AND role_id = $2`

	r, err := scanRole(s.db.q(ctx).QueryRow(ctx, query, tenantID, roleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return r, nil
}

func (s *RoleStore) List(ctx context.Context, tenantID uuid.UUID) ([]*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = $1 ORDER BY normalized_name`

	rows, err := s.db.q(ctx).Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *RoleStore) Insert(ctx context.Context, r *models.Role) error {
	query := `
		INSERT INTO roles (` + roleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.q(ctx).Exec(ctx, query,
		r.RoleID,
		r.TenantID,
		r.Name,
		r.NormalizedName,
		r.Description,
		r.Admin,
		r.Active,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("role %s: %w", r.Name, store.ErrAlreadyExists)
		}
		return insertError("role", err)
	}
	return nil
}

func (s *RoleStore) Update(ctx context.Context, tenantID uuid.UUID, r *models.Role) error {
	if r.TenantID != tenantID {
		return store.ErrNotFound
	}

	query := `
		UPDATE roles SET
			name = $3,
			normalized_name = $4,
			description = $5,
			admin = $6,
			active = $7,
			updated_at = $8
		WHERE tenant_id = $1 AND role_id = $2
	`

	result, err := s.db.q(ctx).Exec(ctx, query,
		tenantID,
		r.RoleID,
		r.Name,
		r.NormalizedName,
		r.Description,
		r.Admin,
		r.Active,
		r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("role %s: %w", r.Name, store.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update role: %w", err)
	}

	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete removes a role and its permission grants. A role still assigned to
// a user violates user_roles_role_fkey and returns store.ErrReferenced.
func (s *RoleStore) Delete(ctx context.Context, tenantID, roleID uuid.UUID) error {
	result, err := s.db.q(ctx).Exec(ctx, `DELETE FROM roles WHERE tenant_id = $1 AND role_id = $2`, tenantID, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
