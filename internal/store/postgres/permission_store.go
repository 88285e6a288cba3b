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

// PermissionStore implements store.PermissionStore using PostgreSQL.
type PermissionStore struct {
	db *DB
}

var _ store.PermissionStore = (*PermissionStore)(nil)

const permissionColumns = `permission_id, name, description, system, tenant_id, created_at`

func scanPermission(row pgx.Row) (*models.Permission, error) {
	var p models.Permission
	err := row.Scan(&p.PermissionID, &p.Name, &p.Description, &p.System, &p.TenantID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PermissionStore) queryPermissions(ctx context.Context, query string, args ...any) ([]*models.Permission, error) {
	rows, err := s.db.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []*models.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}

	return perms, rows.Err()
}

// Create inserts p. A name taken by a concurrent insert is reported as
// ErrAlreadyExists without raising an error in the database, so an enclosing
// transaction stays usable for reading the winner.
func (s *PermissionStore) Create(ctx context.Context, p *models.Permission) error {
	query := `
		INSERT INTO permissions (` + permissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO NOTHING
	`

	result, err := s.db.q(ctx).Exec(ctx, query,
		p.PermissionID,
		p.Name,
		p.Description,
		p.System,
		p.TenantID,
		p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("permission %s: %w", p.Name, store.ErrAlreadyExists)
		}
		return insertError("permission", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("permission %s: %w", p.Name, store.ErrAlreadyExists)
	}

	return nil
}

func (s *PermissionStore) Get(ctx context.Context, permissionID uuid.UUID) (*models.Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE permission_id = $1`

	p, err := scanPermission(s.db.q(ctx).QueryRow(ctx, query, permissionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

func (s *PermissionStore) GetByName(ctx context.Context, name string) (*models.Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE name = $1`

	p, err := scanPermission(s.db.q(ctx).QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get permission by name: %w", err)
	}
	return p, nil
}

func (s *PermissionStore) List(ctx context.Context) ([]*models.Permission, error) {
	return s.queryPermissions(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
}

func (s *PermissionStore) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryPermissions(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE permission_id = ANY($1::uuid[]) ORDER BY name`, uuidStrings(ids))
}

func (s *PermissionStore) Update(ctx context.Context, p *models.Permission) error {
	query := `
		UPDATE permissions SET
			name = $2,
			description = $3
		WHERE permission_id = $1
	`

	result, err := s.db.q(ctx).Exec(ctx, query, p.PermissionID, p.Name, p.Description)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("permission %s: %w", p.Name, store.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update permission: %w", err)
	}

	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PermissionStore) Delete(ctx context.Context, permissionID uuid.UUID) error {
	result, err := s.db.q(ctx).Exec(ctx, `DELETE FROM permissions WHERE permission_id = $1`, permissionID)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
