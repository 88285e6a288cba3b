package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
)

// UserStore implements store.Backend for users. Every statement filters on
// tenant_id.
type UserStore struct {
	db *DB
}

var _ store.Backend[*models.User] = (*UserStore)(nil)

const userColumns = `user_id, tenant_id, login_name, email, full_name, active, created_at, updated_at, last_login_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.UserID,
		&u.TenantID,
		&u.LoginName,
		&u.Email,
		&u.FullName,
		&u.Active,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *UserStore) Get(ctx context.Context, tenantID, userID uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 AND user_id = $2`

	u, err := scanUser(s.db.q(ctx).QueryRow(ctx, query, tenantID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) List(ctx context.Context, tenantID uuid.UUID) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 ORDER BY login_name`

	rows, err := s.db.q(ctx).Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *UserStore) Insert(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.q(ctx).Exec(ctx, query,
		u.UserID,
		u.TenantID,
		u.LoginName,
		u.Email,
		u.FullName,
		u.Active,
		u.CreatedAt,
		u.UpdatedAt,
		u.LastLoginAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.LoginName, store.ErrAlreadyExists)
		}
		return insertError("user", err)
	}

	log.Debug().
		Str("tenant_id", u.TenantID.String()).
		Str("user_id", u.UserID.String()).
		Msg("Created user")

	return nil
}

func (s *UserStore) Update(ctx context.Context, tenantID uuid.UUID, u *models.User) error {
	if u.TenantID != tenantID {
		return store.ErrNotFound
	}

	query := `
		UPDATE users SET
			login_name = $3,
			email = $4,
			full_name = $5,
			active = $6,
			updated_at = $7,
			last_login_at = $8
		WHERE tenant_id = $1 AND user_id = $2
	`

	result, err := s.db.q(ctx).Exec(ctx, query,
		tenantID,
		u.UserID,
		u.LoginName,
		u.Email,
		u.FullName,
		u.Active,
		u.UpdatedAt,
		u.LastLoginAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.LoginName, store.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete removes a user; their role assignments cascade.
func (s *UserStore) Delete(ctx context.Context, tenantID, userID uuid.UUID) error {
	result, err := s.db.q(ctx).Exec(ctx, `DELETE FROM users WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
