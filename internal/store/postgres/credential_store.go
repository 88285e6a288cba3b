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

// CredentialStore implements store.CredentialStore. The composite foreign key
// to users keeps a credential inside its user's tenant.
type CredentialStore struct {
	db *DB
}

var _ store.CredentialStore = (*CredentialStore)(nil)

func (s *CredentialStore) Get(ctx context.Context, tenantID, userID uuid.UUID) (*models.Credential, error) {
	query := `
		SELECT user_id, tenant_id, password_hash, failed_attempts, updated_at
		FROM user_credentials
		WHERE tenant_id = $1 AND user_id = $2
	`

	var c models.Credential
	err := s.db.q(ctx).QueryRow(ctx, query, tenantID, userID).
		Scan(&c.UserID, &c.TenantID, &c.Hash, &c.FailedAttempts, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &c, nil
}

func (s *CredentialStore) Put(ctx context.Context, c *models.Credential) error {
	query := `
		INSERT INTO user_credentials (user_id, tenant_id, password_hash, failed_attempts, updated_at)
		VALUES ($1, $2, $3, 0, now())
		ON CONFLICT (user_id) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, failed_attempts = 0, updated_at = now()
		WHERE user_credentials.tenant_id = EXCLUDED.tenant_id
	`

	tag, err := s.db.q(ctx).Exec(ctx, query, c.UserID, c.TenantID, c.Hash)
	if err != nil {
		return insertError("credential", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential: %w", store.ErrNotFound)
	}
	return nil
}

func (s *CredentialStore) RecordFailure(ctx context.Context, tenantID, userID uuid.UUID) (int, error) {
	query := `
		UPDATE user_credentials
		SET failed_attempts = failed_attempts + 1, updated_at = now()
		WHERE tenant_id = $1 AND user_id = $2
		RETURNING failed_attempts
	`

	var count int
	if err := s.db.q(ctx).QueryRow(ctx, query, tenantID, userID).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("failed to record login failure: %w", mapPostgresError(err))
	}
	return count, nil
}

func (s *CredentialStore) ResetFailures(ctx context.Context, tenantID, userID uuid.UUID) error {
	query := `
		UPDATE user_credentials
		SET failed_attempts = 0, updated_at = now()
		WHERE tenant_id = $1 AND user_id = $2 AND failed_attempts > 0
	`

	if _, err := s.db.q(ctx).Exec(ctx, query, tenantID, userID); err != nil {
		return fmt.Errorf("failed to reset login failures: %w", mapPostgresError(err))
	}
	return nil
}
