package memory

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
)

// CredentialStore implements store.CredentialStore using in-memory storage.
type CredentialStore struct {
	db *DB
}

var _ store.CredentialStore = (*CredentialStore)(nil)

func (s *CredentialStore) Get(ctx context.Context, tenantID, userID uuid.UUID) (*models.Credential, error) {
	var result *models.Credential
	err := s.db.read(ctx, func(st *state) error {
		c, ok := st.credentials[userID]
		if !ok || c.TenantID != tenantID {
			return store.ErrNotFound
		}
		result = cloneCredential(c)
		return nil
	})
	return result, err
}

func (s *CredentialStore) Put(ctx context.Context, credential *models.Credential) error {
	return s.db.write(ctx, func(st *state) error {
		u, ok := st.users[credential.UserID]
		if !ok || u.TenantID != credential.TenantID {
			return store.ErrNotFound
		}

		c := cloneCredential(credential)
		c.FailedAttempts = 0
		c.UpdatedAt = stamp(c.UpdatedAt)
		st.credentials[c.UserID] = c
		return nil
	})
}

func (s *CredentialStore) RecordFailure(ctx context.Context, tenantID, userID uuid.UUID) (int, error) {
	count := 0
	err := s.update(ctx, tenantID, userID, func(c *models.Credential) {
		c.FailedAttempts++
		count = c.FailedAttempts
	})
	return count, err
}

func (s *CredentialStore) ResetFailures(ctx context.Context, tenantID, userID uuid.UUID) error {
	return s.update(ctx, tenantID, userID, func(c *models.Credential) {
		c.FailedAttempts = 0
	})
}

func (s *CredentialStore) update(ctx context.Context, tenantID, userID uuid.UUID, mutate func(*models.Credential)) error {
	return s.db.write(ctx, func(st *state) error {
		existing, ok := st.credentials[userID]
		if !ok || existing.TenantID != tenantID {
			return store.ErrNotFound
		}

		c := cloneCredential(existing)
		mutate(c)
		c.UpdatedAt = time.Now().UTC()
		st.credentials[userID] = c
		return nil
	})
}

func cloneCredential(c *models.Credential) *models.Credential {
	clone := *c
	clone.Hash = bytes.Clone(c.Hash)
	return &clone
}
