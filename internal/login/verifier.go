package login

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
)

// CredentialVerifier checks user passwords. Implementations may lock an
// account after repeated failures, in which case VerifyPassword reports false
// even for the right password.
type CredentialVerifier interface {
	VerifyPassword(ctx context.Context, user *models.User, plaintext string) (bool, error)
	RecordFailedAttempt(ctx context.Context, user *models.User) error
	ResetFailedAttempts(ctx context.Context, user *models.User) error
}

// UnknownUserVerifier is implemented by verifiers that can spend the same
// effort on a login naming no user as on a real password check, so response
// times do not reveal which logins exist.
type UnknownUserVerifier interface {
	VerifyUnknown(ctx context.Context, plaintext string)
}

// DefaultMaxFailures is the lockout threshold of NewBcryptVerifier.
const DefaultMaxFailures = 5

// BcryptVerifier checks passwords against bcrypt hashes kept in a credential store.
type BcryptVerifier struct {
	credentials store.CredentialStore
	maxFailures int
	cost        int
	now         func() time.Time

	decoyOnce sync.Once
	decoy     []byte
}

var (
	_ CredentialVerifier  = (*BcryptVerifier)(nil)
	_ UnknownUserVerifier = (*BcryptVerifier)(nil)
)

// VerifierOption configures a BcryptVerifier.
type VerifierOption func(*BcryptVerifier)

// WithMaxFailures locks an account after n consecutive failures; zero disables lockout.
func WithMaxFailures(n int) VerifierOption {
	return func(v *BcryptVerifier) { v.maxFailures = n }
}

// WithCost sets the bcrypt cost of new hashes.
func WithCost(cost int) VerifierOption {
	return func(v *BcryptVerifier) { v.cost = cost }
}

func NewBcryptVerifier(credentials store.CredentialStore, opts ...VerifierOption) *BcryptVerifier {
	v := &BcryptVerifier{
		credentials: credentials,
		maxFailures: DefaultMaxFailures,
		cost:        bcrypt.DefaultCost,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SetPassword hashes and stores a new password and clears any lockout.
func (v *BcryptVerifier) SetPassword(ctx context.Context, user *models.User, plaintext string) error {
	if plaintext == "" {
		return fmt.Errorf("%w: password is required", models.ErrInvalid)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), v.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return fmt.Errorf("%w: %w", models.ErrInvalid, err)
		}
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return v.credentials.Put(ctx, &models.Credential{
		UserID:    user.UserID,
		TenantID:  user.TenantID,
		Hash:      hash,
		UpdatedAt: v.now(),
	})
}

// HasPassword reports whether a password was set for the user.
func (v *BcryptVerifier) HasPassword(ctx context.Context, user *models.User) (bool, error) {
	_, err := v.credentials.Get(ctx, user.TenantID, user.UserID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (v *BcryptVerifier) VerifyPassword(ctx context.Context, user *models.User, plaintext string) (bool, error) {
	cred, err := v.credentials.Get(ctx, user.TenantID, user.UserID)
	if errors.Is(err, store.ErrNotFound) {
		v.VerifyUnknown(ctx, plaintext)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if v.maxFailures > 0 && cred.FailedAttempts >= v.maxFailures {
		log.Debug().Str("user_id", user.UserID.String()).Msg("Account locked after repeated failures")
		v.VerifyUnknown(ctx, plaintext)
		return false, nil
	}

	err = bcrypt.CompareHashAndPassword(cred.Hash, []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("failed to compare password: %w", err)
	}
}

// RecordFailedAttempt counts a failure. Users without a password have nothing
// to lock.
func (v *BcryptVerifier) RecordFailedAttempt(ctx context.Context, user *models.User) error {
	_, err := v.credentials.RecordFailure(ctx, user.TenantID, user.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (v *BcryptVerifier) ResetFailedAttempts(ctx context.Context, user *models.User) error {
	err := v.credentials.ResetFailures(ctx, user.TenantID, user.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// VerifyUnknown compares plaintext against a throwaway hash of the verifier's
// cost and discards the result.
func (v *BcryptVerifier) VerifyUnknown(_ context.Context, plaintext string) {
	_ = bcrypt.CompareHashAndPassword(v.decoyHash(), []byte(plaintext))
}

func (v *BcryptVerifier) decoyHash() []byte {
	v.decoyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("tenantcore-decoy-password"), v.cost)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to generate decoy password hash")
			return
		}
		v.decoy = hash
	})
	return v.decoy
}
