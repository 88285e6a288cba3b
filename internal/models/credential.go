package models

import (
	"time"

	"github.com/google/uuid"
)

// Credential is the password hash of a user. FailedAttempts counts
// consecutive failed logins since the last success or password change.
type Credential struct {
	UserID         uuid.UUID
	TenantID       uuid.UUID
	Hash           []byte
	FailedAttempts int
	UpdatedAt      time.Time
}
