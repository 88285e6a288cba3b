package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
)

// UserInput carries the fields of a new user.
type UserInput struct {
	LoginName string
	Email     string
	FullName  string
}

// CreateUser creates an active user in the context tenant. Login name and
// email must both be unused within the tenant.
func (e *Engine) CreateUser(ctx context.Context, in UserInput) (*models.User, error) {
	id, err := e.id()
	if err != nil {
		return nil, err
	}

	user, err := models.NewUser(id, uuid.Nil, in.LoginName, in.Email, in.FullName, e.now())
	if err != nil {
		return nil, err
	}

	if err := e.checkUserUnique(ctx, user); err != nil {
		return nil, err
	}

	if err := e.users.Create(ctx, user); err != nil {
		return nil, duplicate(err, "user "+user.LoginName)
	}

	zerolog.Ctx(ctx).Info().
		Str("user_id", user.UserID.String()).
		Str("login", user.LoginName).
		Msg("Created user")

	return user, nil
}

func (e *Engine) checkUserUnique(ctx context.Context, user *models.User) error {
	_, err := e.users.First(ctx, func(u *models.User) bool {
		return u.UserID != user.UserID && (u.LoginName == user.LoginName || u.Email == user.Email)
	})
	switch {
	case err == nil:
		return fmt.Errorf("%w: user %s", ErrDuplicateName, user.LoginName)
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return err
	}
}

// UpdateUser replaces a user's email and full name.
func (e *Engine) UpdateUser(ctx context.Context, userID uuid.UUID, email, fullName string) (*models.User, error) {
	user, err := e.users.Find(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := user.SetEmail(email); err != nil {
		return nil, err
	}
	user.FullName = strings.TrimSpace(fullName)
	user.UpdatedAt = e.now()

	if err := e.checkUserUnique(ctx, user); err != nil {
		return nil, err
	}

	if err := e.users.Update(ctx, user); err != nil {
		return nil, duplicate(err, "user "+user.LoginName)
	}
	return user, nil
}

// ActivateUser lets a user log in again.
func (e *Engine) ActivateUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return e.setUserActive(ctx, userID, true)
}

// DeactivateUser blocks login and token refresh. Role assignments are kept.
func (e *Engine) DeactivateUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return e.setUserActive(ctx, userID, false)
}

func (e *Engine) setUserActive(ctx context.Context, userID uuid.UUID, active bool) (*models.User, error) {
	user, err := e.users.Find(ctx, userID)
	if err != nil {
		return nil, err
	}

	user.Active = active
	user.UpdatedAt = e.now()

	if err := e.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser deletes userID on behalf of actorID. Users cannot delete
// themselves and the tenant's last administrator cannot be deleted.
func (e *Engine) DeleteUser(ctx context.Context, actorID, userID uuid.UUID) error {
	if actorID == userID {
		return ErrCannotDeleteSelf
	}

	return e.write(ctx, func(ctx context.Context) error {
		if err := e.assignments.LockTenant(ctx); err != nil {
			return err
		}

		user, err := e.users.Find(ctx, userID)
		if err != nil {
			return err
		}

		if err := e.guardLastAdministrator(ctx, userID, uuid.Nil); err != nil {
			return err
		}

		if err := e.users.Remove(ctx, user); err != nil {
			return err
		}

		zerolog.Ctx(ctx).Info().
			Str("user_id", userID.String()).
			Str("actor_id", actorID.String()).
			Msg("Deleted user")
		return nil
	})
}

// GetUser returns a user of the context tenant.
func (e *Engine) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return e.users.Find(ctx, userID)
}

// ListUsers returns the users of the context tenant.
func (e *Engine) ListUsers(ctx context.Context) ([]*models.User, error) {
	return e.users.List(ctx, nil)
}

// FindUserByLogin finds a user by login name or email.
func (e *Engine) FindUserByLogin(ctx context.Context, login string) (*models.User, error) {
	return e.users.First(ctx, func(u *models.User) bool { return u.Matches(login) })
}

// RecordLogin stamps the user's last login time.
func (e *Engine) RecordLogin(ctx context.Context, userID uuid.UUID) error {
	user, err := e.users.Find(ctx, userID)
	if err != nil {
		return err
	}

	now := e.now()
	user.LastLoginAt = &now
	return e.users.Update(ctx, user)
}
