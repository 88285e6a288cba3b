package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/tenantcore/internal/auth"
	"github.com/wolfeidau/tenantcore/internal/catalog"
	httpmiddleware "github.com/wolfeidau/tenantcore/internal/http"
	"github.com/wolfeidau/tenantcore/internal/login"
	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/rbac"
	"github.com/wolfeidau/tenantcore/internal/registry"
	"github.com/wolfeidau/tenantcore/internal/store"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

// errorStatus maps a domain error to an HTTP status and a stable error code.
// Credential failures are checked first because refresh errors may also wrap
// a tenant error.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, login.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrRefreshDenied):
		return http.StatusUnauthorized, "refresh_denied"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token"

	case errors.Is(err, tenancy.ErrMissingTenantContext):
		return http.StatusBadRequest, "missing_tenant_context"
	case errors.Is(err, models.ErrInvalid):
		return http.StatusBadRequest, "invalid_argument"

	case errors.Is(err, tenancy.ErrTenantMismatch):
		return http.StatusForbidden, "tenant_mismatch"
	case errors.Is(err, auth.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, login.ErrUserInactive):
		return http.StatusForbidden, "user_inactive"
	case errors.Is(err, tenancy.ErrTenantInactive):
		return http.StatusForbidden, "tenant_inactive"

	case errors.Is(err, tenancy.ErrUnknownTenant):
		return http.StatusNotFound, "unknown_tenant"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, catalog.ErrPermissionNotFound):
		return http.StatusNotFound, "not_found"

	case errors.Is(err, rbac.ErrDuplicateName), errors.Is(err, registry.ErrDuplicateSlug), errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, rbac.ErrRoleInUse), errors.Is(err, catalog.ErrPermissionInUse), errors.Is(err, registry.ErrTenantInUse):
		return http.StatusConflict, "in_use"
	case errors.Is(err, rbac.ErrLastAdministratorProtected):
		return http.StatusConflict, "last_administrator"
	case errors.Is(err, rbac.ErrCannotDeleteSelf):
		return http.StatusConflict, "cannot_delete_self"
	case errors.Is(err, catalog.ErrImmutablePermission):
		return http.StatusConflict, "immutable_permission"
	}

	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Request failed")
		message = "internal error"
	}

	httpmiddleware.WriteError(w, r, status, code, message)
}
