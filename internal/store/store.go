package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/tenantcore/internal/models"
)

// Sentinel errors shared by every backend.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrReferenced    = errors.New("still referenced")
)

// Backend persists one kind of tenant owned entity. Every call names the tenant
// explicitly and implementations must restrict reads and writes to it; SQL
// implementations filter on tenant_id in every statement.
//
// Backends are not used directly by features. Wrap them with Scoped, which
// takes the tenant from the request context.
type Backend[T models.TenantOwned] interface {
	// Get returns ErrNotFound when id does not exist in tenantID.
	Get(ctx context.Context, tenantID, id uuid.UUID) (T, error)

	// List returns every entity owned by tenantID.
	List(ctx context.Context, tenantID uuid.UUID) ([]T, error)

	// Insert returns ErrAlreadyExists on an id or unique key conflict.
	Insert(ctx context.Context, entity T) error

	// Update returns ErrNotFound unless the entity exists in tenantID.
	Update(ctx context.Context, tenantID uuid.UUID, entity T) error

	// Delete returns ErrNotFound unless id exists in tenantID and ErrReferenced
	// when other records still depend on it.
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
}

// AssignmentBackend persists role-permission grants and user-role assignments.
// Storage guarantees both sides of an assignment belong to tenantID.
type AssignmentBackend interface {
	// GrantPermission is idempotent and reports whether a grant was added.
	GrantPermission(ctx context.Context, tenantID, roleID, permissionID uuid.UUID, at time.Time) (bool, error)
	RevokePermission(ctx context.Context, tenantID, roleID, permissionID uuid.UUID) (bool, error)
	PermissionIDsOfRole(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error)

	// CountPermissionGrants counts grants of a global permission across all tenants.
	CountPermissionGrants(ctx context.Context, permissionID uuid.UUID) (int, error)

	// AddUserRole is idempotent and reports whether an assignment was added.
	AddUserRole(ctx context.Context, tenantID, userID, roleID uuid.UUID, at time.Time) (bool, error)
	RemoveUserRole(ctx context.Context, tenantID, userID, roleID uuid.UUID) (bool, error)
	RoleIDsOfUser(ctx context.Context, tenantID, userID uuid.UUID) ([]uuid.UUID, error)
	UserIDsWithRole(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error)

	// LockTenant serializes role membership changes for a tenant until the
	// surrounding transaction ends.
	LockTenant(ctx context.Context, tenantID uuid.UUID) error
}

// TenantUsage counts the records a tenant owns.
type TenantUsage struct {
	Users    int
	Roles    int
	Sections int
}

// TenantStore persists tenants. Tenants are global so calls are not scoped.
type TenantStore interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	Get(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	List(ctx context.Context) ([]*models.Tenant, error)
	Update(ctx context.Context, tenant *models.Tenant) error

	// Delete removes the tenant along with its roles and assignments. It
	// returns ErrReferenced, deleting nothing, while the tenant owns users or
	// sections; the check and the delete are atomic.
	Delete(ctx context.Context, tenantID uuid.UUID) error

	Usage(ctx context.Context, tenantID uuid.UUID) (TenantUsage, error)
}

// PermissionStore persists the global permission catalog.
type PermissionStore interface {
	Create(ctx context.Context, permission *models.Permission) error
	Get(ctx context.Context, permissionID uuid.UUID) (*models.Permission, error)
	GetByName(ctx context.Context, name string) (*models.Permission, error)
	List(ctx context.Context) ([]*models.Permission, error)

	// ListByIDs skips ids that do not exist.
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Permission, error)
	Update(ctx context.Context, permission *models.Permission) error

	// Delete returns ErrReferenced while any role holds the permission.
	Delete(ctx context.Context, permissionID uuid.UUID) error
}

// CredentialStore persists password hashes. A credential belongs to a user
// of tenantID and is removed with the user.
type CredentialStore interface {
	// Get returns ErrNotFound when the user has no credential in tenantID.
	Get(ctx context.Context, tenantID, userID uuid.UUID) (*models.Credential, error)

	// Put creates or replaces a credential, clearing failed attempts. It
	// returns ErrNotFound unless the user exists in the credential's tenant.
	Put(ctx context.Context, credential *models.Credential) error

	// RecordFailure increments the failed attempt counter and returns the new count.
	RecordFailure(ctx context.Context, tenantID, userID uuid.UUID) (int, error)
	ResetFailures(ctx context.Context, tenantID, userID uuid.UUID) error
}

// TxRunner runs fn atomically. Nested calls join the outer transaction, and a
// cancelled context aborts before commit.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Stores bundles the backends of one storage implementation.
type Stores struct {
	Tenants     TenantStore
	Permissions PermissionStore
	Users       Backend[*models.User]
	Roles       Backend[*models.Role]
	Sections    Backend[*models.Section]
	Assignments AssignmentBackend
	Credentials CredentialStore
	Tx          TxRunner
}

type txMarkerKey struct{}

// MarkTransaction records that ctx runs inside a transaction. Backends call it
// from InTx so caches can avoid remembering uncommitted rows.
func MarkTransaction(ctx context.Context) context.Context {
	return context.WithValue(ctx, txMarkerKey{}, true)
}

// InTransaction reports whether ctx runs inside a transaction.
func InTransaction(ctx context.Context) bool {
	v, _ := ctx.Value(txMarkerKey{}).(bool)
	return v
}
