// Package memory implements the store interfaces in process memory.
// Data is lost on restart; it backs development servers and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
)

type rolePermissionKey struct {
	roleID       uuid.UUID
	permissionID uuid.UUID
}

type userRoleKey struct {
	userID uuid.UUID
	roleID uuid.UUID
}

// state holds every table. Rows are replaced, never mutated in place, so a
// shallow copy of the maps is a consistent snapshot.
type state struct {
	tenants         map[uuid.UUID]*models.Tenant
	permissions     map[uuid.UUID]*models.Permission
	users           map[uuid.UUID]*models.User
	roles           map[uuid.UUID]*models.Role
	sections        map[uuid.UUID]*models.Section
	rolePermissions map[rolePermissionKey]*models.RolePermission
	userRoles       map[userRoleKey]*models.UserRole
	credentials     map[uuid.UUID]*models.Credential
}

func newState() *state {
	return &state{
		tenants:         make(map[uuid.UUID]*models.Tenant),
		permissions:     make(map[uuid.UUID]*models.Permission),
		users:           make(map[uuid.UUID]*models.User),
		roles:           make(map[uuid.UUID]*models.Role),
		sections:        make(map[uuid.UUID]*models.Section),
		rolePermissions: make(map[rolePermissionKey]*models.RolePermission),
		userRoles:       make(map[userRoleKey]*models.UserRole),
		credentials:     make(map[uuid.UUID]*models.Credential),
	}
}

func (s *state) clone() *state {
	return &state{
		tenants:         cloneMap(s.tenants),
		permissions:     cloneMap(s.permissions),
		users:           cloneMap(s.users),
		roles:           cloneMap(s.roles),
		sections:        cloneMap(s.sections),
		rolePermissions: cloneMap(s.rolePermissions),
		userRoles:       cloneMap(s.userRoles),
		credentials:     cloneMap(s.credentials),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type tx struct {
	mu sync.Mutex
	st *state
}

type txKey struct {
	db *DB
}

// DB is an in-memory database shared by all memory stores.
//
// Transactions are copy on write: InTx snapshots the state, runs against the
// snapshot and swaps it in on success. Writers are serialized by txMu, which
// also provides the per-tenant lock required by LockTenant.
type DB struct {
	txMu sync.Mutex

	mu sync.RWMutex
	st *state
}

// NewDB creates an empty in-memory database.
func NewDB() *DB {
	return &DB{st: newState()}
}

// Stores returns every memory backed store sharing this database.
func (db *DB) Stores() store.Stores {
	return store.Stores{
		Tenants:     &TenantStore{db: db},
		Permissions: &PermissionStore{db: db},
		Users:       NewUserBackend(db),
		Roles:       NewRoleBackend(db),
		Sections:    NewSectionBackend(db),
		Assignments: &AssignmentStore{db: db},
		Credentials: &CredentialStore{db: db},
		Tx:          db,
	}
}

// InTx runs fn against a private snapshot and commits it if fn succeeds and
// ctx has not been cancelled. Calls made with a context already inside a
// transaction of this DB join it.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.txFrom(ctx) != nil {
		return fn(ctx)
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.RLock()
	t := &tx{st: db.st.clone()}
	db.mu.RUnlock()

	txCtx := store.MarkTransaction(context.WithValue(ctx, txKey{db: db}, t))
	if err := fn(txCtx); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	db.mu.Lock()
	db.st = t.st
	db.mu.Unlock()

	return nil
}

func (db *DB) txFrom(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{db: db}).(*tx)
	return t
}

// read runs fn against the transaction snapshot or the committed state.
func (db *DB) read(ctx context.Context, fn func(st *state) error) error {
	if t := db.txFrom(ctx); t != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		return fn(t.st)
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	return fn(db.st)
}

// write runs fn inside the current transaction or a new single statement one.
func (db *DB) write(ctx context.Context, fn func(st *state) error) error {
	if t := db.txFrom(ctx); t != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		return fn(t.st)
	}

	return db.InTx(ctx, func(ctx context.Context) error {
		return db.write(ctx, fn)
	})
}

func (st *state) countSections(tenantID uuid.UUID) int {
	n := 0
	for _, sec := range st.sections {
		if sec.TenantID == tenantID {
			n++
		}
	}
	return n
}

func (st *state) countUsers(tenantID uuid.UUID) int {
	n := 0
	for _, u := range st.users {
		if u.TenantID == tenantID {
			n++
		}
	}
	return n
}

func (st *state) deleteUser(id uuid.UUID) {
	delete(st.users, id)
	delete(st.credentials, id)
	for k := range st.userRoles {
		if k.userID == id {
			delete(st.userRoles, k)
		}
	}
}

func (st *state) deleteRole(id uuid.UUID) {
	delete(st.roles, id)
	for k := range st.rolePermissions {
		if k.roleID == id {
			delete(st.rolePermissions, k)
		}
	}
}

func (st *state) roleHeld(id uuid.UUID) bool {
	for k := range st.userRoles {
		if k.roleID == id {
			return true
		}
	}
	return false
}

func (st *state) permissionGranted(id uuid.UUID) bool {
	for k := range st.rolePermissions {
		if k.permissionID == id {
			return true
		}
	}
	return false
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
