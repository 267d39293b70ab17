package auth

import "context"

// Store describes the relational persistence the auth subsystem requires.
// Backends must enforce uniqueness on (username, tenant), (email, tenant),
// (role name, tenant) and permission name globally.
type Store interface {
	Tenants() TenantStore
	Users() UserStore
	Profiles() ProfileStore
	Roles() RoleStore
	Permissions() PermissionStore
}

// TenantStore manages the tenant hierarchy.
type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	Find(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)
	Children(ctx context.Context, parentID string) ([]*Tenant, error)
	Update(ctx context.Context, id string, upd TenantUpdate) (*Tenant, error)
	AdjustCredit(ctx context.Context, id string, delta int64) (int64, error)
	Delete(ctx context.Context, id string) error
}

// UserStore manages user accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, tenantID, email string) (*User, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*User, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	TouchLastLogin(ctx context.Context, userID string) error
	Delete(ctx context.Context, id string) error
}

// ProfileStore manages verification profiles (one per user).
type ProfileStore interface {
	Create(ctx context.Context, p *Profile) error
	Find(ctx context.Context, userID string) (*Profile, error)
	Update(ctx context.Context, p *Profile) error
}

// RoleStore manages roles and user-role assignments.
type RoleStore interface {
	Create(ctx context.Context, r *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Role, error)
	Update(ctx context.Context, id string, upd RoleUpdate) (*Role, error)
	Delete(ctx context.Context, id string) error
	AssignToUser(ctx context.Context, userID, roleID string) error
	RemoveFromUser(ctx context.Context, userID, roleID string) error
	ForUser(ctx context.Context, userID string) ([]*Role, error)
}

// PermissionStore manages the global permission catalog.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	SetForRole(ctx context.Context, roleID string, names []string) error
	ForRole(ctx context.Context, roleID string) ([]Permission, error)
}
