package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Admin implements the back-office management operations: tenant hierarchy,
// user accounts, roles and permission grants. Every mutation validates its
// input before touching the store; tenancy scoping is enforced here, not in
// the handlers.
type Admin struct {
	store Store
}

// NewAdmin constructs the management service.
func NewAdmin(store Store) (*Admin, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Admin{store: store}, nil
}

// --- tenants ---

// CreateTenantInput carries a tenant creation request.
type CreateTenantInput struct {
	Name        string
	Domain      string
	Description string
	ParentID    *string
}

// CreateTenant registers a tenant, optionally as a child of an existing one.
func (a *Admin) CreateTenant(ctx context.Context, in CreateTenantInput) (*Tenant, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Domain = strings.TrimSpace(strings.ToLower(in.Domain))
	if in.Name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	}
	if in.Domain == "" {
		return nil, fmt.Errorf("%w: tenant domain is required", ErrInvalidInput)
	}
	if in.ParentID != nil {
		if _, err := a.store.Tenants().Find(ctx, *in.ParentID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: parent tenant %s", ErrNotFound, *in.ParentID)
			}
			return nil, err
		}
	}

	tenant := &Tenant{
		Name:        in.Name,
		Domain:      in.Domain,
		Description: in.Description,
		ParentID:    in.ParentID,
		Active:      true,
	}
	if err := a.store.Tenants().Create(ctx, tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

// GetTenant returns a tenant by id.
func (a *Admin) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	return a.store.Tenants().Find(ctx, id)
}

// ListTenants returns all tenants.
func (a *Admin) ListTenants(ctx context.Context) ([]*Tenant, error) {
	return a.store.Tenants().List(ctx)
}

// ListChildTenants returns the direct children of a tenant.
func (a *Admin) ListChildTenants(ctx context.Context, parentID string) ([]*Tenant, error) {
	if _, err := a.store.Tenants().Find(ctx, parentID); err != nil {
		return nil, err
	}
	return a.store.Tenants().Children(ctx, parentID)
}

// UpdateTenant applies a partial update. Re-parenting a tenant onto itself is
// rejected; deeper cycle detection is left to the store's FK layout, which
// only allows existing ids.
func (a *Admin) UpdateTenant(ctx context.Context, id string, upd TenantUpdate) (*Tenant, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: tenant name cannot be blank", ErrInvalidInput)
	}
	if upd.ParentID != nil {
		if *upd.ParentID == id {
			return nil, fmt.Errorf("%w: tenant cannot be its own parent", ErrInvalidInput)
		}
		if _, err := a.store.Tenants().Find(ctx, *upd.ParentID); err != nil {
			return nil, err
		}
	}
	return a.store.Tenants().Update(ctx, id, upd)
}

// DeleteTenant removes a tenant. Tenants with children cannot be deleted.
func (a *Admin) DeleteTenant(ctx context.Context, id string) error {
	children, err := a.store.Tenants().Children(ctx, id)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("%w: tenant has %d child tenants", ErrConflict, len(children))
	}
	return a.store.Tenants().Delete(ctx, id)
}

// --- users ---

// CreateUserInput carries an administrative user creation request.
type CreateUserInput struct {
	TenantID  string
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	RoleIDs   []string
}

// CreateUser provisions an account inside a tenant and optionally assigns
// initial roles. The roles must belong to the same tenant.
func (a *Admin) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	switch {
	case in.TenantID == "":
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	case in.Username == "":
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	case in.Email == "" || !strings.Contains(in.Email, "@"):
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	case len(in.Password) < 6:
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidInput)
	}
	if _, err := a.store.Tenants().Find(ctx, in.TenantID); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		TenantID:     in.TenantID,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Active:       true,
	}
	if err := a.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	if err := a.store.Profiles().Create(ctx, &Profile{UserID: user.ID}); err != nil {
		return nil, err
	}

	for _, roleID := range in.RoleIDs {
		if err := a.assignRoleChecked(ctx, user, roleID); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// GetUser returns a user by id.
func (a *Admin) GetUser(ctx context.Context, id string) (*User, error) {
	return a.store.Users().Find(ctx, id)
}

// ListUsers returns the accounts within a tenant.
func (a *Admin) ListUsers(ctx context.Context, tenantID string) ([]*User, error) {
	return a.store.Users().ListByTenant(ctx, tenantID)
}

// UpdateUser applies a partial update. A new password is hashed here; the
// plaintext never reaches the store.
func (a *Admin) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	if upd.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*upd.Email))
		if email == "" || !strings.Contains(email, "@") {
			return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		user, err := a.store.Users().Find(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing, err := a.store.Users().FindByEmail(ctx, user.TenantID, email); err == nil && existing.ID != id {
			return nil, fmt.Errorf("%w: email %s is already in use", ErrConflict, email)
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		upd.Email = &email
	}
	if upd.Password != nil {
		if len(*upd.Password) < 6 {
			return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidInput)
		}
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return nil, err
		}
		upd.Password = &hash
	}
	return a.store.Users().Update(ctx, id, upd)
}

// ChangePassword verifies the current password before storing a new hash.
// Rotation also invalidates any API keys derived from the old hash.
func (a *Admin) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := a.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	if len(next) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidInput)
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	return a.store.Users().UpdatePassword(ctx, userID, hash)
}

// DeleteUser removes an account.
func (a *Admin) DeleteUser(ctx context.Context, id string) error {
	return a.store.Users().Delete(ctx, id)
}

// GetProfile returns a user's verification profile.
func (a *Admin) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	p, err := a.store.Profiles().Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	return p, err
}

// ProfileUpdate is the mutable subset of a verification profile.
type ProfileUpdate struct {
	PhoneNumber              *string
	PhoneVerified            *bool
	SMSVerificationEnabled   *bool
	EmailVerificationEnabled *bool
}

// UpdateProfile applies verification settings. Enabling SMS verification
// without a phone number is rejected. Authenticator state is managed through
// the setup/disable flows, never here.
func (a *Admin) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*Profile, error) {
	profile, err := a.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if upd.PhoneNumber != nil {
		profile.PhoneNumber = strings.TrimSpace(*upd.PhoneNumber)
		profile.PhoneVerified = false
	}
	if upd.PhoneVerified != nil {
		profile.PhoneVerified = *upd.PhoneVerified
	}
	if upd.SMSVerificationEnabled != nil {
		if *upd.SMSVerificationEnabled && profile.PhoneNumber == "" {
			return nil, fmt.Errorf("%w: sms verification requires a phone number", ErrInvalidInput)
		}
		profile.SMSVerificationEnabled = *upd.SMSVerificationEnabled
	}
	if upd.EmailVerificationEnabled != nil {
		profile.EmailVerificationEnabled = *upd.EmailVerificationEnabled
	}
	if err := a.store.Profiles().Update(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// --- roles and permissions ---

// CreateRoleInput carries a role creation request.
type CreateRoleInput struct {
	TenantID    string
	Name        string
	Description string
	Permissions []string
}

// CreateRole registers a tenant-scoped role with an initial permission set.
func (a *Admin) CreateRole(ctx context.Context, in CreateRoleInput) (*Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if in.Name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if _, err := a.store.Tenants().Find(ctx, in.TenantID); err != nil {
		return nil, err
	}

	role := &Role{
		TenantID:    in.TenantID,
		Name:        in.Name,
		Description: in.Description,
	}
	if err := a.store.Roles().Create(ctx, role); err != nil {
		return nil, err
	}
	if len(in.Permissions) > 0 {
		if err := a.store.Permissions().SetForRole(ctx, role.ID, in.Permissions); err != nil {
			return nil, err
		}
	}
	return role, nil
}

// GetRole returns a role by id.
func (a *Admin) GetRole(ctx context.Context, id string) (*Role, error) {
	return a.store.Roles().Find(ctx, id)
}

// ListRoles returns the roles within a tenant.
func (a *Admin) ListRoles(ctx context.Context, tenantID string) ([]*Role, error) {
	return a.store.Roles().ListByTenant(ctx, tenantID)
}

// UpdateRole renames or re-describes a role. System roles are immutable.
func (a *Admin) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (*Role, error) {
	role, err := a.store.Roles().Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.System {
		return nil, fmt.Errorf("%w: system roles cannot be modified", ErrConflict)
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: role name cannot be blank", ErrInvalidInput)
	}
	return a.store.Roles().Update(ctx, id, upd)
}

// DeleteRole removes a role. System roles cannot be deleted.
func (a *Admin) DeleteRole(ctx context.Context, id string) error {
	role, err := a.store.Roles().Find(ctx, id)
	if err != nil {
		return err
	}
	if role.System {
		return fmt.Errorf("%w: system roles cannot be deleted", ErrConflict)
	}
	return a.store.Roles().Delete(ctx, id)
}

// SetRolePermissions replaces a role's permission grants. Unknown permission
// names are rejected against the catalog before writing.
func (a *Admin) SetRolePermissions(ctx context.Context, roleID string, names []string) error {
	role, err := a.store.Roles().Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.System {
		return fmt.Errorf("%w: system roles cannot be modified", ErrConflict)
	}

	catalog, err := a.store.Permissions().List(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(catalog))
	for _, p := range catalog {
		known[p.Name] = struct{}{}
	}
	for _, name := range names {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, name)
		}
	}
	return a.store.Permissions().SetForRole(ctx, roleID, names)
}

// ListPermissions returns the global permission catalog.
func (a *Admin) ListPermissions(ctx context.Context) ([]Permission, error) {
	return a.store.Permissions().List(ctx)
}

// RolePermissions returns the grants attached to a role.
func (a *Admin) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	if _, err := a.store.Roles().Find(ctx, roleID); err != nil {
		return nil, err
	}
	return a.store.Permissions().ForRole(ctx, roleID)
}

// AssignRole attaches a role to a user within the same tenant.
func (a *Admin) AssignRole(ctx context.Context, userID, roleID string) error {
	user, err := a.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	return a.assignRoleChecked(ctx, user, roleID)
}

// RemoveRole detaches a role from a user.
func (a *Admin) RemoveRole(ctx context.Context, userID, roleID string) error {
	return a.store.Roles().RemoveFromUser(ctx, userID, roleID)
}

// UserRoles returns the roles attached to a user.
func (a *Admin) UserRoles(ctx context.Context, userID string) ([]*Role, error) {
	if _, err := a.store.Users().Find(ctx, userID); err != nil {
		return nil, err
	}
	return a.store.Roles().ForUser(ctx, userID)
}

func (a *Admin) assignRoleChecked(ctx context.Context, user *User, roleID string) error {
	role, err := a.store.Roles().Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.TenantID != user.TenantID {
		return fmt.Errorf("%w: role %s belongs to another tenant", ErrInvalidInput, roleID)
	}
	return a.store.Roles().AssignToUser(ctx, user.ID, roleID)
}
