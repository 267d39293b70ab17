package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for local development and tests. It
// enforces the same uniqueness rules the relational backend does, but without
// durability.
type MemoryStore struct {
	mu       sync.Mutex
	seq      int
	tenants  map[string]*Tenant
	users    map[string]*User
	profiles map[string]*Profile
	roles    map[string]*Role
	perms    map[string]Permission   // by name
	rolePerm map[string][]string     // roleID -> permission names
	userRole map[string]map[string]struct{}
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:  map[string]*Tenant{},
		users:    map[string]*User{},
		profiles: map[string]*Profile{},
		roles:    map[string]*Role{},
		perms:    map[string]Permission{},
		rolePerm: map[string][]string{},
		userRole: map[string]map[string]struct{}{},
	}
}

func (m *MemoryStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *MemoryStore) Tenants() TenantStore         { return (*memTenants)(m) }
func (m *MemoryStore) Users() UserStore             { return (*memUsers)(m) }
func (m *MemoryStore) Profiles() ProfileStore       { return (*memProfiles)(m) }
func (m *MemoryStore) Roles() RoleStore             { return (*memRoles)(m) }
func (m *MemoryStore) Permissions() PermissionStore { return (*memPerms)(m) }

type memTenants MemoryStore

func (m *memTenants) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tenants {
		if existing.Domain == t.Domain {
			return ErrConflict
		}
	}
	t.ID = (*MemoryStore)(m).nextID("tenant")
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *memTenants) Find(_ context.Context, id string) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTenants) List(_ context.Context) ([]*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memTenants) Children(_ context.Context, parentID string) ([]*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Tenant
	for _, t := range m.tenants {
		if t.ParentID != nil && *t.ParentID == parentID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memTenants) Update(_ context.Context, id string, upd TenantUpdate) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		t.Name = *upd.Name
	}
	if upd.Domain != nil {
		t.Domain = *upd.Domain
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.Active != nil {
		t.Active = *upd.Active
	}
	if upd.ParentID != nil {
		t.ParentID = upd.ParentID
	}
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, nil
}

func (m *memTenants) AdjustCredit(_ context.Context, id string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return 0, ErrNotFound
	}
	t.Credit += delta
	return t.Credit, nil
}

func (m *memTenants) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[id]; !ok {
		return ErrNotFound
	}
	delete(m.tenants, id)
	return nil
}

type memUsers MemoryStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.TenantID == u.TenantID && (existing.Username == u.Username || existing.Email == u.Email) {
			return ErrConflict
		}
	}
	u.ID = (*MemoryStore)(m).nextID("user")
	u.CreatedAt = time.Now().UTC()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByEmail(_ context.Context, tenantID, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TenantID == tenantID && u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) ListByTenant(_ context.Context, tenantID string) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.users {
		if u.TenantID == tenantID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memUsers) Update(_ context.Context, id string, upd UserUpdate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	if upd.Password != nil {
		u.PasswordHash = *upd.Password
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memUsers) TouchLastLogin(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	u.LastLoginAt = &now
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

type memProfiles MemoryStore

func (m *memProfiles) Create(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.UserID]; ok {
		return ErrConflict
	}
	cp := *p
	m.profiles[p.UserID] = &cp
	return nil
}

func (m *memProfiles) Find(_ context.Context, userID string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProfiles) Update(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.UserID]; !ok {
		return ErrNotFound
	}
	cp := *p
	m.profiles[p.UserID] = &cp
	return nil
}

type memRoles MemoryStore

func (m *memRoles) Create(_ context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.TenantID == r.TenantID && existing.Name == r.Name {
			return ErrConflict
		}
	}
	r.ID = (*MemoryStore)(m).nextID("role")
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.roles[r.ID] = &cp
	return nil
}

func (m *memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRoles) ListByTenant(_ context.Context, tenantID string) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Role
	for _, r := range m.roles {
		if r.TenantID == tenantID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRoles) Update(_ context.Context, id string, upd RoleUpdate) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	r.UpdatedAt = time.Now().UTC()
	cp := *r
	return &cp, nil
}

func (m *memRoles) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	delete(m.rolePerm, id)
	for _, assigned := range m.userRole {
		delete(assigned, id)
	}
	return nil
}

func (m *memRoles) AssignToUser(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	if m.userRole[userID] == nil {
		m.userRole[userID] = map[string]struct{}{}
	}
	m.userRole[userID][roleID] = struct{}{}
	return nil
}

func (m *memRoles) RemoveFromUser(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userRole[userID], roleID)
	return nil
}

func (m *memRoles) ForUser(_ context.Context, userID string) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Role
	for roleID := range m.userRole[userID] {
		if r, ok := m.roles[roleID]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memPerms MemoryStore

func (m *memPerms) Ensure(_ context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		if _, ok := m.perms[p.Name]; !ok {
			p.ID = (*MemoryStore)(m).nextID("perm")
			m.perms[p.Name] = p
		}
	}
	return nil
}

func (m *memPerms) List(_ context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	return out, nil
}

func (m *memPerms) SetForRole(_ context.Context, roleID string, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolePerm[roleID] = append([]string(nil), names...)
	return nil
}

func (m *memPerms) ForRole(_ context.Context, roleID string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, name := range m.rolePerm[roleID] {
		if p, ok := m.perms[name]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
