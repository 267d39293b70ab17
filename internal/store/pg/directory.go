package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"smspanel.org/internal/auth"
	"smspanel.org/internal/ids"
)

// --- tenants ---

type tenantStore Store

func (s *tenantStore) Create(ctx context.Context, t *auth.Tenant) error {
	t.ID = ids.New()
	err := s.db.QueryRowContext(ctx, `
		insert into tenants (id, name, domain, description, parent_id, active, credit)
		values ($1, $2, $3, $4, $5, $6, 0)
		returning created_at, updated_at
	`, t.ID, t.Name, t.Domain, nullIfEmpty(t.Description), nullIfNilStr(t.ParentID), t.Active).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return mapConstraintErr(err)
	}
	return nil
}

const tenantColumns = `id, name, domain, coalesce(description,''), parent_id, active, credit, created_at, updated_at`

func scanTenant(row interface{ Scan(...any) error }) (*auth.Tenant, error) {
	var (
		t      auth.Tenant
		parent sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Domain, &t.Description, &parent, &t.Active, &t.Credit, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.ParentID = strPtr(parent)
	return &t, nil
}

func (s *tenantStore) Find(ctx context.Context, id string) (*auth.Tenant, error) {
	t, err := scanTenant(s.db.QueryRowContext(ctx, `select `+tenantColumns+` from tenants where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return t, err
}

func (s *tenantStore) List(ctx context.Context) ([]*auth.Tenant, error) {
	return s.queryTenants(ctx, `select `+tenantColumns+` from tenants order by name`)
}

func (s *tenantStore) Children(ctx context.Context, parentID string) ([]*auth.Tenant, error) {
	return s.queryTenants(ctx, `select `+tenantColumns+` from tenants where parent_id = $1 order by name`, parentID)
}

func (s *tenantStore) queryTenants(ctx context.Context, query string, args ...any) ([]*auth.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *tenantStore) Update(ctx context.Context, id string, upd auth.TenantUpdate) (*auth.Tenant, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	set := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if upd.Name != nil {
		set("name", *upd.Name)
	}
	if upd.Domain != nil {
		set("domain", *upd.Domain)
	}
	if upd.Description != nil {
		set("description", nullIfEmpty(*upd.Description))
	}
	if upd.Active != nil {
		set("active", *upd.Active)
	}
	if upd.ParentID != nil {
		set("parent_id", nullIfEmpty(*upd.ParentID))
	}
	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = now()")
		query := fmt.Sprintf(`update tenants set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, mapConstraintErr(err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, auth.ErrNotFound
		}
	}
	return s.Find(ctx, id)
}

func (s *tenantStore) AdjustCredit(ctx context.Context, id string, delta int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		update tenants set credit = credit + $2, updated_at = now()
		where id = $1
		returning credit
	`, id, delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, auth.ErrNotFound
	}
	return balance, err
}

func (s *tenantStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from tenants where id = $1`, id)
	if err != nil {
		return mapConstraintErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// --- users ---

type userStore Store

const userColumns = `id, tenant_id, username, email, password_hash, coalesce(first_name,''), coalesce(last_name,''), active, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (*auth.User, error) {
	var (
		u         auth.User
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Active, &u.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	u.LastLoginAt = timePtr(lastLogin)
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	u.ID = ids.New()
	err := s.db.QueryRowContext(ctx, `
		insert into users (id, tenant_id, username, email, password_hash, first_name, last_name, active)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at
	`, u.ID, u.TenantID, u.Username, u.Email, u.PasswordHash, nullIfEmpty(u.FirstName), nullIfEmpty(u.LastName), u.Active).
		Scan(&u.CreatedAt)
	if err != nil {
		return mapConstraintErr(err)
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return u, err
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return u, err
}

func (s *userStore) FindByEmail(ctx context.Context, tenantID, email string) (*auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where tenant_id = $1 and email = $2`, tenantID, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return u, err
}

func (s *userStore) ListByTenant(ctx context.Context, tenantID string) ([]*auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users where tenant_id = $1 order by username`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *userStore) Update(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	set := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if upd.Email != nil {
		set("email", *upd.Email)
	}
	if upd.FirstName != nil {
		set("first_name", nullIfEmpty(*upd.FirstName))
	}
	if upd.LastName != nil {
		set("last_name", nullIfEmpty(*upd.LastName))
	}
	if upd.Active != nil {
		set("active", *upd.Active)
	}
	if upd.Password != nil {
		set("password_hash", *upd.Password)
	}
	if len(setClauses) > 0 {
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, mapConstraintErr(err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, auth.ErrNotFound
		}
	}
	return s.Find(ctx, id)
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `update users set password_hash = $2 where id = $1`, userID, passwordHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *userStore) TouchLastLogin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `update users set last_login_at = now() where id = $1`, userID)
	return err
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return mapConstraintErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// --- profiles ---

type profileStore Store

func (s *profileStore) Create(ctx context.Context, p *auth.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_profiles (user_id, phone_number, phone_verified, sms_verification_enabled,
			email_verification_enabled, authenticator_enabled, authenticator_secret)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, p.UserID, nullIfEmpty(p.PhoneNumber), p.PhoneVerified, p.SMSVerificationEnabled,
		p.EmailVerificationEnabled, p.AuthenticatorEnabled, nullIfEmpty(p.AuthenticatorSecret))
	return mapConstraintErr(err)
}

func (s *profileStore) Find(ctx context.Context, userID string) (*auth.Profile, error) {
	var (
		p         auth.Profile
		phone     sql.NullString
		secret    sql.NullString
		lastLogin sql.NullTime
		lastIP    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select user_id, phone_number, phone_verified, sms_verification_enabled,
			email_verification_enabled, authenticator_enabled, authenticator_secret,
			last_login_at, last_login_ip
		from user_profiles where user_id = $1
	`, userID).Scan(&p.UserID, &phone, &p.PhoneVerified, &p.SMSVerificationEnabled,
		&p.EmailVerificationEnabled, &p.AuthenticatorEnabled, &secret, &lastLogin, &lastIP)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.PhoneNumber = strOrEmpty(phone)
	p.AuthenticatorSecret = strOrEmpty(secret)
	p.LastLoginAt = timePtr(lastLogin)
	p.LastLoginIP = strOrEmpty(lastIP)
	return &p, nil
}

func (s *profileStore) Update(ctx context.Context, p *auth.Profile) error {
	res, err := s.db.ExecContext(ctx, `
		update user_profiles set phone_number = $2, phone_verified = $3,
			sms_verification_enabled = $4, email_verification_enabled = $5,
			authenticator_enabled = $6, authenticator_secret = $7,
			last_login_at = $8, last_login_ip = $9
		where user_id = $1
	`, p.UserID, nullIfEmpty(p.PhoneNumber), p.PhoneVerified, p.SMSVerificationEnabled,
		p.EmailVerificationEnabled, p.AuthenticatorEnabled, nullIfEmpty(p.AuthenticatorSecret),
		p.LastLoginAt, nullIfEmpty(p.LastLoginIP))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// --- roles ---

type roleStore Store

const roleColumns = `id, tenant_id, name, coalesce(description,''), is_system, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (*auth.Role, error) {
	var r auth.Role
	if err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Description, &r.System, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *roleStore) Create(ctx context.Context, r *auth.Role) error {
	r.ID = ids.New()
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, tenant_id, name, description, is_system)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, r.ID, r.TenantID, r.Name, nullIfEmpty(r.Description), r.System).
		Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return mapConstraintErr(err)
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return r, err
}

func (s *roleStore) ListByTenant(ctx context.Context, tenantID string) ([]*auth.Role, error) {
	return s.queryRoles(ctx, `select `+roleColumns+` from roles where tenant_id = $1 order by name`, tenantID)
}

func (s *roleStore) queryRoles(ctx context.Context, query string, args ...any) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *roleStore) Update(ctx context.Context, id string, upd auth.RoleUpdate) (*auth.Role, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Description))
		idx++
	}
	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = now()")
		query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, mapConstraintErr(err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, auth.ErrNotFound
		}
	}
	return s.Find(ctx, id)
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return mapConstraintErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *roleStore) AssignToUser(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		on conflict do nothing
	`, userID, roleID)
	return mapConstraintErr(err)
}

func (s *roleStore) RemoveFromUser(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `delete from user_roles where user_id = $1 and role_id = $2`, userID, roleID)
	return err
}

func (s *roleStore) ForUser(ctx context.Context, userID string) ([]*auth.Role, error) {
	return s.queryRoles(ctx, `
		select r.id, r.tenant_id, r.name, coalesce(r.description,''), r.is_system, r.created_at, r.updated_at
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		order by r.name
	`, userID)
}

// --- permissions ---

type permissionStore Store

func (s *permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		if _, err := s.db.ExecContext(ctx, `
			insert into permissions (id, name, description, perm_group)
			values ($1, $2, $3, $4)
			on conflict (name) do nothing
		`, ids.New(), p.Name, nullIfEmpty(p.Description), nullIfEmpty(p.Group)); err != nil {
			return err
		}
	}
	return nil
}

func (s *permissionStore) List(ctx context.Context) ([]auth.Permission, error) {
	return s.queryPermissions(ctx, `
		select id, name, coalesce(description,''), coalesce(perm_group,'')
		from permissions order by name
	`)
}

func (s *permissionStore) queryPermissions(ctx context.Context, query string, args ...any) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Group); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// SetForRole replaces the role's grants inside one transaction.
func (s *permissionStore) SetForRole(ctx context.Context, roleID string, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, name := range names {
		res, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			select $1, id from permissions where name = $2
		`, roleID, name)
		if err != nil {
			return mapConstraintErr(err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: unknown permission %q", auth.ErrInvalidInput, name)
		}
	}
	return tx.Commit()
}

func (s *permissionStore) ForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	return s.queryPermissions(ctx, `
		select p.id, p.name, coalesce(p.description,''), coalesce(p.perm_group,'')
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.name
	`, roleID)
}
