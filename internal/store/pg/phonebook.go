package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"smspanel.org/internal/ids"
	"smspanel.org/internal/phonebook"
)

// Phonebook returns the directory store backed by the same connection pool.
func (s *Store) Phonebook() phonebook.Store { return (*phonebookStore)(s) }

type phonebookStore Store

var _ phonebook.Store = (*phonebookStore)(nil)

func (s *phonebookStore) mapErr(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return phonebook.ErrConflict
		case pgErrForeignKeyViolation:
			return phonebook.ErrNotFound
		}
	}
	return err
}

const contactColumns = `id, tenant_id, coalesce(group_id,''), phone_number, coalesce(first_name,''), coalesce(last_name,''), coalesce(email,''), coalesce(notes,''), created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*phonebook.Contact, error) {
	var c phonebook.Contact
	if err := row.Scan(&c.ID, &c.TenantID, &c.GroupID, &c.PhoneNumber, &c.FirstName, &c.LastName, &c.Email, &c.Notes, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *phonebookStore) CreateContact(ctx context.Context, c *phonebook.Contact) error {
	c.ID = ids.New()
	err := s.db.QueryRowContext(ctx, `
		insert into contacts (id, tenant_id, group_id, phone_number, first_name, last_name, email, notes)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, c.ID, c.TenantID, nullIfEmpty(c.GroupID), c.PhoneNumber,
		nullIfEmpty(c.FirstName), nullIfEmpty(c.LastName), nullIfEmpty(c.Email), nullIfEmpty(c.Notes)).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return s.mapErr(err)
	}
	return nil
}

func (s *phonebookStore) FindContact(ctx context.Context, tenantID, id string) (*phonebook.Contact, error) {
	c, err := scanContact(s.db.QueryRowContext(ctx,
		`select `+contactColumns+` from contacts where tenant_id = $1 and id = $2`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, phonebook.ErrNotFound
	}
	return c, err
}

func (s *phonebookStore) ListContacts(ctx context.Context, tenantID, groupID string) ([]*phonebook.Contact, error) {
	query := `select ` + contactColumns + ` from contacts where tenant_id = $1`
	args := []any{tenantID}
	if groupID != "" {
		query += ` and group_id = $2`
		args = append(args, groupID)
	}
	query += ` order by phone_number`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*phonebook.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *phonebookStore) UpdateContact(ctx context.Context, tenantID, id string, upd phonebook.ContactUpdate) (*phonebook.Contact, error) {
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
	if upd.GroupID != nil {
		set("group_id", nullIfEmpty(*upd.GroupID))
	}
	if upd.PhoneNumber != nil {
		set("phone_number", *upd.PhoneNumber)
	}
	if upd.FirstName != nil {
		set("first_name", nullIfEmpty(*upd.FirstName))
	}
	if upd.LastName != nil {
		set("last_name", nullIfEmpty(*upd.LastName))
	}
	if upd.Email != nil {
		set("email", nullIfEmpty(*upd.Email))
	}
	if upd.Notes != nil {
		set("notes", nullIfEmpty(*upd.Notes))
	}
	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = now()")
		query := fmt.Sprintf(`update contacts set %s where tenant_id = $%d and id = $%d`,
			strings.Join(setClauses, ", "), idx, idx+1)
		args = append(args, tenantID, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, s.mapErr(err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, phonebook.ErrNotFound
		}
	}
	return s.FindContact(ctx, tenantID, id)
}

func (s *phonebookStore) DeleteContact(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from contacts where tenant_id = $1 and id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return phonebook.ErrNotFound
	}
	return nil
}

func (s *phonebookStore) CreateGroup(ctx context.Context, g *phonebook.Group) error {
	g.ID = ids.New()
	err := s.db.QueryRowContext(ctx, `
		insert into contact_groups (id, tenant_id, name, description)
		values ($1, $2, $3, $4)
		returning created_at
	`, g.ID, g.TenantID, g.Name, nullIfEmpty(g.Description)).Scan(&g.CreatedAt)
	if err != nil {
		return s.mapErr(err)
	}
	return nil
}

func (s *phonebookStore) FindGroup(ctx context.Context, tenantID, id string) (*phonebook.Group, error) {
	var g phonebook.Group
	err := s.db.QueryRowContext(ctx, `
		select id, tenant_id, name, coalesce(description,''), created_at
		from contact_groups where tenant_id = $1 and id = $2
	`, tenantID, id).Scan(&g.ID, &g.TenantID, &g.Name, &g.Description, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, phonebook.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *phonebookStore) ListGroups(ctx context.Context, tenantID string) ([]*phonebook.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, name, coalesce(description,''), created_at
		from contact_groups where tenant_id = $1 order by name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*phonebook.Group
	for rows.Next() {
		var g phonebook.Group
		if err := rows.Scan(&g.ID, &g.TenantID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &g)
	}
	return result, rows.Err()
}

// DeleteGroup detaches the group's contacts before removing it, in one
// transaction, so contacts survive ungrouped.
func (s *phonebookStore) DeleteGroup(ctx context.Context, tenantID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update contacts set group_id = null, updated_at = now()
		where tenant_id = $1 and group_id = $2
	`, tenantID, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from contact_groups where tenant_id = $1 and id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return phonebook.ErrNotFound
	}
	return tx.Commit()
}

func (s *phonebookStore) AddToBlacklist(ctx context.Context, e *phonebook.BlacklistEntry) error {
	e.ID = ids.New()
	err := s.db.QueryRowContext(ctx, `
		insert into blacklist (id, tenant_id, phone_number, reason)
		values ($1, $2, $3, $4)
		returning created_at
	`, e.ID, e.TenantID, e.PhoneNumber, nullIfEmpty(e.Reason)).Scan(&e.CreatedAt)
	if err != nil {
		return s.mapErr(err)
	}
	return nil
}

func (s *phonebookStore) ListBlacklist(ctx context.Context, tenantID string) ([]*phonebook.BlacklistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, phone_number, coalesce(reason,''), created_at
		from blacklist where tenant_id = $1 order by phone_number
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*phonebook.BlacklistEntry
	for rows.Next() {
		var e phonebook.BlacklistEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.PhoneNumber, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

func (s *phonebookStore) IsBlacklisted(ctx context.Context, tenantID, phoneNumber string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from blacklist where tenant_id = $1 and phone_number = $2)
	`, tenantID, phoneNumber).Scan(&exists)
	return exists, err
}

func (s *phonebookStore) RemoveFromBlacklist(ctx context.Context, tenantID, phoneNumber string) error {
	res, err := s.db.ExecContext(ctx, `delete from blacklist where tenant_id = $1 and phone_number = $2`, tenantID, phoneNumber)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return phonebook.ErrNotFound
	}
	return nil
}
