package pg

import (
	"context"
	"database/sql"
	"errors"

	"smspanel.org/internal/credit"
	"smspanel.org/internal/ids"
)

// Credit returns the credit ledger store backed by the same connection pool.
func (s *Store) Credit() credit.Store { return (*creditStore)(s) }

type creditStore Store

var _ credit.Store = (*creditStore)(nil)

// Apply records a balance movement. The tenant row is locked, the balance
// checked and updated, and the entry appended inside one serializable
// transaction; a replayed idempotency key short-circuits to the recorded
// entry before any locking.
func (s *creditStore) Apply(ctx context.Context, tenantID string, kind credit.EntryKind, amount int64, reason, idemKey string) (*credit.Entry, bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	if idemKey != "" {
		entry, err := scanCreditEntry(tx.QueryRowContext(ctx, `
			select id, tenant_id, kind, amount, balance, coalesce(reason,''), coalesce(idempotency_key,''), created_at
			from credit_entries
			where tenant_id = $1 and idempotency_key = $2
		`, tenantID, idemKey))
		if err == nil {
			return entry, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, err
		}
	}

	var balance int64
	err = tx.QueryRowContext(ctx, `select credit from tenants where id = $1 for update`, tenantID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, credit.ErrTenantNotFound
	}
	if err != nil {
		return nil, false, err
	}

	delta := amount
	if kind == credit.KindCharge {
		if balance < amount {
			return nil, false, credit.ErrInsufficientCredit
		}
		delta = -amount
	}
	balance += delta

	if _, err := tx.ExecContext(ctx, `
		update tenants set credit = $2, updated_at = now() where id = $1
	`, tenantID, balance); err != nil {
		return nil, false, err
	}

	entry := &credit.Entry{
		ID:             ids.New(),
		TenantID:       tenantID,
		Kind:           kind,
		Amount:         amount,
		Balance:        balance,
		Reason:         reason,
		IdempotencyKey: idemKey,
	}
	if err := tx.QueryRowContext(ctx, `
		insert into credit_entries (id, tenant_id, kind, amount, balance, reason, idempotency_key)
		values ($1, $2, $3, $4, $5, $6, nullif($7, ''))
		returning created_at
	`, entry.ID, tenantID, string(kind), amount, balance, nullIfEmpty(reason), idemKey).
		Scan(&entry.CreatedAt); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return entry, false, nil
}

func scanCreditEntry(row interface{ Scan(...any) error }) (*credit.Entry, error) {
	var (
		e    credit.Entry
		kind string
	)
	if err := row.Scan(&e.ID, &e.TenantID, &kind, &e.Amount, &e.Balance, &e.Reason, &e.IdempotencyKey, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Kind = credit.EntryKind(kind)
	return &e, nil
}

func (s *creditStore) Balance(ctx context.Context, tenantID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `select credit from tenants where id = $1`, tenantID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, credit.ErrTenantNotFound
	}
	return balance, err
}

func (s *creditStore) History(ctx context.Context, tenantID string, limit int) ([]*credit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, kind, amount, balance, coalesce(reason,''), coalesce(idempotency_key,''), created_at
		from credit_entries
		where tenant_id = $1
		order by created_at desc, id desc
		limit $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*credit.Entry
	for rows.Next() {
		e, err := scanCreditEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
