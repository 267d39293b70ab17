// Package credit tracks per-tenant messaging credit. Every balance change is
// an append-only entry; the tenant's balance is the sum of its entries.
// Mutations carry caller-supplied idempotency keys so that retried requests
// cannot double-charge.
package credit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientCredit is returned when a charge would take the balance
	// below zero.
	ErrInsufficientCredit = errors.New("credit: insufficient balance")

	// ErrTenantNotFound is returned for operations on unknown tenants.
	ErrTenantNotFound = errors.New("credit: tenant not found")

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("credit: amount must be positive")
)

// EntryKind distinguishes balance increases from decreases.
type EntryKind string

const (
	KindTopup  EntryKind = "topup"
	KindCharge EntryKind = "charge"
)

// Entry is one immutable balance movement.
type Entry struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Kind           EntryKind `json:"kind"`
	Amount         int64     `json:"amount"`
	Balance        int64     `json:"balance"`
	Reason         string    `json:"reason,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists credit entries and resolves balances. Apply must be atomic:
// the balance check, the entry append and the tenant balance update happen
// under one transaction or not at all. A repeated idempotency key returns the
// previously recorded entry instead of appending.
type Store interface {
	Apply(ctx context.Context, tenantID string, kind EntryKind, amount int64, reason, idemKey string) (*Entry, bool, error)
	Balance(ctx context.Context, tenantID string) (int64, error)
	History(ctx context.Context, tenantID string, limit int) ([]*Entry, error)
}

// Service validates credit operations before handing them to the store.
type Service struct {
	store Store
}

// NewService constructs the credit service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Service{store: store}, nil
}

// Topup increases a tenant's balance. Replaying the same idempotency key
// returns the original entry without changing the balance again.
func (s *Service) Topup(ctx context.Context, tenantID string, amount int64, reason, idemKey string) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	entry, _, err := s.store.Apply(ctx, tenantID, KindTopup, amount, reason, idemKey)
	return entry, err
}

// Charge decreases a tenant's balance, failing with ErrInsufficientCredit
// rather than letting it go negative.
func (s *Service) Charge(ctx context.Context, tenantID string, amount int64, reason, idemKey string) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	entry, _, err := s.store.Apply(ctx, tenantID, KindCharge, amount, reason, idemKey)
	return entry, err
}

// Balance returns the tenant's current balance.
func (s *Service) Balance(ctx context.Context, tenantID string) (int64, error) {
	return s.store.Balance(ctx, tenantID)
}

// History returns the tenant's most recent entries, newest first.
func (s *Service) History(ctx context.Context, tenantID string, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.History(ctx, tenantID, limit)
}
