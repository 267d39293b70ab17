package credit

import (
	"context"
	"sync"
	"time"

	"smspanel.org/internal/ids"
)

// MemoryStore is an in-process Store used in tests and development. Tenants
// must be registered before entries can be applied, mirroring the foreign-key
// constraint of the relational backend.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  map[string][]*Entry
	byKey    map[string]*Entry
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: map[string]int64{},
		entries:  map[string][]*Entry{},
		byKey:    map[string]*Entry{},
		now:      time.Now,
	}
}

// RegisterTenant makes the tenant known with a zero balance.
func (m *MemoryStore) RegisterTenant(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[tenantID]; !ok {
		m.balances[tenantID] = 0
	}
}

// Apply implements Store.
func (m *MemoryStore) Apply(ctx context.Context, tenantID string, kind EntryKind, amount int64, reason, idemKey string) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.balances[tenantID]
	if !ok {
		return nil, false, ErrTenantNotFound
	}
	if idemKey != "" {
		if prev, ok := m.byKey[tenantID+"\x00"+idemKey]; ok {
			cp := *prev
			return &cp, true, nil
		}
	}

	delta := amount
	if kind == KindCharge {
		if balance < amount {
			return nil, false, ErrInsufficientCredit
		}
		delta = -amount
	}
	balance += delta
	m.balances[tenantID] = balance

	entry := &Entry{
		ID:             ids.New(),
		TenantID:       tenantID,
		Kind:           kind,
		Amount:         amount,
		Balance:        balance,
		Reason:         reason,
		IdempotencyKey: idemKey,
		CreatedAt:      m.now().UTC(),
	}
	m.entries[tenantID] = append(m.entries[tenantID], entry)
	if idemKey != "" {
		m.byKey[tenantID+"\x00"+idemKey] = entry
	}
	cp := *entry
	return &cp, false, nil
}

// Balance implements Store.
func (m *MemoryStore) Balance(ctx context.Context, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[tenantID]
	if !ok {
		return 0, ErrTenantNotFound
	}
	return balance, nil
}

// History implements Store. Entries are returned newest first.
func (m *MemoryStore) History(ctx context.Context, tenantID string, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all, ok := m.entries[tenantID]
	if !ok {
		if _, known := m.balances[tenantID]; !known {
			return nil, ErrTenantNotFound
		}
		return nil, nil
	}

	out := make([]*Entry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}
