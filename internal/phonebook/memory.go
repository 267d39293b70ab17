package phonebook

import (
	"context"
	"sync"
	"time"

	"smspanel.org/internal/ids"
)

// MemoryStore is an in-process Store used in tests and development.
type MemoryStore struct {
	mu        sync.Mutex
	contacts  map[string]*Contact        // by id
	groups    map[string]*Group          // by id
	blacklist map[string]*BlacklistEntry // by tenant+phone
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts:  map[string]*Contact{},
		groups:    map[string]*Group{},
		blacklist: map[string]*BlacklistEntry{},
		now:       time.Now,
	}
}

func blKey(tenantID, phone string) string { return tenantID + "\x00" + phone }

func (m *MemoryStore) CreateContact(_ context.Context, c *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.contacts {
		if existing.TenantID == c.TenantID && existing.PhoneNumber == c.PhoneNumber {
			return ErrConflict
		}
	}
	c.ID = ids.New()
	c.CreatedAt = m.now().UTC()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.contacts[c.ID] = &cp
	return nil
}

func (m *MemoryStore) FindContact(_ context.Context, tenantID, id string) (*Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListContacts(_ context.Context, tenantID, groupID string) ([]*Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Contact
	for _, c := range m.contacts {
		if c.TenantID != tenantID {
			continue
		}
		if groupID != "" && c.GroupID != groupID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) UpdateContact(_ context.Context, tenantID, id string, upd ContactUpdate) (*Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.TenantID != tenantID {
		return nil, ErrNotFound
	}
	if upd.PhoneNumber != nil {
		for _, other := range m.contacts {
			if other.ID != id && other.TenantID == tenantID && other.PhoneNumber == *upd.PhoneNumber {
				return nil, ErrConflict
			}
		}
		c.PhoneNumber = *upd.PhoneNumber
	}
	if upd.GroupID != nil {
		c.GroupID = *upd.GroupID
	}
	if upd.FirstName != nil {
		c.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		c.LastName = *upd.LastName
	}
	if upd.Email != nil {
		c.Email = *upd.Email
	}
	if upd.Notes != nil {
		c.Notes = *upd.Notes
	}
	c.UpdatedAt = m.now().UTC()
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) DeleteContact(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.contacts, id)
	return nil
}

func (m *MemoryStore) CreateGroup(_ context.Context, g *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.groups {
		if existing.TenantID == g.TenantID && existing.Name == g.Name {
			return ErrConflict
		}
	}
	g.ID = ids.New()
	g.CreatedAt = m.now().UTC()
	cp := *g
	m.groups[g.ID] = &cp
	return nil
}

func (m *MemoryStore) FindGroup(_ context.Context, tenantID, id string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok || g.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *MemoryStore) ListGroups(_ context.Context, tenantID string) ([]*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Group
	for _, g := range m.groups {
		if g.TenantID == tenantID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteGroup(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok || g.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.groups, id)
	for _, c := range m.contacts {
		if c.GroupID == id {
			c.GroupID = ""
		}
	}
	return nil
}

func (m *MemoryStore) AddToBlacklist(_ context.Context, e *BlacklistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := blKey(e.TenantID, e.PhoneNumber)
	if _, ok := m.blacklist[key]; ok {
		return ErrConflict
	}
	e.ID = ids.New()
	e.CreatedAt = m.now().UTC()
	cp := *e
	m.blacklist[key] = &cp
	return nil
}

func (m *MemoryStore) ListBlacklist(_ context.Context, tenantID string) ([]*BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*BlacklistEntry
	for _, e := range m.blacklist {
		if e.TenantID == tenantID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) IsBlacklisted(_ context.Context, tenantID, phoneNumber string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blacklist[blKey(tenantID, phoneNumber)]
	return ok, nil
}

func (m *MemoryStore) RemoveFromBlacklist(_ context.Context, tenantID, phoneNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := blKey(tenantID, phoneNumber)
	if _, ok := m.blacklist[key]; !ok {
		return ErrNotFound
	}
	delete(m.blacklist, key)
	return nil
}
