// Package phonebook manages each tenant's recipient directory: contacts,
// contact groups and the blacklist of numbers that must never receive
// messages. All data is partitioned by tenant.
package phonebook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("phonebook: not found")
	ErrConflict     = errors.New("phonebook: already exists")
	ErrInvalidInput = errors.New("phonebook: invalid input")
)

// Contact is one addressable recipient within a tenant. Phone numbers are
// unique per tenant.
type Contact struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	GroupID     string    `json:"group_id,omitempty"`
	PhoneNumber string    `json:"phone_number"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	Email       string    `json:"email,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Group is a named set of contacts, unique by name within a tenant.
type Group struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlacklistEntry records a number the tenant refuses to message.
type BlacklistEntry struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	PhoneNumber string    `json:"phone_number"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ContactUpdate is a partial update applied to a contact.
type ContactUpdate struct {
	GroupID     *string
	PhoneNumber *string
	FirstName   *string
	LastName    *string
	Email       *string
	Notes       *string
}

// Store persists the directory. Implementations enforce per-tenant
// uniqueness of contact numbers, group names and blacklist numbers.
type Store interface {
	CreateContact(ctx context.Context, c *Contact) error
	FindContact(ctx context.Context, tenantID, id string) (*Contact, error)
	ListContacts(ctx context.Context, tenantID, groupID string) ([]*Contact, error)
	UpdateContact(ctx context.Context, tenantID, id string, upd ContactUpdate) (*Contact, error)
	DeleteContact(ctx context.Context, tenantID, id string) error

	CreateGroup(ctx context.Context, g *Group) error
	FindGroup(ctx context.Context, tenantID, id string) (*Group, error)
	ListGroups(ctx context.Context, tenantID string) ([]*Group, error)
	DeleteGroup(ctx context.Context, tenantID, id string) error

	AddToBlacklist(ctx context.Context, e *BlacklistEntry) error
	ListBlacklist(ctx context.Context, tenantID string) ([]*BlacklistEntry, error)
	IsBlacklisted(ctx context.Context, tenantID, phoneNumber string) (bool, error)
	RemoveFromBlacklist(ctx context.Context, tenantID, phoneNumber string) error
}

// Service validates and normalizes directory operations.
type Service struct {
	store Store
}

// NewService constructs the phonebook service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Service{store: store}, nil
}

// NormalizePhone canonicalizes a phone number: digits only, with a single
// leading plus when the input carried one. Formatting characters are
// stripped; anything else is rejected.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	plus := strings.HasPrefix(raw, "+")

	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting, dropped
		default:
			return "", fmt.Errorf("%w: unexpected character %q in phone number", ErrInvalidInput, r)
		}
	}
	digits := b.String()
	if len(digits) < 5 || len(digits) > 15 {
		return "", fmt.Errorf("%w: phone number must have 5 to 15 digits", ErrInvalidInput)
	}
	if plus {
		return "+" + digits, nil
	}
	return digits, nil
}

// CreateContactInput carries a contact creation request.
type CreateContactInput struct {
	TenantID    string
	GroupID     string
	PhoneNumber string
	FirstName   string
	LastName    string
	Email       string
	Notes       string
}

// CreateContact adds a contact to the tenant's directory.
func (s *Service) CreateContact(ctx context.Context, in CreateContactInput) (*Contact, error) {
	if in.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	phone, err := NormalizePhone(in.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if in.GroupID != "" {
		if _, err := s.store.FindGroup(ctx, in.TenantID, in.GroupID); err != nil {
			return nil, err
		}
	}

	contact := &Contact{
		TenantID:    in.TenantID,
		GroupID:     in.GroupID,
		PhoneNumber: phone,
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		Email:       strings.TrimSpace(strings.ToLower(in.Email)),
		Notes:       strings.TrimSpace(in.Notes),
	}
	if err := s.store.CreateContact(ctx, contact); err != nil {
		return nil, err
	}
	return contact, nil
}

// GetContact returns a contact within the tenant.
func (s *Service) GetContact(ctx context.Context, tenantID, id string) (*Contact, error) {
	return s.store.FindContact(ctx, tenantID, id)
}

// ListContacts returns the tenant's contacts, optionally scoped to a group.
func (s *Service) ListContacts(ctx context.Context, tenantID, groupID string) ([]*Contact, error) {
	return s.store.ListContacts(ctx, tenantID, groupID)
}

// UpdateContact applies a partial update.
func (s *Service) UpdateContact(ctx context.Context, tenantID, id string, upd ContactUpdate) (*Contact, error) {
	if upd.PhoneNumber != nil {
		phone, err := NormalizePhone(*upd.PhoneNumber)
		if err != nil {
			return nil, err
		}
		upd.PhoneNumber = &phone
	}
	if upd.GroupID != nil && *upd.GroupID != "" {
		if _, err := s.store.FindGroup(ctx, tenantID, *upd.GroupID); err != nil {
			return nil, err
		}
	}
	return s.store.UpdateContact(ctx, tenantID, id, upd)
}

// DeleteContact removes a contact.
func (s *Service) DeleteContact(ctx context.Context, tenantID, id string) error {
	return s.store.DeleteContact(ctx, tenantID, id)
}

// CreateGroup registers a named contact group.
func (s *Service) CreateGroup(ctx context.Context, tenantID, name, description string) (*Group, error) {
	name = strings.TrimSpace(name)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	group := &Group{TenantID: tenantID, Name: name, Description: description}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// ListGroups returns the tenant's groups.
func (s *Service) ListGroups(ctx context.Context, tenantID string) ([]*Group, error) {
	return s.store.ListGroups(ctx, tenantID)
}

// DeleteGroup removes a group. Its contacts survive, ungrouped.
func (s *Service) DeleteGroup(ctx context.Context, tenantID, id string) error {
	return s.store.DeleteGroup(ctx, tenantID, id)
}

// Blacklist adds a number to the tenant's blacklist. Blacklisting twice is
// a conflict, surfaced as such so callers can treat it as already done.
func (s *Service) Blacklist(ctx context.Context, tenantID, phoneNumber, reason string) (*BlacklistEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	phone, err := NormalizePhone(phoneNumber)
	if err != nil {
		return nil, err
	}
	entry := &BlacklistEntry{TenantID: tenantID, PhoneNumber: phone, Reason: reason}
	if err := s.store.AddToBlacklist(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Unblacklist removes a number from the blacklist.
func (s *Service) Unblacklist(ctx context.Context, tenantID, phoneNumber string) error {
	phone, err := NormalizePhone(phoneNumber)
	if err != nil {
		return err
	}
	return s.store.RemoveFromBlacklist(ctx, tenantID, phone)
}

// ListBlacklist returns the tenant's blacklist entries.
func (s *Service) ListBlacklist(ctx context.Context, tenantID string) ([]*BlacklistEntry, error) {
	return s.store.ListBlacklist(ctx, tenantID)
}

// IsBlacklisted reports whether the number is blocked for the tenant.
func (s *Service) IsBlacklisted(ctx context.Context, tenantID, phoneNumber string) (bool, error) {
	phone, err := NormalizePhone(phoneNumber)
	if err != nil {
		return false, err
	}
	return s.store.IsBlacklisted(ctx, tenantID, phone)
}
