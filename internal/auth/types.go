package auth

import "time"

// Tenant is an isolated customer scope. Tenants form a hierarchy through the
// nullable parent reference; every other entity is partitioned by tenant id.
type Tenant struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Domain      string    `json:"domain"`
	Description string    `json:"description,omitempty"`
	ParentID    *string   `json:"parent_id,omitempty"`
	Active      bool      `json:"active"`
	Credit      int64     `json:"credit"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User is a back-office operator account. Username and email are unique
// within the owning tenant.
type User struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name,omitempty"`
	LastName     string     `json:"last_name,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Profile holds per-user verification settings, one-to-one with User.
// AuthenticatorSecret is non-empty only while AuthenticatorEnabled is true.
type Profile struct {
	UserID                   string     `json:"user_id"`
	PhoneNumber              string     `json:"phone_number,omitempty"`
	PhoneVerified            bool       `json:"phone_verified"`
	SMSVerificationEnabled   bool       `json:"sms_verification_enabled"`
	EmailVerificationEnabled bool       `json:"email_verification_enabled"`
	AuthenticatorEnabled     bool       `json:"authenticator_enabled"`
	AuthenticatorSecret      string     `json:"-"`
	LastLoginAt              *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP              string     `json:"last_login_ip,omitempty"`
}

// TwoFactorRequired reports whether any second-factor method is enabled.
func (p *Profile) TwoFactorRequired() bool {
	return p.EmailVerificationEnabled || p.SMSVerificationEnabled || p.AuthenticatorEnabled
}

// Role groups permissions within a tenant. System roles cannot be mutated
// or deleted.
type Role struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	System      bool      `json:"system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a fine-grained capability, unique by name globally.
type Permission struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Group       string `json:"group,omitempty"`
}

// TwoFactorType selects the second-factor method for a verification attempt.
type TwoFactorType string

const (
	TwoFactorEmail      TwoFactorType = "email"
	TwoFactorSMS        TwoFactorType = "sms"
	TwoFactorGoogleAuth TwoFactorType = "google_auth"
)

// Valid reports whether t is one of the known factor types.
func (t TwoFactorType) Valid() bool {
	switch t {
	case TwoFactorEmail, TwoFactorSMS, TwoFactorGoogleAuth:
		return true
	}
	return false
}

// TenantUpdate is a partial update applied to a tenant.
type TenantUpdate struct {
	Name        *string
	Domain      *string
	Description *string
	Active      *bool
	ParentID    *string
}

// UserUpdate is a partial update applied to a user.
type UserUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
	Active    *bool
	Password  *string
}

// RoleUpdate is a partial update applied to a role.
type RoleUpdate struct {
	Name        *string
	Description *string
}
