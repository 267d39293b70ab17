package session

import (
	"crypto/subtle"
	"time"
)

// Session is the server-side record for one authenticated client between
// login and logout/expiry. It lives only in the cache; the relational store
// never sees it.
type Session struct {
	ID                     string    `json:"id"`
	UserID                 string    `json:"user_id"`
	TenantID               string    `json:"tenant_id"`
	RefreshToken           string    `json:"refresh_token"`
	CreatedAt              time.Time `json:"created_at"`
	ExpiresAt              time.Time `json:"expires_at"`
	IPAddress              string    `json:"ip_address"`
	UserAgent              string    `json:"user_agent"`
	TwoFactorRequired      bool      `json:"two_factor_required"`
	TwoFactorCompleted     bool      `json:"two_factor_completed"`
	EmailVerificationToken string    `json:"email_verification_token,omitempty"`
	EmailVerified          bool      `json:"email_verified"`
}

// Expired reports whether the session's absolute expiry has passed. Readers
// must treat an expired session as absent regardless of the cache TTL.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// RefreshTokenMatches compares the stored refresh token with the supplied
// value in constant time.
func (s *Session) RefreshTokenMatches(token string) bool {
	if len(s.RefreshToken) == 0 || len(token) == 0 {
		return false
	}
	if len(s.RefreshToken) != len(token) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.RefreshToken), []byte(token)) == 1
}
