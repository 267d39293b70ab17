package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrUnauthorized = errors.New("auth: unauthorized")

	// Unknown identity, inactive account and hash mismatch all collapse to
	// ErrInvalidCredentials at login to avoid identity enumeration.
	// ErrAccountInactive is surfaced only on refresh and 2FA paths where the
	// caller already holds a session.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountInactive    = errors.New("auth: account inactive")

	ErrSessionNotFound     = errors.New("auth: session not found")
	ErrSessionExpired      = errors.New("auth: session expired")
	ErrInvalidRefreshToken = errors.New("auth: invalid refresh token")

	ErrTwoFactorNotEnabled  = errors.New("auth: two-factor method not enabled")
	ErrInvalidTwoFactorCode = errors.New("auth: invalid two-factor code")
	ErrProfileNotFound      = errors.New("auth: profile not found")

	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrInvalidAPIKey = errors.New("auth: invalid api key")
)
