package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultAccessTTL = 15 * time.Minute

// Claims represents the access-token payload used across the service.
type Claims struct {
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	TenantID    string   `json:"tenant_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints HS256-signed access tokens and opaque refresh tokens.
// The signing key and lifetimes are injected at construction; nothing is read
// from ambient state.
type TokenIssuer struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// TokenOption configures TokenIssuer behavior.
type TokenOption func(*TokenIssuer) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(t *TokenIssuer) error {
		t.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access-token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(t *TokenIssuer) error {
		if ttl <= 0 {
			return errors.New("access ttl must be greater than zero")
		}
		t.accessTTL = ttl
		return nil
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(t *TokenIssuer) error {
		if fn != nil {
			t.now = fn
		}
		return nil
	}
}

// NewTokenIssuer constructs a TokenIssuer with the given symmetric key.
func NewTokenIssuer(secret []byte, opts ...TokenOption) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret is required")
	}
	iss := &TokenIssuer{
		secret:    secret,
		issuer:    "smspanel",
		accessTTL: defaultAccessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(iss); err != nil {
			return nil, err
		}
	}
	return iss, nil
}

// AccessTTL returns the configured access-token lifetime.
func (t *TokenIssuer) AccessTTL() time.Duration { return t.accessTTL }

// IssueAccessToken signs a JWT carrying identity and authorization claims.
// Permissions are flattened across all roles with duplicates collapsed.
func (t *TokenIssuer) IssueAccessToken(user *User, roles []*Role, perms []Permission) (string, time.Time, error) {
	if user == nil {
		return "", time.Time{}, errors.New("user is required")
	}

	roleNames := make([]string, 0, len(roles))
	for _, r := range roles {
		roleNames = append(roleNames, r.Name)
	}

	permSet := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		permSet[p.Name] = struct{}{}
	}
	permNames := make([]string, 0, len(permSet))
	for name := range permSet {
		permNames = append(permNames, name)
	}
	sort.Strings(permNames)

	now := t.now().UTC()
	exp := now.Add(t.accessTTL)
	claims := Claims{
		Username:    user.Username,
		Email:       user.Email,
		TenantID:    user.TenantID,
		Roles:       roleNames,
		Permissions: permNames,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// IssueRefreshToken returns 256 bits of cryptographically secure random data,
// base64-encoded. It carries no claims; it is meaningful only as the value
// paired with a session record.
func (t *TokenIssuer) IssueRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// ParseAndValidate verifies the token signature and required claims.
func (t *TokenIssuer) ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return t.now() }))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != t.issuer {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
