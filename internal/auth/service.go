package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"smspanel.org/internal/notify"
	"smspanel.org/internal/session"
)

// Service composes the credential store, session store, second-factor
// verifier and token issuer into the login / refresh / 2FA-completion /
// logout state machine.
type Service struct {
	store    Store
	sessions *session.Store
	tokens   *TokenIssuer
	notifier notify.Notifier
	issuer   string
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTOTPIssuer sets the issuer label embedded into authenticator
// provisioning URIs.
func WithTOTPIssuer(issuer string) ServiceOption {
	return func(s *Service) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// NewService constructs the login orchestrator.
func NewService(store Store, sessions *session.Store, tokens *TokenIssuer, notifier notify.Notifier, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if tokens == nil {
		return nil, errors.New("token issuer is required")
	}
	if notifier == nil {
		notifier = &notify.LogNotifier{}
	}
	svc := &Service{
		store:    store,
		sessions: sessions,
		tokens:   tokens,
		notifier: notifier,
		issuer:   "SMSPanel",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// EnsureBuiltins ensures the predefined permission catalog exists.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.Permissions().Ensure(ctx, BuiltinPermissions)
}

// LoginResult is the response shape shared by login, refresh and 2FA
// completion.
type LoginResult struct {
	AccessToken               string        `json:"accessToken"`
	RefreshToken              string        `json:"refreshToken"`
	SessionID                 string        `json:"sessionId"`
	RequiresEmailVerification bool          `json:"requiresEmailVerification"`
	Requires2FA               bool          `json:"requires2FA"`
	TwoFactorType             TwoFactorType `json:"twoFactorType,omitempty"`
}

// RegisterInput carries a self-service registration request.
type RegisterInput struct {
	TenantID    string
	Username    string
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber string
}

// Register creates a user plus its empty verification profile.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	switch {
	case in.TenantID == "":
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	case in.Username == "":
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	case in.Email == "" || !strings.Contains(in.Email, "@"):
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	case len(in.Password) < 6:
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidInput)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		TenantID:     in.TenantID,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Active:       true,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}

	profile := &Profile{UserID: user.ID, PhoneNumber: in.PhoneNumber}
	if err := s.store.Profiles().Create(ctx, profile); err != nil {
		return nil, err
	}
	return user, nil
}

// Login drives the full state machine entry: credentials, session creation,
// token issuance, and — when a factor is enabled — code dispatch. Tokens are
// issued even before 2FA completes; callers must additionally check the
// session's completion flags before trusting tenant-level authorization.
func (s *Service) Login(ctx context.Context, identity, password, ip, userAgent string) (*LoginResult, error) {
	user, err := s.verifyCredentials(ctx, identity, password)
	if err != nil {
		return nil, err
	}

	profile, err := s.store.Profiles().Find(ctx, user.ID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Create(ctx, user.ID, user.TenantID, ip, userAgent, profile.TwoFactorRequired(), refreshToken)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.issueAccessToken(ctx, user)
	if err != nil {
		return nil, err
	}

	result := &LoginResult{
		AccessToken:               accessToken,
		RefreshToken:              refreshToken,
		SessionID:                 sess.ID,
		RequiresEmailVerification: profile.EmailVerificationEnabled && !sess.EmailVerified,
		Requires2FA:               sess.TwoFactorRequired && !sess.TwoFactorCompleted,
	}

	if result.Requires2FA {
		typ, ok := pickFactor(profile)
		if ok {
			result.TwoFactorType = typ
			if typ == TwoFactorSMS || typ == TwoFactorEmail {
				if err := s.dispatchCode(ctx, sess.ID, user, profile, typ); err != nil {
					return nil, err
				}
			}
		}
	}

	s.recordLogin(ctx, user, profile, ip)
	return result, nil
}

// recordLogin updates last-login bookkeeping. Failures are swallowed; the
// login itself already succeeded.
func (s *Service) recordLogin(ctx context.Context, user *User, profile *Profile, ip string) {
	_ = s.store.Users().TouchLastLogin(ctx, user.ID)
	now := s.now().UTC()
	profile.LastLoginAt = &now
	profile.LastLoginIP = ip
	_ = s.store.Profiles().Update(ctx, profile)
}

// Refresh validates the session's refresh token and reissues a token pair.
// The session's 2FA state is untouched.
func (s *Service) Refresh(ctx context.Context, sessionID, refreshToken string) (*LoginResult, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ok, err := s.sessions.ValidateRefreshToken(ctx, sessionID, refreshToken)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.activeUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return s.reissue(ctx, sess.ID, user)
}

// VerifyTwoFactor completes the second-factor step and reissues tokens.
func (s *Service) VerifyTwoFactor(ctx context.Context, sessionID, code string, typ TwoFactorType) (*LoginResult, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown factor type %q", ErrInvalidInput, typ)
	}
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	user, err := s.activeUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	profile, err := s.store.Profiles().Find(ctx, user.ID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.verifyFactor(ctx, sess.ID, profile, typ, code); err != nil {
		return nil, err
	}
	if _, err := s.sessions.Complete2FA(ctx, sess.ID); err != nil {
		return nil, err
	}
	return s.reissue(ctx, sess.ID, user)
}

// SendTwoFactorCode (re)dispatches a one-time code for email or SMS factors.
func (s *Service) SendTwoFactorCode(ctx context.Context, sessionID string, typ TwoFactorType) error {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	user, err := s.activeUser(ctx, sess.UserID)
	if err != nil {
		return err
	}
	profile, err := s.store.Profiles().Find(ctx, user.ID)
	if errors.Is(err, ErrNotFound) {
		return ErrProfileNotFound
	}
	if err != nil {
		return err
	}
	switch typ {
	case TwoFactorEmail:
		if !profile.EmailVerificationEnabled {
			return ErrTwoFactorNotEnabled
		}
	case TwoFactorSMS:
		if !profile.SMSVerificationEnabled {
			return ErrTwoFactorNotEnabled
		}
	default:
		return fmt.Errorf("%w: no code is dispatched for %q", ErrInvalidInput, typ)
	}
	return s.dispatchCode(ctx, sess.ID, user, profile, typ)
}

// Logout deletes the session. Deleting an absent session reports false, not
// an error.
func (s *Service) Logout(ctx context.Context, sessionID string) (bool, error) {
	return s.sessions.Delete(ctx, sessionID)
}

// RevokeUserSessions removes every session the user owns (bulk revocation).
func (s *Service) RevokeUserSessions(ctx context.Context, userID string) error {
	return s.sessions.DeleteAllForUser(ctx, userID)
}

// ListSessions returns the user's live sessions.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	return s.sessions.ListForUser(ctx, userID)
}

// SetupGoogleAuth generates a shared secret, enables the authenticator method
// on the profile and returns the secret plus provisioning URI for the QR code.
func (s *Service) SetupGoogleAuth(ctx context.Context, userID, email string) (secret, uri string, err error) {
	profile, err := s.store.Profiles().Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return "", "", ErrProfileNotFound
	}
	if err != nil {
		return "", "", err
	}

	secret, err = GenerateTOTPSecret()
	if err != nil {
		return "", "", err
	}
	profile.AuthenticatorEnabled = true
	profile.AuthenticatorSecret = secret
	if err := s.store.Profiles().Update(ctx, profile); err != nil {
		return "", "", err
	}
	return secret, TOTPProvisionURI(s.issuer, email, secret), nil
}

// DisableGoogleAuth turns the authenticator method off and discards the
// secret, preserving the invariant that a secret exists only while enabled.
func (s *Service) DisableGoogleAuth(ctx context.Context, userID string) error {
	profile, err := s.store.Profiles().Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return ErrProfileNotFound
	}
	if err != nil {
		return err
	}
	profile.AuthenticatorEnabled = false
	profile.AuthenticatorSecret = ""
	return s.store.Profiles().Update(ctx, profile)
}

// SendEmailVerification records a verification token on the session and
// mails it to the given address.
func (s *Service) SendEmailVerification(ctx context.Context, sessionID, email string) error {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	user, err := s.activeUser(ctx, sess.UserID)
	if err != nil {
		return err
	}

	code, err := generateCode()
	if err != nil {
		return err
	}
	sess.EmailVerificationToken = code
	if err := s.sessions.Update(ctx, sess); err != nil {
		return err
	}
	return s.notifier.SendVerificationEmail(ctx, email, user.Username, code)
}

// VerifyEmail marks the session's email as verified iff the token matches.
func (s *Service) VerifyEmail(ctx context.Context, sessionID, token string) (bool, error) {
	return s.sessions.VerifyEmail(ctx, sessionID, token)
}

// Authenticate validates an access token and resolves it to a principal.
// Authorization claims come from the token itself; the user row is loaded to
// reject tokens for deleted or deactivated accounts.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.tokens.ParseAndValidate(token)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	user, err := s.store.Users().Find(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrInvalidToken
	}
	if err != nil {
		return Principal{}, err
	}
	if !user.Active {
		return Principal{}, ErrInvalidToken
	}

	perms := make(map[string]struct{}, len(claims.Permissions))
	for _, p := range claims.Permissions {
		perms[p] = struct{}{}
	}
	return Principal{User: user, Roles: claims.Roles, Permissions: perms}, nil
}

// SessionAuthorized reports whether the session exists and has cleared its
// second factor. Token possession alone is never sufficient for tenant-level
// authorization; every protected endpoint calls this.
func (s *Service) SessionAuthorized(ctx context.Context, sessionID string) error {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.TwoFactorRequired && !sess.TwoFactorCompleted {
		return ErrUnauthorized
	}
	return nil
}

// APIKeyResult is returned by ValidateAPIKey.
type APIKeyResult struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
	TenantID    string `json:"tenantId"`
}

// GenerateAPIKey derives a long-lived machine credential bound to the user's
// current password hash. Rotating the password invalidates every key.
func (s *Service) GenerateAPIKey(ctx context.Context, userID string) (string, error) {
	user, err := s.store.Users().Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return user.ID + ":" + user.TenantID + ":" + apiKeyDigest(user.ID, user.TenantID, user.PasswordHash), nil
}

// ValidateAPIKey checks a key and mints a fresh access token for its owner.
func (s *Service) ValidateAPIKey(ctx context.Context, apiKey string) (*APIKeyResult, error) {
	parts := strings.Split(apiKey, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, ErrInvalidAPIKey
	}
	userID, tenantID, digest := parts[0], parts[1], parts[2]

	user, err := s.store.Users().Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}
	if user.TenantID != tenantID || !user.Active {
		return nil, ErrInvalidAPIKey
	}
	if digest != apiKeyDigest(user.ID, user.TenantID, user.PasswordHash) {
		return nil, ErrInvalidAPIKey
	}

	accessToken, err := s.issueAccessToken(ctx, user)
	if err != nil {
		return nil, err
	}
	return &APIKeyResult{
		AccessToken: accessToken,
		ExpiresIn:   int(s.tokens.AccessTTL().Seconds()),
		TenantID:    tenantID,
	}, nil
}

// RevokeAPIKey invalidates keys by password rotation only: there is no
// revocation list, so the call succeeds without touching state. Rotating the
// user's password is the actual revocation mechanism.
func (s *Service) RevokeAPIKey(ctx context.Context, apiKey string) (bool, error) {
	return true, nil
}

func apiKeyDigest(userID, tenantID, secret string) string {
	sum := sha256.Sum256([]byte(userID + ":" + tenantID + ":" + secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// --- shared steps ---

func (s *Service) getSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) activeUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.store.Users().Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, ErrAccountInactive
	}
	return user, nil
}

func (s *Service) issueAccessToken(ctx context.Context, user *User) (string, error) {
	roles, err := s.store.Roles().ForUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	var perms []Permission
	for _, role := range roles {
		rp, err := s.store.Permissions().ForRole(ctx, role.ID)
		if err != nil {
			return "", err
		}
		perms = append(perms, rp...)
	}
	token, _, err := s.tokens.IssueAccessToken(user, roles, perms)
	return token, err
}

// reissue rotates the refresh token and mints a fresh access token for an
// already-established session.
func (s *Service) reissue(ctx context.Context, sessionID string, user *User) (*LoginResult, error) {
	refreshToken, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := s.sessions.RotateRefreshToken(ctx, sessionID, refreshToken); err != nil {
		return nil, err
	}
	accessToken, err := s.issueAccessToken(ctx, user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    sessionID,
	}, nil
}
