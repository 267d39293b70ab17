package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"smspanel.org/internal/session"
)

// captureNotifier records dispatched codes instead of delivering them.
type captureNotifier struct {
	emailTo   string
	emailCode string
	smsTo     string
	smsCode   string
}

func (n *captureNotifier) SendVerificationEmail(_ context.Context, to, _, code string) error {
	n.emailTo, n.emailCode = to, code
	return nil
}

func (n *captureNotifier) SendTwoFactorSMS(_ context.Context, phoneNumber, code string) error {
	n.smsTo, n.smsCode = phoneNumber, code
	return nil
}

type serviceFixture struct {
	svc      *Service
	store    *MemoryStore
	sessions *session.Store
	notifier *captureNotifier
	now      time.Time
	user     *User
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &serviceFixture{
		store:    NewMemoryStore(),
		notifier: &captureNotifier{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.sessions = session.NewStore(rdb, session.WithClock(clock))

	tokens, err := NewTokenIssuer([]byte("test-secret"), WithTokenClock(clock))
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	f.svc, err = NewService(f.store, f.sessions, tokens, f.notifier, WithServiceClock(clock))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx := context.Background()
	tenant := &Tenant{Name: "Acme", Domain: "acme.test", Active: true}
	if err := f.store.Tenants().Create(ctx, tenant); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	f.user, err = f.svc.Register(ctx, RegisterInput{
		TenantID: tenant.ID,
		Username: "operator",
		Email:    "operator@acme.test",
		Password: "hunter22",
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return f
}

func (f *serviceFixture) profile(t *testing.T) *Profile {
	t.Helper()
	p, err := f.store.Profiles().Find(context.Background(), f.user.ID)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	return p
}

func (f *serviceFixture) saveProfile(t *testing.T, p *Profile) {
	t.Helper()
	if err := f.store.Profiles().Update(context.Background(), p); err != nil {
		t.Fatalf("save profile: %v", err)
	}
}

func TestLoginWithoutSecondFactor(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "operator", "hunter22", "10.0.0.1", "cli/1.0")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" || res.SessionID == "" {
		t.Fatalf("incomplete result: %+v", res)
	}
	if res.Requires2FA {
		t.Fatal("no factor is enabled, 2FA must not be required")
	}

	sess, err := f.sessions.Get(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if !sess.TwoFactorCompleted {
		t.Fatal("session must start completed when no factor is enabled")
	}
	if err := f.svc.SessionAuthorized(ctx, res.SessionID); err != nil {
		t.Fatalf("session must be authorized: %v", err)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cases := []struct{ identity, password string }{
		{"operator", "wrong-password"},
		{"nobody", "hunter22"},
		{"", "hunter22"},
		{"operator", ""},
	}
	for _, tc := range cases {
		if _, err := f.svc.Login(ctx, tc.identity, tc.password, "", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("login(%q, %q): got %v, want ErrInvalidCredentials", tc.identity, tc.password, err)
		}
	}

	// A deactivated account fails the same way.
	inactive := false
	if _, err := f.store.Users().Update(ctx, f.user.ID, UserUpdate{Active: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := f.svc.Login(ctx, "operator", "hunter22", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("inactive login: got %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginWithAuthenticatorFactor(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	secret, uri, err := f.svc.SetupGoogleAuth(ctx, f.user.ID, f.user.Email)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning uri %q", uri)
	}

	res, err := f.svc.Login(ctx, "operator", "hunter22", "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.Requires2FA || res.TwoFactorType != TwoFactorGoogleAuth {
		t.Fatalf("expected pending authenticator challenge, got %+v", res)
	}
	if err := f.svc.SessionAuthorized(ctx, res.SessionID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("pending session must not be authorized, got %v", err)
	}

	// Wrong code first.
	if _, err := f.svc.VerifyTwoFactor(ctx, res.SessionID, "000000", TwoFactorGoogleAuth); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("wrong code: got %v", err)
	}

	raw, err := base32NoPad.DecodeString(secret)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	code := hotpCode(raw, f.now.Unix()/totpPeriod)
	done, err := f.svc.VerifyTwoFactor(ctx, res.SessionID, code, TwoFactorGoogleAuth)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if done.AccessToken == "" || done.RefreshToken == "" {
		t.Fatalf("completion must reissue tokens: %+v", done)
	}
	if err := f.svc.SessionAuthorized(ctx, res.SessionID); err != nil {
		t.Fatalf("completed session must be authorized: %v", err)
	}
}

func TestLoginWithEmailFactorDispatchesCode(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	p := f.profile(t)
	p.EmailVerificationEnabled = true
	f.saveProfile(t, p)

	res, err := f.svc.Login(ctx, "operator", "hunter22", "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.Requires2FA || res.TwoFactorType != TwoFactorEmail {
		t.Fatalf("expected email challenge, got %+v", res)
	}
	if f.notifier.emailTo != "operator@acme.test" || len(f.notifier.emailCode) != 6 {
		t.Fatalf("code not dispatched: %+v", f.notifier)
	}

	if _, err := f.svc.VerifyTwoFactor(ctx, res.SessionID, "999999", TwoFactorEmail); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("wrong code: got %v", err)
	}
	if _, err := f.svc.VerifyTwoFactor(ctx, res.SessionID, f.notifier.emailCode, TwoFactorEmail); err != nil {
		t.Fatalf("verify: %v", err)
	}
	// The code is single-use.
	if _, err := f.svc.VerifyTwoFactor(ctx, res.SessionID, f.notifier.emailCode, TwoFactorEmail); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("reused code: got %v", err)
	}
}

func TestSMSFactorPrecedenceAndResend(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	p := f.profile(t)
	p.PhoneNumber = "+15550001111"
	p.PhoneVerified = true
	p.SMSVerificationEnabled = true
	p.EmailVerificationEnabled = true
	f.saveProfile(t, p)

	res, err := f.svc.Login(ctx, "operator", "hunter22", "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	// SMS outranks email when both are enabled.
	if res.TwoFactorType != TwoFactorSMS {
		t.Fatalf("factor = %s, want sms", res.TwoFactorType)
	}
	first := f.notifier.smsCode
	if f.notifier.smsTo != "+15550001111" || len(first) != 6 {
		t.Fatalf("sms not dispatched: %+v", f.notifier)
	}

	if err := f.svc.SendTwoFactorCode(ctx, res.SessionID, TwoFactorSMS); err != nil {
		t.Fatalf("resend: %v", err)
	}
	// Resend replaces the pending code.
	if f.notifier.smsCode != first {
		if _, err := f.svc.VerifyTwoFactor(ctx, res.SessionID, first, TwoFactorSMS); !errors.Is(err, ErrInvalidTwoFactorCode) {
			t.Fatalf("stale code must be rejected, got %v", err)
		}
	}
	if _, err := f.svc.VerifyTwoFactor(ctx, res.SessionID, f.notifier.smsCode, TwoFactorSMS); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyTwoFactorRejectsDisabledMethod(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	p := f.profile(t)
	p.EmailVerificationEnabled = true
	f.saveProfile(t, p)

	res, err := f.svc.Login(ctx, "operator", "hunter22", "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := f.svc.VerifyTwoFactor(ctx, res.SessionID, "123456", TwoFactorGoogleAuth); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("got %v, want ErrTwoFactorNotEnabled", err)
	}
	if _, err := f.svc.VerifyTwoFactor(ctx, res.SessionID, "123456", "carrier_pigeon"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "operator", "hunter22", "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	refreshed, err := f.svc.Refresh(ctx, res.SessionID, res.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.RefreshToken == res.RefreshToken {
		t.Fatal("refresh must rotate the token")
	}
	if refreshed.SessionID != res.SessionID {
		t.Fatal("refresh must preserve the session")
	}

	// The superseded token is dead.
	if _, err := f.svc.Refresh(ctx, res.SessionID, res.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("stale token: got %v", err)
	}
	// The new one works.
	if _, err := f.svc.Refresh(ctx, res.SessionID, refreshed.RefreshToken); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
}

func TestRefreshUnknownSession(t *testing.T) {
	f := newServiceFixture(t)
	if _, err := f.svc.Refresh(context.Background(), "no-such-session", "token"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "operator", "hunter22", "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	ok, err := f.svc.Logout(ctx, res.SessionID)
	if err != nil || !ok {
		t.Fatalf("logout = %v, %v", ok, err)
	}
	ok, err = f.svc.Logout(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if ok {
		t.Fatal("second logout must report false")
	}
}

func TestRevokeUserSessions(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	a, _ := f.svc.Login(ctx, "operator", "hunter22", "", "")
	b, _ := f.svc.Login(ctx, "operator", "hunter22", "", "")
	if a == nil || b == nil {
		t.Fatal("logins failed")
	}
	if err := f.svc.RevokeUserSessions(ctx, f.user.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	for _, id := range []string{a.SessionID, b.SessionID} {
		if err := f.svc.SessionAuthorized(ctx, id); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("session %s survived revocation: %v", id, err)
		}
	}
}

func TestEmailVerificationFlow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "operator", "hunter22", "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := f.svc.SendEmailVerification(ctx, res.SessionID, "operator@acme.test"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if f.notifier.emailCode == "" {
		t.Fatal("verification token not dispatched")
	}

	ok, err := f.svc.VerifyEmail(ctx, res.SessionID, "wrong-token")
	if err != nil || ok {
		t.Fatalf("wrong token: %v, %v", ok, err)
	}
	ok, err = f.svc.VerifyEmail(ctx, res.SessionID, f.notifier.emailCode)
	if err != nil || !ok {
		t.Fatalf("verify: %v, %v", ok, err)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	key, err := f.svc.GenerateAPIKey(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if parts := strings.Split(key, ":"); len(parts) != 3 || parts[0] != f.user.ID || parts[1] != f.user.TenantID {
		t.Fatalf("malformed key %q", key)
	}

	res, err := f.svc.ValidateAPIKey(ctx, key)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.AccessToken == "" || res.TenantID != f.user.TenantID {
		t.Fatalf("unexpected result %+v", res)
	}

	for _, bad := range []string{"", "a:b", key + "x", "x:" + key} {
		if _, err := f.svc.ValidateAPIKey(ctx, bad); !errors.Is(err, ErrInvalidAPIKey) {
			t.Fatalf("key %q: got %v, want ErrInvalidAPIKey", bad, err)
		}
	}

	// Password rotation is the revocation mechanism.
	hash, err := HashPassword("new-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := f.store.Users().UpdatePassword(ctx, f.user.ID, hash); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := f.svc.ValidateAPIKey(ctx, key); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("rotated key: got %v, want ErrInvalidAPIKey", err)
	}
}

func TestAuthenticateResolvesPrincipal(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	admin, err := NewAdmin(f.store)
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	if err := f.svc.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("builtins: %v", err)
	}
	role, err := admin.CreateRole(ctx, CreateRoleInput{
		TenantID:    f.user.TenantID,
		Name:        "sender",
		Permissions: []string{PermSendSMS},
	})
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if err := admin.AssignRole(ctx, f.user.ID, role.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	res, err := f.svc.Login(ctx, "operator", "hunter22", "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	principal, err := f.svc.Authenticate(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.User.ID != f.user.ID {
		t.Fatalf("principal user = %s", principal.User.ID)
	}
	if !principal.HasPermission(PermSendSMS) {
		t.Fatal("principal must carry the granted permission")
	}
	if principal.HasPermission(PermManageTenants) {
		t.Fatal("principal must not carry ungranted permissions")
	}

	if _, err := f.svc.Authenticate(ctx, "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: got %v", err)
	}

	// Deactivation invalidates outstanding tokens.
	inactive := false
	if _, err := f.store.Users().Update(ctx, f.user.ID, UserUpdate{Active: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, res.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("inactive user token: got %v", err)
	}
}

func TestDisableGoogleAuthClearsSecret(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, _, err := f.svc.SetupGoogleAuth(ctx, f.user.ID, f.user.Email); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if p := f.profile(t); !p.AuthenticatorEnabled || p.AuthenticatorSecret == "" {
		t.Fatalf("setup did not enable authenticator: %+v", p)
	}
	if err := f.svc.DisableGoogleAuth(ctx, f.user.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if p := f.profile(t); p.AuthenticatorEnabled || p.AuthenticatorSecret != "" {
		t.Fatalf("disable must clear the secret: %+v", p)
	}
}
