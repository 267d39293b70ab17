package auth

import (
	"testing"
	"time"
)

func testUser() *User {
	return &User{
		ID:       "u-1",
		TenantID: "t-1",
		Username: "operator",
		Email:    "operator@acme.test",
		Active:   true,
	}
}

func TestIssueAndParseAccessToken(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss, err := NewTokenIssuer([]byte("test-secret"), WithTokenClock(func() time.Time { return base }))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	roles := []*Role{{ID: "r-1", Name: "admin"}, {ID: "r-2", Name: "support"}}
	perms := []Permission{
		{Name: PermManageUsers},
		{Name: PermSendSMS},
		{Name: PermManageUsers}, // duplicate across roles
	}
	token, exp, err := iss.IssueAccessToken(testUser(), roles, perms)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if want := base.Add(15 * time.Minute); !exp.Equal(want) {
		t.Fatalf("expiry = %v, want %v", exp, want)
	}

	claims, err := iss.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u-1" || claims.TenantID != "t-1" || claims.Username != "operator" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("roles = %v", claims.Roles)
	}
	if len(claims.Permissions) != 2 {
		t.Fatalf("duplicate permissions must collapse, got %v", claims.Permissions)
	}
	if claims.Permissions[0] != PermSendSMS && claims.Permissions[1] != PermSendSMS {
		t.Fatalf("missing %s in %v", PermSendSMS, claims.Permissions)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss, err := NewTokenIssuer([]byte("test-secret"),
		WithAccessTTL(time.Minute),
		WithTokenClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	token, _, err := iss.IssueAccessToken(testUser(), nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := iss.ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsForeignSignature(t *testing.T) {
	issA, _ := NewTokenIssuer([]byte("secret-a"))
	issB, _ := NewTokenIssuer([]byte("secret-b"))
	token, _, err := issA.IssueAccessToken(testUser(), nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issB.ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	issA, _ := NewTokenIssuer([]byte("shared"), WithIssuer("panel-a"))
	issB, _ := NewTokenIssuer([]byte("shared"), WithIssuer("panel-b"))
	token, _, err := issA.IssueAccessToken(testUser(), nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issB.ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestIssueRefreshTokenIsRandom(t *testing.T) {
	iss, _ := NewTokenIssuer([]byte("test-secret"))
	a, err := iss.IssueRefreshToken()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	b, err := iss.IssueRefreshToken()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if a == b {
		t.Fatal("refresh tokens must be unique")
	}
	if len(a) != 44 { // 32 bytes, base64 with padding
		t.Fatalf("unexpected token length %d", len(a))
	}
}
