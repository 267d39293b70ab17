package auth

import (
	"strings"
	"testing"
	"time"
)

// rfcSecret is the ASCII secret "12345678901234567890" from RFC 6238
// Appendix B, base32-encoded.
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestVerifyTOTPKnownVectors(t *testing.T) {
	// RFC 6238 Appendix B values truncated to 6 digits.
	cases := []struct {
		unix int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
		{20000000000, "353130"},
	}
	for _, tc := range cases {
		ok, err := VerifyTOTP(rfcSecret, tc.code, time.Unix(tc.unix, 0).UTC())
		if err != nil {
			t.Fatalf("verify at %d: %v", tc.unix, err)
		}
		if !ok {
			t.Fatalf("expected code %s to verify at t=%d", tc.code, tc.unix)
		}
	}
}

func TestVerifyTOTPAcceptsAdjacentStep(t *testing.T) {
	// Code for counter at t=59 must still verify one period later.
	ok, err := VerifyTOTP(rfcSecret, "287082", time.Unix(59+30, 0).UTC())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("expected one step of skew to be accepted")
	}
}

func TestVerifyTOTPRejectsStaleCode(t *testing.T) {
	ok, err := VerifyTOTP(rfcSecret, "287082", time.Unix(59+120, 0).UTC())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("code four steps old must not verify")
	}
}

func TestVerifyTOTPRejectsMalformedCodes(t *testing.T) {
	now := time.Unix(1111111111, 0).UTC()
	for _, code := range []string{"", "12345", "1234567", "05047a", "  5047"} {
		ok, err := VerifyTOTP(rfcSecret, code, now)
		if err != nil {
			t.Fatalf("verify %q: %v", code, err)
		}
		if ok {
			t.Fatalf("malformed code %q must not verify", code)
		}
	}
}

func TestVerifyTOTPBadSecret(t *testing.T) {
	if _, err := VerifyTOTP("not-base32!!", "123456", time.Now()); err == nil {
		t.Fatal("expected decode error for invalid secret")
	}
}

func TestGenerateTOTPSecretShape(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.Contains(secret, "=") {
		t.Fatalf("secret must be unpadded, got %q", secret)
	}
	// 20 raw bytes encode to 32 base32 characters.
	if len(secret) != 32 {
		t.Fatalf("unexpected secret length %d", len(secret))
	}
}

func TestTOTPProvisionURI(t *testing.T) {
	uri := TOTPProvisionURI("SMSPanel", "ops@acme.test", rfcSecret)
	if !strings.HasPrefix(uri, "otpauth://totp/SMSPanel:ops@acme.test?") {
		t.Fatalf("unexpected label in %q", uri)
	}
	for _, want := range []string{"secret=" + rfcSecret, "issuer=SMSPanel", "digits=6", "period=30", "algorithm=SHA1"} {
		if !strings.Contains(uri, want) {
			t.Fatalf("uri %q missing %q", uri, want)
		}
	}
}
