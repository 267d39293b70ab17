package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

// pickFactor selects the active second-factor method for a profile. When more
// than one method is enabled the precedence is authenticator > SMS > email.
func pickFactor(p *Profile) (TwoFactorType, bool) {
	switch {
	case p.AuthenticatorEnabled:
		return TwoFactorGoogleAuth, true
	case p.SMSVerificationEnabled && p.PhoneVerified:
		return TwoFactorSMS, true
	case p.EmailVerificationEnabled:
		return TwoFactorEmail, true
	}
	return "", false
}

// generateCode draws a 6-digit code from a uniform distribution. The code is
// short-lived and channel-bound, so it does not need to be unguessable beyond
// its digit space.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// verifyFactor validates a submitted code for the requested method against
// the profile. Requesting a method the profile has not enabled is an error
// distinct from a wrong code.
func (s *Service) verifyFactor(ctx context.Context, sessionID string, profile *Profile, typ TwoFactorType, code string) error {
	switch typ {
	case TwoFactorGoogleAuth:
		if !profile.AuthenticatorEnabled || profile.AuthenticatorSecret == "" {
			return ErrTwoFactorNotEnabled
		}
		ok, err := VerifyTOTP(profile.AuthenticatorSecret, code, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidTwoFactorCode
		}
		return nil

	case TwoFactorSMS:
		if !profile.SMSVerificationEnabled || !profile.PhoneVerified {
			return ErrTwoFactorNotEnabled
		}
		return s.consumeCode(ctx, sessionID, code)

	case TwoFactorEmail:
		if !profile.EmailVerificationEnabled {
			return ErrTwoFactorNotEnabled
		}
		return s.consumeCode(ctx, sessionID, code)
	}
	return ErrTwoFactorNotEnabled
}

func (s *Service) consumeCode(ctx context.Context, sessionID, code string) error {
	ok, err := s.sessions.ConsumePendingCode(ctx, sessionID, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTwoFactorCode
	}
	return nil
}

// dispatchCode generates a one-time code, records it against the session and
// hands it to the notifier. Delivery failures propagate once; nothing is
// retried here.
func (s *Service) dispatchCode(ctx context.Context, sessionID string, user *User, profile *Profile, typ TwoFactorType) error {
	code, err := generateCode()
	if err != nil {
		return err
	}
	if err := s.sessions.SetPendingCode(ctx, sessionID, code); err != nil {
		return err
	}

	switch typ {
	case TwoFactorEmail:
		return s.notifier.SendVerificationEmail(ctx, user.Email, user.Username, code)
	case TwoFactorSMS:
		if profile.PhoneNumber == "" {
			return fmt.Errorf("%w: no phone number on profile", ErrTwoFactorNotEnabled)
		}
		return s.notifier.SendTwoFactorSMS(ctx, profile.PhoneNumber, code)
	case TwoFactorGoogleAuth:
		return fmt.Errorf("%w: authenticator codes are not dispatched", ErrInvalidInput)
	}
	return ErrTwoFactorNotEnabled
}
