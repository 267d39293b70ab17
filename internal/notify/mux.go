package notify

import (
	"context"
	"fmt"
)

// Mux routes each channel to its own sender. Either side may be nil, in
// which case dispatch on that channel fails with a configuration error.
type Mux struct {
	Email Notifier
	SMS   Notifier
}

func (m *Mux) SendVerificationEmail(ctx context.Context, to, username, code string) error {
	if m.Email == nil {
		return fmt.Errorf("email channel is not configured")
	}
	return m.Email.SendVerificationEmail(ctx, to, username, code)
}

func (m *Mux) SendTwoFactorSMS(ctx context.Context, phoneNumber, code string) error {
	if m.SMS == nil {
		return fmt.Errorf("sms channel is not configured")
	}
	return m.SMS.SendTwoFactorSMS(ctx, phoneNumber, code)
}

// LogNotifier writes dispatches to the log instead of sending them. Used in
// development and tests.
type LogNotifier struct {
	Printf func(format string, args ...any)
}

func (n *LogNotifier) SendVerificationEmail(ctx context.Context, to, username, code string) error {
	if n.Printf != nil {
		n.Printf("notify: email to=%s user=%s code=%s", to, username, code)
	}
	return nil
}

func (n *LogNotifier) SendTwoFactorSMS(ctx context.Context, phoneNumber, code string) error {
	if n.Printf != nil {
		n.Printf("notify: sms to=%s code=%s", phoneNumber, code)
	}
	return nil
}
