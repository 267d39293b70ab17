// Package notify delivers one-time codes and verification mail through
// external channels. Dispatch is fire-and-forget from the auth core's point
// of view: failures are reported to the caller once and never retried here.
package notify

import "context"

// Notifier is the outbound notification channel consumed by the auth core.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, to, username, code string) error
	SendTwoFactorSMS(ctx context.Context, phoneNumber, code string) error
}
