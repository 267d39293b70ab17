package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPConfig carries the outbound mail settings, injected at construction.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends verification mail over plain SMTP with AUTH.
type SMTPSender struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender constructs an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, send: smtp.SendMail}
}

// SendVerificationEmail delivers a one-time code to the given address.
func (s *SMTPSender) SendVerificationEmail(ctx context.Context, to, username, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("recipient address is required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: Your verification code\r\n")
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Hello %s,\r\n\r\nYour verification code is: %s\r\n\r\nThe code expires in 5 minutes.\r\n", username, code)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var a smtp.Auth
	if s.cfg.Username != "" {
		a = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := s.send(addr, a, s.cfg.From, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// SendTwoFactorSMS is not supported by the mail channel.
func (s *SMTPSender) SendTwoFactorSMS(ctx context.Context, phoneNumber, code string) error {
	return fmt.Errorf("smtp sender cannot deliver sms")
}
