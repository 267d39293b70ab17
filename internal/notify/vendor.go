package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VendorConfig describes the HTTP SMS gateway an installation dispatches
// through. Every field comes from vendor configuration, not ambient state.
type VendorConfig struct {
	Endpoint string
	APIKey   string
	Sender   string
	Timeout  time.Duration
}

// VendorClient sends SMS through a configured HTTP gateway.
type VendorClient struct {
	cfg    VendorConfig
	client *http.Client
}

// NewVendorClient creates a client with a bounded request timeout.
func NewVendorClient(cfg VendorConfig) *VendorClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &VendorClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type vendorMessage struct {
	To     string `json:"to"`
	From   string `json:"from"`
	Body   string `json:"body"`
	APIKey string `json:"api_key"`
}

// SendTwoFactorSMS posts a one-time code to the gateway. Any non-2xx status
// is an error; the caller decides whether delivery failure matters.
func (c *VendorClient) SendTwoFactorSMS(ctx context.Context, phoneNumber, code string) error {
	msg := vendorMessage{
		To:     phoneNumber,
		From:   c.cfg.Sender,
		Body:   fmt.Sprintf("Your verification code is %s", code),
		APIKey: c.cfg.APIKey,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("vendor dispatch: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vendor dispatch: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// SendVerificationEmail is not supported by the SMS channel.
func (c *VendorClient) SendVerificationEmail(ctx context.Context, to, username, code string) error {
	return fmt.Errorf("sms vendor cannot deliver email")
}
