package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProviderClient delivers email through the external provider's HTTP API.
// Used by the worker; the API server only ever enqueues.
type ProviderClient struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewProviderClient creates an email provider client
func NewProviderClient(baseURL, apiKey, from string) *ProviderClient {
	return &ProviderClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		from:       from,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	TextBody string `json:"text_body"`
}

// Deliver sends a magic-link email to the recipient
func (c *ProviderClient) Deliver(ctx context.Context, email, linkURL string) error {
	payload := sendRequest{
		From:    c.from,
		To:      email,
		Subject: "Your sign-in link",
		TextBody: fmt.Sprintf(
			"Click the link below to sign in. It can be used once and expires in one hour.\n\n%s\n\nIf you did not request this, you can ignore this email.",
			linkURL,
		),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email provider request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email provider returned status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}
