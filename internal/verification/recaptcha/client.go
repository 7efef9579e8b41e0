// Package recaptcha verifies Google reCAPTCHA tokens through the siteverify endpoint.
package recaptcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vote-integrity/backend/internal/verification"
)

const (
	defaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	defaultTimeout   = 5 * time.Second
	providerName     = "recaptcha"
)

// Client calls the siteverify API. It implements verification.Provider.
type Client struct {
	SiteKeyValue string
	SecretKey    string
	VerifyURL    string
	HTTPClient   *http.Client
}

// NewClient returns a client for the given keys. An empty verifyURL uses Google's endpoint.
func NewClient(siteKey, secretKey, verifyURL string) *Client {
	if verifyURL == "" {
		verifyURL = defaultVerifyURL
	}
	return &Client{
		SiteKeyValue: siteKey,
		SecretKey:    secretKey,
		VerifyURL:    verifyURL,
		HTTPClient:   &http.Client{Timeout: defaultTimeout},
	}
}

var _ verification.Provider = (*Client)(nil)

func (c *Client) Name() string { return providerName }

func (c *Client) SiteKey() string { return c.SiteKeyValue }

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score,omitempty"`
	Action     string   `json:"action,omitempty"`
	Hostname   string   `json:"hostname,omitempty"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

// Verify posts secret, response and remoteip as a form. Does not log the token.
func (c *Client) Verify(ctx context.Context, proof, remoteIP string) (verification.Outcome, error) {
	if c.SecretKey == "" {
		return verification.Outcome{}, fmt.Errorf("recaptcha: secret key not configured")
	}
	form := url.Values{}
	form.Set("secret", c.SecretKey)
	form.Set("response", proof)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return verification.Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return verification.Outcome{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return verification.Outcome{}, fmt.Errorf("recaptcha: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	var body siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return verification.Outcome{}, fmt.Errorf("recaptcha: decode response: %w", err)
	}
	out := verification.Outcome{Verified: body.Success}
	if body.Score != nil {
		out.Score = *body.Score
		out.HasScore = true
	}
	return out, nil
}
