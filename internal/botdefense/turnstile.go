package botdefense

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/snowskill/snowskill-backend/pkg/config"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

const defaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// Turnstile verifies Cloudflare Turnstile tokens.
type Turnstile struct {
	secret    string
	verifyURL string
	timeout   time.Duration
	client    *retryablehttp.Client
	logg      *logger.Logger
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// NewTurnstile builds a verifier. An empty secret disables verification.
func NewTurnstile(cfg config.TurnstileConfig, logg *logger.Logger) *Turnstile {
	if logg == nil {
		logg = logger.Nop()
	}
	verifyURL := strings.TrimSpace(cfg.VerifyURL)
	if verifyURL == "" {
		verifyURL = defaultVerifyURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = nil
	return &Turnstile{
		secret:    strings.TrimSpace(cfg.SecretKey),
		verifyURL: verifyURL,
		timeout:   timeout,
		client:    client,
		logg:      logg,
	}
}

// Enabled reports whether a secret is configured.
func (t *Turnstile) Enabled() bool {
	return t != nil && t.secret != ""
}

// Verify returns true when the token is accepted or verification is disabled.
// A missing token fails closed once a secret is configured.
func (t *Turnstile) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if !t.Enabled() {
		return true, nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}

	form := url.Values{}
	form.Set("secret", t.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, t.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("build turnstile request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("turnstile verify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("turnstile verify: status %d", resp.StatusCode)
	}
	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode turnstile response: %w", err)
	}
	if !body.Success {
		t.logg.Info(t.logg.WithField(ctx, "error_codes", body.ErrorCodes), "turnstile.rejected")
	}
	return body.Success, nil
}
