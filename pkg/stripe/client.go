package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"

	"github.com/snowskill/snowskill-backend/pkg/config"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

// Mode is the Stripe account mode a deployment is pinned to.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

var (
	errAPIKeyRequired = errors.New("stripe api key is required")
	errSecretRequired = errors.New("stripe webhook secret is required")
)

// secret and restricted keys both carry the mode in their prefix
var keyPrefixes = map[Mode][]string{
	ModeTest: {"sk_test_", "rk_test_"},
	ModeLive: {"sk_live_", "rk_live_"},
}

// Client holds the Stripe API client for checkout sessions plus the webhook
// signing secret. A deployment talks to exactly one mode.
type Client struct {
	api           *stripe.Client
	mode          Mode
	signingSecret string
}

// NewClient refuses to start when the API key belongs to a different mode
// than SNOWSKILL_STRIPE_ENV, so a live key never runs in staging.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := ParseMode(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if keyMode, ok := modeOfKey(apiKey); !ok || keyMode != mode {
		return nil, fmt.Errorf("stripe api key does not belong to %s mode", mode)
	}

	if logg != nil {
		logg.Info(ctx, "stripe client ready ("+string(mode)+" mode)")
	}
	return &Client{
		api:           stripe.NewClient(apiKey, nil),
		mode:          mode,
		signingSecret: secret,
	}, nil
}

// ParseMode accepts "test" or "live" in any case; blank means test.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeTest, nil
	case ModeTest, ModeLive:
		return m, nil
	default:
		return "", fmt.Errorf("stripe environment must be %q or %q, got %q", ModeTest, ModeLive, raw)
	}
}

func modeOfKey(key string) (Mode, bool) {
	for mode, prefixes := range keyPrefixes {
		for _, prefix := range prefixes {
			if strings.HasPrefix(key, prefix) {
				return mode, true
			}
		}
	}
	return "", false
}

// API exposes the typed v1 services, e.g. API().V1CheckoutSessions.
func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

func (c *Client) Mode() Mode {
	if c == nil {
		return ""
	}
	return c.mode
}

// Livemode matches stripe.Event.Livemode for events meant for this deployment.
func (c *Client) Livemode() bool {
	return c != nil && c.mode == ModeLive
}

// SigningSecret verifies Stripe-Signature headers on the webhook route.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}
