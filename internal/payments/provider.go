package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v82"

	"github.com/snowskill/snowskill-backend/internal/subscriptions"
	"github.com/snowskill/snowskill-backend/pkg/config"
	"github.com/snowskill/snowskill-backend/pkg/enums"
	"github.com/snowskill/snowskill-backend/pkg/stripe"
)

// MetaPaymentID is the provider metadata key linking back to payments.id.
const MetaPaymentID = "payment_id"

// SessionRequest describes the checkout a provider should open.
type SessionRequest struct {
	PaymentID uuid.UUID
	UserID    uuid.UUID
	Email     string
	Plan      subscriptions.Plan
	Amount    decimal.Decimal
	Currency  string
}

// Session is the provider's answer to a checkout request.
type Session struct {
	ProviderPaymentID string
	CheckoutURL       string
	Payload           map[string]any
}

// Provider opens hosted checkout sessions.
type Provider interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// NewProvider picks the provider named in cfg.
func NewProvider(cfg config.PaymentsConfig, client *stripe.Client) (Provider, error) {
	switch cfg.ProviderName() {
	case config.PaymentProviderMock:
		return NewMockProvider(cfg.MockBaseURL), nil
	case config.PaymentProviderStripe:
		if client == nil {
			return nil, errors.New("stripe client required for stripe provider")
		}
		return NewStripeProvider(client.API().V1CheckoutSessions, cfg), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// MockProvider fabricates sessions pointing at a local confirmation page.
type MockProvider struct {
	baseURL string
}

func NewMockProvider(baseURL string) *MockProvider {
	return &MockProvider{baseURL: strings.TrimRight(baseURL, "/")}
}

func (m *MockProvider) Name() string { return string(enums.PaymentProviderMock) }

func (m *MockProvider) CreateSession(_ context.Context, req SessionRequest) (*Session, error) {
	q := url.Values{}
	q.Set(MetaPaymentID, req.PaymentID.String())
	q.Set("plan", req.Plan.ID)
	return &Session{
		ProviderPaymentID: "mock_" + req.PaymentID.String(),
		CheckoutURL:       m.baseURL + "?" + q.Encode(),
		Payload: map[string]any{
			"provider": m.Name(),
			"amount":   req.Amount.String(),
			"currency": req.Currency,
		},
	}, nil
}

type checkoutSessionCreator interface {
	Create(ctx context.Context, params *stripego.CheckoutSessionCreateParams) (*stripego.CheckoutSession, error)
}

// StripeProvider opens Stripe Checkout sessions in payment mode.
type StripeProvider struct {
	sessions   checkoutSessionCreator
	successURL string
	cancelURL  string
}

func NewStripeProvider(sessions checkoutSessionCreator, cfg config.PaymentsConfig) *StripeProvider {
	return &StripeProvider{
		sessions:   sessions,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}
}

func (p *StripeProvider) Name() string { return string(enums.PaymentProviderStripe) }

func (p *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	metadata := map[string]string{
		MetaPaymentID: req.PaymentID.String(),
		"user_id":     req.UserID.String(),
		"plan_id":     req.Plan.ID,
	}
	params := &stripego.CheckoutSessionCreateParams{
		Mode:              stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL:        stripego.String(withPaymentID(p.successURL, req.PaymentID)),
		CancelURL:         stripego.String(p.cancelURL),
		ClientReferenceID: stripego.String(req.PaymentID.String()),
		Metadata:          metadata,
		LineItems: []*stripego.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripego.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripego.String(strings.ToLower(req.Currency)),
					ProductData: &stripego.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripego.String("SnowSkill " + req.Plan.Label),
					},
					UnitAmount: stripego.Int64(minorUnits(req.Amount)),
				},
				Quantity: stripego.Int64(1),
			},
		},
		PaymentIntentData: &stripego.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripego.String(req.Email)
	}

	session, err := p.sessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}
	return &Session{
		ProviderPaymentID: session.ID,
		CheckoutURL:       session.URL,
		Payload: map[string]any{
			"provider":   p.Name(),
			"session_id": session.ID,
			"expires_at": session.ExpiresAt,
		},
	}, nil
}

// minorUnits converts a decimal amount into Stripe's smallest currency unit.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func withPaymentID(raw string, id uuid.UUID) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(MetaPaymentID, id.String())
	u.RawQuery = q.Encode()
	return u.String()
}
