package payments

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v82"

	"github.com/snowskill/snowskill-backend/pkg/enums"
	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

type webhookApplier interface {
	ApplyWebhook(ctx context.Context, input WebhookInput) (*WebhookResult, error)
}

// StripeEvents translates Stripe Checkout events into payment transitions.
type StripeEvents struct {
	payments webhookApplier
	logg     *logger.Logger
}

func NewStripeEvents(payments webhookApplier, logg *logger.Logger) (*StripeEvents, error) {
	if payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment service required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &StripeEvents{payments: payments, logg: logg}, nil
}

// HandleEvent applies the events SnowSkill cares about and ignores the rest.
func (h *StripeEvents) HandleEvent(ctx context.Context, event *stripego.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripego.EventTypeCheckoutSessionCompleted, stripego.EventTypeCheckoutSessionExpired:
		var session stripego.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
		}
		status := string(enums.PaymentStatusCanceled)
		if event.Type == stripego.EventTypeCheckoutSessionCompleted {
			if session.PaymentStatus != stripego.CheckoutSessionPaymentStatusPaid {
				h.logg.Info(h.logg.WithField(ctx, "session_id", session.ID), "stripe.session_unpaid")
				return nil
			}
			status = "paid"
		}
		paymentID := session.Metadata[MetaPaymentID]
		if paymentID == "" {
			paymentID = session.ClientReferenceID
		}
		input := WebhookInput{
			PaymentID:         paymentID,
			ProviderPaymentID: session.ID,
			Status:            status,
			Provider:          string(enums.PaymentProviderStripe),
		}
		if status == "paid" {
			amount := decimal.New(session.AmountTotal, -2)
			input.Amount = &amount
			input.Currency = strings.ToUpper(string(session.Currency))
		}
		_, err := h.payments.ApplyWebhook(ctx, input)
		return err
	case stripego.EventTypeChargeRefunded:
		var charge stripego.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge")
		}
		paymentID := charge.Metadata[MetaPaymentID]
		if paymentID == "" || !charge.Refunded {
			h.logg.Info(h.logg.WithField(ctx, "charge_id", charge.ID), "stripe.refund_ignored")
			return nil
		}
		_, err := h.payments.ApplyWebhook(ctx, WebhookInput{
			PaymentID: paymentID,
			Status:    string(enums.PaymentStatusRefunded),
			Provider:  string(enums.PaymentProviderStripe),
		})
		return err
	default:
		return nil
	}
}
