package payments

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/snowskill/snowskill-backend/api/middleware"
	"github.com/snowskill/snowskill-backend/api/responses"
	"github.com/snowskill/snowskill-backend/api/validators"
	paymentsvc "github.com/snowskill/snowskill-backend/internal/payments"
	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

const (
	maxWebhookBytes    = 64 << 10
	signatureHeader    = "x-webhook-signature"
	turnstileHeader    = "x-turnstile-token"
	errMissingSig      = "Missing signature"
	errInvalidSig      = "Invalid signature"
	errInvalidPayload  = "Invalid payload"
	serviceUnavailable = "payment service unavailable"
)

type checkoutRequest struct {
	PlanID         string `json:"plan_id"`
	TurnstileToken string `json:"turnstile_token,omitempty"`
}

type webhookResponse struct {
	OK bool `json:"ok"`
	*paymentsvc.WebhookResult
}

// Checkout opens a provider checkout session for one of the paid plans.
func Checkout(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, serviceUnavailable))
			return
		}
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		token := strings.TrimSpace(r.Header.Get(turnstileHeader))
		if token == "" {
			token = strings.TrimSpace(payload.TurnstileToken)
		}

		result, err := svc.Checkout(ctx, paymentsvc.CheckoutInput{
			UserID:         userID,
			Email:          middleware.EmailFromContext(ctx),
			PlanID:         strings.TrimSpace(payload.PlanID),
			TurnstileToken: token,
			ClientIP:       middleware.ClientIP(r),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Status reports one of the caller's payments so the success page can poll
// until the webhook lands.
func Status(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, serviceUnavailable))
			return
		}
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		paymentID, err := validators.ParseQueryUUID(r, "id", true, "Missing payment id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		view, err := svc.PaymentStatus(ctx, userID, paymentID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// Webhook applies a provider callback. When a secret is configured the raw
// body must carry a hex HMAC-SHA256 signature.
func Webhook(svc paymentsvc.Service, secret, provider string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, serviceUnavailable))
			return
		}

		raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if secret != "" {
			sig := strings.TrimSpace(r.Header.Get(signatureHeader))
			if sig == "" || len(raw) == 0 {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, errMissingSig))
				return
			}
			if !paymentsvc.VerifySignature(secret, raw, sig) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, errInvalidSig))
				return
			}
		}

		var input paymentsvc.WebhookInput
		if err := json.Unmarshal(raw, &input); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, errInvalidPayload))
			return
		}
		input.Provider = provider

		result, err := svc.ApplyWebhook(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, webhookResponse{OK: true, WebhookResult: result})
	}
}
