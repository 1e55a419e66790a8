package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/snowskill/snowskill-backend/pkg/enums"
	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
)

// PaymentView is what the payment-success page polls after checkout.
type PaymentView struct {
	ID                uuid.UUID           `json:"id"`
	Status            enums.PaymentStatus `json:"status"`
	Final             bool                `json:"final"`
	PlanID            string              `json:"plan_id"`
	Amount            decimal.Decimal     `json:"amount"`
	Currency          string              `json:"currency"`
	Provider          string              `json:"provider"`
	ProviderPaymentID *string             `json:"provider_payment_id"`
	Metadata          datatypes.JSONMap   `json:"metadata"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// PaymentStatus returns one of the caller's own payments. Another user's
// payment id answers not found.
func (s *service) PaymentStatus(ctx context.Context, userID, paymentID uuid.UUID) (*PaymentView, error) {
	payment, err := s.payments.FindForUser(ctx, paymentID, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Payment not found")
	}
	return &PaymentView{
		ID:                payment.ID,
		Status:            payment.Status,
		Final:             payment.Status != enums.PaymentStatusPending,
		PlanID:            payment.PlanID,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		Provider:          payment.Provider,
		ProviderPaymentID: payment.ProviderPaymentID,
		Metadata:          payment.Metadata,
		CreatedAt:         payment.CreatedAt,
		UpdatedAt:         payment.UpdatedAt,
	}, nil
}

// ShouldSkip reports whether an incoming status is a replay or would move a
// finalized payment backwards.
func ShouldSkip(current, incoming enums.PaymentStatus) bool {
	switch {
	case current == enums.PaymentStatusRefunded:
		return true
	case current == enums.PaymentStatusActive:
		return incoming != enums.PaymentStatusRefunded
	case current.IsTerminalFailure() && incoming.IsTerminalFailure():
		return true
	default:
		return false
	}
}

// eventFor picks the event_log type recorded for a status transition.
func eventFor(status enums.PaymentStatus) enums.EventType {
	switch status {
	case enums.PaymentStatusActive:
		return enums.EventPurchaseSuccess
	case enums.PaymentStatusRefunded:
		return enums.EventPurchaseRefunded
	default:
		return enums.EventPurchaseFailed
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 signature in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimSpace(strings.ToLower(signature))
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
