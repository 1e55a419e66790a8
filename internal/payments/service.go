package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/snowskill/snowskill-backend/internal/subscriptions"
	"github.com/snowskill/snowskill-backend/internal/users"
	"github.com/snowskill/snowskill-backend/pkg/db/models"
	"github.com/snowskill/snowskill-backend/pkg/enums"
	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

const detailAlreadyProcessed = "Payment already processed"

type paymentRepository interface {
	CreateWithTx(tx *gorm.DB, payment *models.Payment) error
	LockByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.Payment, error)
	LockByProviderIDWithTx(tx *gorm.DB, providerPaymentID string) (*models.Payment, error)
	UpdateWithTx(tx *gorm.DB, payment *models.Payment) error
	Update(ctx context.Context, payment *models.Payment) error
	FindForUser(ctx context.Context, id, userID uuid.UUID) (*models.Payment, error)
}

type userRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	LockByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.User, error)
	GrantPlanWithTx(tx *gorm.DB, id uuid.UUID, in users.PlanGrant) error
	ResetToFreeWithTx(tx *gorm.DB, ids []uuid.UUID) (int64, error)
}

type eventAppender interface {
	AppendWithTx(ctx context.Context, tx *gorm.DB, userID *uuid.UUID, eventType enums.EventType, metadata map[string]any) error
}

type conversionRecorder interface {
	RecordConversion(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.AffiliateCommission, error)
}

// HumanVerifier checks a bot-defense token.
type HumanVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service drives plan purchases from checkout through provider callbacks.
type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
	ApplyWebhook(ctx context.Context, input WebhookInput) (*WebhookResult, error)
	PaymentStatus(ctx context.Context, userID, paymentID uuid.UUID) (*PaymentView, error)
}

type ServiceParams struct {
	Payments          paymentRepository
	Users             userRepository
	Events            eventAppender
	Conversions       conversionRecorder
	Provider          Provider
	Human             HumanVerifier
	TransactionRunner txRunner
	Currency          string
	Logger            *logger.Logger
	Now               func() time.Time
}

type service struct {
	payments    paymentRepository
	users       userRepository
	events      eventAppender
	conversions conversionRecorder
	provider    Provider
	human       HumanVerifier
	txRunner    txRunner
	currency    string
	logg        *logger.Logger
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Payments == nil {
		return nil, fmt.Errorf("payment repo required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user repo required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("event log required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("payment provider required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = string(enums.CurrencyTWD)
	}
	return &service{
		payments:    params.Payments,
		users:       params.Users,
		events:      params.Events,
		conversions: params.Conversions,
		provider:    params.Provider,
		human:       params.Human,
		txRunner:    params.TransactionRunner,
		currency:    currency,
		logg:        logg,
		now:         now,
	}, nil
}

// CheckoutInput is a purchase request from an authenticated user.
type CheckoutInput struct {
	UserID         uuid.UUID
	Email          string
	PlanID         string
	TurnstileToken string
	ClientIP       string
}

type CheckoutPlan struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Days  int    `json:"days"`
}

// CheckoutResult tells the client where to complete payment.
type CheckoutResult struct {
	PaymentID         uuid.UUID       `json:"payment_id"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	CheckoutURL       string          `json:"checkout_url"`
	Provider          string          `json:"provider"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Plan              CheckoutPlan    `json:"plan"`
}

// Checkout records a pending payment and opens a provider session for it.
func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if strings.TrimSpace(input.PlanID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Missing planId")
	}
	if s.human != nil {
		ok, err := s.human.Verify(ctx, input.TurnstileToken, input.ClientIP)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "payments.turnstile_error")
		}
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "Turnstile verification failed")
		}
	}

	plan, ok := subscriptions.LookupPlan(input.PlanID)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Invalid planId")
	}

	user, err := s.users.FindByID(ctx, input.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "Failed to fetch user profile")
	}
	now := s.now().UTC()
	if user.HasActivePaidPlan(now) && user.SubscriptionExpiresAt != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "Subscription already active").
			WithDetails(map[string]any{"detail": "目前已有有效方案，請確認是否需要續訂或更換方案"})
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"plan_id": plan.ID, "provider": s.provider.Name()})

	payment := &models.Payment{
		UserID:   input.UserID,
		PlanID:   plan.ID,
		Amount:   plan.Price,
		Currency: s.currency,
		Provider: s.provider.Name(),
		Status:   enums.PaymentStatusPending,
		Metadata: datatypes.JSONMap{
			"user_email":    input.Email,
			"previous_plan": previousPlan(user),
		},
	}
	if err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		return s.payments.CreateWithTx(tx, payment)
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "Failed to create payment")
	}
	ctx = s.logg.WithField(ctx, "payment_id", payment.ID.String())

	session, err := s.provider.CreateSession(ctx, SessionRequest{
		PaymentID: payment.ID,
		UserID:    input.UserID,
		Email:     input.Email,
		Plan:      plan,
		Amount:    plan.Price,
		Currency:  s.currency,
	})
	if err != nil {
		s.logg.Error(ctx, "payments.checkout_session_failed", err)
		payment.Status = enums.PaymentStatusFailed
		payment.Metadata["error_message"] = err.Error()
		if updateErr := s.payments.Update(ctx, payment); updateErr != nil {
			s.logg.Error(ctx, "payments.mark_failed", updateErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "Payment provider error")
	}

	payment.ProviderPaymentID = &session.ProviderPaymentID
	payment.Metadata["checkout_payload"] = session.Payload
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.payments.UpdateWithTx(tx, payment); err != nil {
			return err
		}
		return s.events.AppendWithTx(ctx, tx, &input.UserID, enums.EventPurchaseInitiated, map[string]any{
			"plan_id":    plan.ID,
			"amount":     plan.Price.String(),
			"currency":   s.currency,
			"payment_id": payment.ID.String(),
			"provider":   s.provider.Name(),
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "Failed to record checkout")
	}

	s.logg.Info(ctx, "payments.checkout_created")
	return &CheckoutResult{
		PaymentID:         payment.ID,
		ProviderPaymentID: session.ProviderPaymentID,
		CheckoutURL:       session.CheckoutURL,
		Provider:          s.provider.Name(),
		Amount:            plan.Price,
		Currency:          s.currency,
		Plan:              CheckoutPlan{ID: plan.ID, Label: plan.Label, Days: plan.Days},
	}, nil
}

// WebhookInput is a provider callback normalized to the internal shape.
type WebhookInput struct {
	PaymentID         string           `json:"payment_id"`
	ProviderPaymentID string           `json:"provider_payment_id"`
	PlanID            string           `json:"plan_id"`
	Status            string           `json:"status"`
	Amount            *decimal.Decimal `json:"amount"`
	Currency          string           `json:"currency"`
	Reason            string           `json:"reason"`
	Provider          string           `json:"-"`
}

// WebhookResult reports what a callback changed.
type WebhookResult struct {
	PaymentID uuid.UUID           `json:"payment_id"`
	Status    enums.PaymentStatus `json:"status"`
	Skipped   bool                `json:"skipped"`
	Detail    string              `json:"detail,omitempty"`
}

// ApplyWebhook moves a payment to the mapped status and applies the user-side
// effects in one transaction. Replays and backwards moves are acknowledged
// without changes.
func (s *service) ApplyWebhook(ctx context.Context, input WebhookInput) (*WebhookResult, error) {
	input.PaymentID = strings.TrimSpace(input.PaymentID)
	input.ProviderPaymentID = strings.TrimSpace(input.ProviderPaymentID)
	if input.PaymentID == "" && input.ProviderPaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Missing payment identifiers")
	}
	incoming := enums.MapProviderPaymentStatus(input.Status)

	var result *WebhookResult
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		payment, err := s.lockPayment(tx, input)
		if err != nil {
			return err
		}
		res, err := s.applyWithTx(ctx, tx, payment, input, incoming)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply payment webhook")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"payment_id": result.PaymentID.String(),
		"status":     result.Status,
		"skipped":    result.Skipped,
	}), "payments.webhook_applied")
	return result, nil
}

func (s *service) lockPayment(tx *gorm.DB, input WebhookInput) (*models.Payment, error) {
	var (
		payment *models.Payment
		err     error
	)
	if input.ProviderPaymentID != "" {
		payment, err = s.payments.LockByProviderIDWithTx(tx, input.ProviderPaymentID)
	}
	if (input.ProviderPaymentID == "" || errors.Is(err, gorm.ErrRecordNotFound)) && input.PaymentID != "" {
		id, parseErr := uuid.Parse(input.PaymentID)
		if parseErr != nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Payment not found")
		}
		payment, err = s.payments.LockByIDWithTx(tx, id)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Payment not found")
		}
		return nil, err
	}
	return payment, nil
}

func (s *service) applyWithTx(ctx context.Context, tx *gorm.DB, payment *models.Payment, input WebhookInput, incoming enums.PaymentStatus) (*WebhookResult, error) {
	planID := input.PlanID
	if planID == "" {
		planID = payment.PlanID
	}
	plan, ok := subscriptions.LookupPlan(planID)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Plan not found")
	}
	if msg := mismatch(input, payment); msg != "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, msg)
	}

	provider := input.Provider
	if provider == "" {
		provider = payment.Provider
	}
	if payment.Metadata == nil {
		payment.Metadata = datatypes.JSONMap{}
	}
	payment.Metadata["last_webhook"] = map[string]any{
		"provider":    provider,
		"status":      input.Status,
		"received_at": s.now().UTC().Format(time.RFC3339),
	}
	if incoming == enums.PaymentStatusFailed && input.Reason != "" {
		payment.Metadata["error_message"] = input.Reason
	}

	if ShouldSkip(payment.Status, incoming) {
		if err := s.payments.UpdateWithTx(tx, payment); err != nil {
			return nil, fmt.Errorf("touch payment: %w", err)
		}
		return &WebhookResult{PaymentID: payment.ID, Status: payment.Status, Skipped: true, Detail: detailAlreadyProcessed}, nil
	}

	previous := payment.Status
	payment.Status = incoming
	if payment.ProviderPaymentID == nil && input.ProviderPaymentID != "" {
		payment.ProviderPaymentID = &input.ProviderPaymentID
	}
	if err := s.payments.UpdateWithTx(tx, payment); err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}

	if previous != incoming && incoming != enums.PaymentStatusPending {
		if err := s.events.AppendWithTx(ctx, tx, &payment.UserID, eventFor(incoming), map[string]any{
			"plan_id":             plan.ID,
			"amount":              payment.Amount.String(),
			"currency":            payment.Currency,
			"payment_id":          payment.ID.String(),
			"provider":            provider,
			"provider_payment_id": payment.ProviderPaymentID,
			"status":              incoming,
			"reason":              input.Reason,
		}); err != nil {
			return nil, fmt.Errorf("log payment event: %w", err)
		}
	}

	reference := paymentReference(payment)
	switch incoming {
	case enums.PaymentStatusActive:
		user, err := s.users.LockByIDWithTx(tx, payment.UserID)
		if err != nil {
			return nil, fmt.Errorf("lock user: %w", err)
		}
		expiresAt := subscriptions.ExtendExpiry(plan, user.SubscriptionExpiresAt, s.now().UTC())
		if err := s.users.GrantPlanWithTx(tx, payment.UserID, users.PlanGrant{
			PlanID:    plan.ID,
			ExpiresAt: expiresAt,
			Provider:  provider,
			Reference: reference,
		}); err != nil {
			return nil, fmt.Errorf("grant plan: %w", err)
		}
		if s.conversions != nil {
			if _, err := s.conversions.RecordConversion(ctx, tx, payment); err != nil {
				return nil, fmt.Errorf("record conversion: %w", err)
			}
		}
	case enums.PaymentStatusRefunded:
		user, err := s.users.LockByIDWithTx(tx, payment.UserID)
		if err != nil {
			return nil, fmt.Errorf("lock user: %w", err)
		}
		if user.LastPaymentReference != nil && *user.LastPaymentReference == reference {
			if _, err := s.users.ResetToFreeWithTx(tx, []uuid.UUID{payment.UserID}); err != nil {
				return nil, fmt.Errorf("revoke plan: %w", err)
			}
		}
	}

	return &WebhookResult{PaymentID: payment.ID, Status: incoming}, nil
}

func mismatch(input WebhookInput, payment *models.Payment) string {
	if input.PlanID != "" && input.PlanID != payment.PlanID {
		return "Plan mismatch"
	}
	if input.Amount != nil && !input.Amount.Equal(payment.Amount) {
		return "Amount mismatch"
	}
	if input.Currency != "" && !strings.EqualFold(input.Currency, payment.Currency) {
		return "Currency mismatch"
	}
	return ""
}

func paymentReference(payment *models.Payment) string {
	if payment.ProviderPaymentID != nil && *payment.ProviderPaymentID != "" {
		return *payment.ProviderPaymentID
	}
	return payment.ID.String()
}

func previousPlan(user *models.User) string {
	if user.SubscriptionType == "" {
		return models.PlanFree
	}
	return user.SubscriptionType
}
