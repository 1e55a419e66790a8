package coupons

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/snowskill/snowskill-backend/internal/abuse"
	"github.com/snowskill/snowskill-backend/internal/eventlog"
	"github.com/snowskill/snowskill-backend/internal/users"
	"github.com/snowskill/snowskill-backend/pkg/config"
	"github.com/snowskill/snowskill-backend/pkg/db"
	"github.com/snowskill/snowskill-backend/pkg/db/models"
	"github.com/snowskill/snowskill-backend/pkg/enums"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

type couponRepository interface {
	couponReader
	ClaimWithTx(tx *gorm.DB, couponID uuid.UUID, now time.Time) (bool, error)
	InsertUsageWithTx(tx *gorm.DB, usage *models.CouponUsage) error
}

type userRepository interface {
	userReader
	LockByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.User, error)
	ActivateTrialWithTx(tx *gorm.DB, id uuid.UUID, in users.TrialActivation) error
}

type paymentWriter interface {
	CreateWithTx(tx *gorm.DB, payment *models.Payment) error
}

type eventAppender interface {
	AppendWithTx(ctx context.Context, tx *gorm.DB, userID *uuid.UUID, eventType enums.EventType, metadata map[string]any) error
}

type redemptionRecorder interface {
	IncRedemption(reason string)
	IncAbuseDenied(rule string)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the coupon surface used by the HTTP layer.
type Service interface {
	Validate(ctx context.Context, code string, userID *uuid.UUID) (Result, error)
	Redeem(ctx context.Context, input RedeemInput) (RedeemResult, error)
}

// ServiceParams groups dependencies for the coupon service.
type ServiceParams struct {
	Coupons           couponRepository
	Users             userRepository
	Payments          paymentWriter
	Events            eventAppender
	Policy            abuse.Policy
	TransactionRunner txRunner
	Metrics           redemptionRecorder
	Config            config.CouponsConfig
	Currency          string
	Logger            *logger.Logger
	Now               func() time.Time
}

type service struct {
	validator *Validator
	coupons   couponRepository
	users     userRepository
	payments  paymentWriter
	events    eventAppender
	policy    abuse.Policy
	txRunner  txRunner
	metrics   redemptionRecorder
	cfg       config.CouponsConfig
	currency  string
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the coupon service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Coupons == nil {
		return nil, fmt.Errorf("coupon repo required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user repo required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("event log required")
	}
	if params.Policy == nil {
		return nil, fmt.Errorf("abuse policy required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Config.RecordTrialPay && params.Payments == nil {
		return nil, fmt.Errorf("payment repo required when recording trial payments")
	}
	if params.Config.TrialDuration() <= 0 {
		return nil, fmt.Errorf("trial duration must be positive")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	currency := params.Currency
	if currency == "" {
		currency = string(enums.CurrencyTWD)
	}
	return &service{
		validator: NewValidator(params.Coupons, params.Users, now),
		coupons:   params.Coupons,
		users:     params.Users,
		payments:  params.Payments,
		events:    params.Events,
		policy:    params.Policy,
		txRunner:  params.TransactionRunner,
		metrics:   params.Metrics,
		cfg:       params.Config,
		currency:  currency,
		logg:      logg,
		now:       now,
	}, nil
}

func (s *service) Validate(ctx context.Context, code string, userID *uuid.UUID) (Result, error) {
	return s.validator.Validate(ctx, code, userID)
}

// Redeem validates, evaluates the abuse policy, then applies the coupon in a
// single transaction. Storage failures surface as an error together with a
// server_error or transaction_failed result.
func (s *service) Redeem(ctx context.Context, input RedeemInput) (RedeemResult, error) {
	if input.UserID == uuid.Nil {
		return s.finish(redeemRejected(ReasonNotAuthenticated)), nil
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":     input.UserID.String(),
		"coupon_code": Normalize(input.Code),
	})

	validation, err := s.validator.Validate(ctx, input.Code, &input.UserID)
	if err != nil {
		s.logg.Error(ctx, "coupon.validate_failed", err)
		return s.finish(redeemRejected(ReasonServerError)), err
	}
	if !validation.OK {
		return s.finish(redeemRejected(validation.Reason)), nil
	}
	coupon := validation.coupon

	decision, err := s.policy.Evaluate(ctx, abuse.Subject{
		UserID:           input.UserID,
		Email:            input.Email,
		IP:               input.IP,
		AccountCreatedAt: input.UserCreatedAt,
	})
	if err != nil {
		s.logg.Error(ctx, "coupon.abuse_check_failed", err)
		return s.finish(redeemRejected(ReasonServerError)), err
	}
	if !decision.Allowed {
		if s.metrics != nil {
			s.metrics.IncAbuseDenied(decision.Rule)
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"abuse_rule":   decision.Rule,
			"abuse_reason": decision.Reason,
			"client_ip":    input.IP,
		}), "coupon.abuse_denied")
		res := redeemRejected(ReasonAbuseDetected)
		res.RetryAfter = decision.RetryAfter
		return s.finish(res), nil
	}

	var view *SubscriptionView
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		view, txErr = s.applyWithTx(ctx, tx, coupon, input)
		return txErr
	})
	if err != nil {
		var rej rejection
		if errors.As(err, &rej) {
			return s.finish(redeemRejected(rej.reason)), nil
		}
		s.logg.Error(ctx, "coupon.redeem_tx_failed", err)
		return s.finish(redeemRejected(ReasonTransactionFailed)), err
	}

	s.logg.Info(ctx, "coupon.redeemed")
	return s.finish(RedeemResult{OK: true, Subscription: view}), nil
}

func (s *service) applyWithTx(ctx context.Context, tx *gorm.DB, coupon *models.Coupon, input RedeemInput) (*SubscriptionView, error) {
	now := s.now().UTC()

	user, err := s.users.LockByIDWithTx(tx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	if reason, ok := checkEligibility(user, now); !ok {
		return nil, rejection{reason: reason}
	}

	claimed, err := s.coupons.ClaimWithTx(tx, coupon.ID, now)
	if err != nil {
		return nil, fmt.Errorf("claim coupon: %w", err)
	}
	if !claimed {
		return nil, rejection{reason: ReasonMaxUsesReached}
	}

	usage := &models.CouponUsage{
		CouponID:   coupon.ID,
		UserID:     input.UserID,
		RedeemedAt: now,
		IPAddress:  optionalString(input.IP),
		UserAgent:  optionalString(input.UserAgent),
	}
	if err := s.coupons.InsertUsageWithTx(tx, usage); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, rejection{reason: ReasonAlreadyUsed}
		}
		return nil, fmt.Errorf("insert usage: %w", err)
	}

	source := coupon.Code
	if coupon.PartnerName != nil && *coupon.PartnerName != "" {
		source = *coupon.PartnerName
	}
	expiresAt := now.Add(s.cfg.TrialDuration())
	if err := s.users.ActivateTrialWithTx(tx, input.UserID, users.TrialActivation{
		PlanID:    coupon.PlanID,
		ExpiresAt: expiresAt,
		Source:    source,
		Reference: coupon.Code,
		At:        now,
	}); err != nil {
		return nil, fmt.Errorf("activate trial: %w", err)
	}

	if s.cfg.RecordTrialPay {
		payment := &models.Payment{
			UserID:            input.UserID,
			PlanID:            coupon.PlanID,
			Amount:            decimal.Zero,
			Currency:          s.currency,
			Provider:          string(enums.PaymentProviderTrialCoupon),
			Status:            enums.PaymentStatusActive,
			ProviderPaymentID: lo.ToPtr(trialPaymentRef(usage.ID)),
			Metadata: datatypes.JSONMap{
				"coupon_id":    coupon.ID.String(),
				"coupon_code":  coupon.Code,
				"partner_name": coupon.PartnerName,
				"trial_days":   s.cfg.TrialDurationDays,
			},
		}
		if err := s.payments.CreateWithTx(tx, payment); err != nil {
			return nil, fmt.Errorf("record trial payment: %w", err)
		}
	}

	if err := s.events.AppendWithTx(ctx, tx, &input.UserID, enums.EventTrialActivated, map[string]any{
		"coupon_id":          coupon.ID.String(),
		"coupon_code":        coupon.Code,
		"partner_name":       coupon.PartnerName,
		"plan_id":            coupon.PlanID,
		"referral_code":      coupon.Code,
		eventlog.MetaClientIP: input.IP,
	}); err != nil {
		return nil, fmt.Errorf("log trial activation: %w", err)
	}

	label := coupon.PlanLabel
	if label == "" {
		label = s.cfg.TrialPlanLabel
	}
	return &SubscriptionView{
		Plan:             coupon.PlanID,
		PlanLabel:        label,
		ExpiresAt:        expiresAt,
		TrialActivatedAt: now,
		TrialSource:      source,
	}, nil
}

func (s *service) finish(res RedeemResult) RedeemResult {
	if s.metrics != nil {
		if res.OK {
			s.metrics.IncRedemption("ok")
		} else {
			s.metrics.IncRedemption(string(res.Reason))
		}
	}
	return res
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// trialPaymentRef is unique per redemption so a provider callback can never
// match another rider's trial payment.
func trialPaymentRef(usageID uuid.UUID) string {
	return "trial_coupon:" + usageID.String()
}
