package affiliates

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/snowskill/snowskill-backend/internal/coupons"
	"github.com/snowskill/snowskill-backend/pkg/auth"
	"github.com/snowskill/snowskill-backend/pkg/config"
	"github.com/snowskill/snowskill-backend/pkg/db"
	"github.com/snowskill/snowskill-backend/pkg/db/models"
	"github.com/snowskill/snowskill-backend/pkg/enums"
	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

const (
	MaxListLimit     = 100
	partnerPlanID    = "pass_7"
	partnerPlanLabel = "7天試用"
	dashboardDays    = 30
)

type partnerRepository interface {
	FindPartnerByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.AffiliatePartner, error)
	FindPartnerBySupabaseUser(ctx context.Context, userID uuid.UUID) (*models.AffiliatePartner, error)
	ListPartners(ctx context.Context) ([]models.AffiliatePartner, error)
	PartnerTaken(ctx context.Context, email, code string) (bool, bool, error)
	PartnerTakenWithTx(tx *gorm.DB, email, code string) (bool, bool, error)
	CreatePartnerWithTx(tx *gorm.DB, partner *models.AffiliatePartner) error
	InsertCommissionWithTx(tx *gorm.DB, commission *models.AffiliateCommission) (bool, error)
	LockPendingForQuarterWithTx(tx *gorm.DB, quarter string) ([]models.AffiliateCommission, error)
	SettleWithTx(tx *gorm.DB, ids []uuid.UUID, now time.Time) (int64, error)
	MarkPaid(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)
	ListCommissions(ctx context.Context, filter CommissionFilter) ([]CommissionRow, error)
	ListByPartner(ctx context.Context, partnerID uuid.UUID) ([]models.AffiliateCommission, error)
}

type couponStore interface {
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
	CreateWithTx(tx *gorm.DB, coupon *models.Coupon) error
	FindPartnerCouponForUserWithTx(tx *gorm.DB, userID uuid.UUID) (*models.Coupon, error)
	ListByPartner(ctx context.Context, partnerID uuid.UUID) ([]models.Coupon, error)
	CountUsagesByCoupons(ctx context.Context, couponIDs []uuid.UUID) (int64, error)
	UsageTimesSince(ctx context.Context, couponIDs []uuid.UUID, since time.Time) ([]time.Time, error)
}

// AccountProvisioner creates the partner's login with the auth provider and
// disables it again when onboarding cannot complete.
type AccountProvisioner interface {
	CreateAffiliateUser(ctx context.Context, email, password, partnerName string) (uuid.UUID, error)
	DisableAffiliateUser(ctx context.Context, userID uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service covers partner onboarding, commission accrual and settlement.
type Service interface {
	RecordConversion(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.AffiliateCommission, error)
	SettleQuarter(ctx context.Context, quarter string) (SettlementSummary, error)
	SettlePreviousQuarter(ctx context.Context) (SettlementSummary, error)
	MarkPaid(ctx context.Context, ids []uuid.UUID) (int64, error)
	ListCommissions(ctx context.Context, filter CommissionFilter) ([]CommissionRow, error)
	CreatePartner(ctx context.Context, input CreatePartnerInput) (*PartnerCreated, error)
	Dashboard(ctx context.Context, supabaseUserID uuid.UUID) (*Dashboard, error)
	ListPartners(ctx context.Context) ([]PartnerSummary, error)
}

type ServiceParams struct {
	Partners          partnerRepository
	Coupons           couponStore
	Accounts          AccountProvisioner
	TransactionRunner txRunner
	Config            config.AffiliateConfig
	Logger            *logger.Logger
	Now               func() time.Time
	Passwords         func() (string, error)
}

type service struct {
	partners  partnerRepository
	coupons   couponStore
	accounts  AccountProvisioner
	txRunner  txRunner
	rates     RateBounds
	cfg       config.AffiliateConfig
	logg      *logger.Logger
	now       func() time.Time
	passwords func() (string, error)
}

func NewService(params ServiceParams) (Service, error) {
	if params.Partners == nil {
		return nil, fmt.Errorf("partner repo required")
	}
	if params.Coupons == nil {
		return nil, fmt.Errorf("coupon repo required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	def, lower, upper, err := params.Config.Rates()
	if err != nil {
		return nil, err
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	passwords := params.Passwords
	if passwords == nil {
		passwords = auth.TempPassword
	}
	return &service{
		partners:  params.Partners,
		coupons:   params.Coupons,
		accounts:  params.Accounts,
		txRunner:  params.TransactionRunner,
		rates:     RateBounds{Default: def, Min: lower, Max: upper},
		cfg:       params.Config,
		logg:      logg,
		now:       now,
		passwords: passwords,
	}, nil
}

// RecordConversion accrues a pending commission when the paying user redeemed
// an active partner's coupon. It runs inside the caller's transaction and is a
// no-op for unattributed users, inactive partners and zero-amount payments.
func (s *service) RecordConversion(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.AffiliateCommission, error) {
	if payment == nil || !payment.Amount.IsPositive() {
		return nil, nil
	}
	coupon, err := s.coupons.FindPartnerCouponForUserWithTx(tx, payment.UserID)
	if err != nil {
		return nil, fmt.Errorf("find partner coupon: %w", err)
	}
	if coupon == nil || coupon.PartnerID == nil {
		return nil, nil
	}
	partner, err := s.partners.FindPartnerByIDWithTx(tx, *coupon.PartnerID)
	if err != nil {
		return nil, fmt.Errorf("load partner: %w", err)
	}
	if partner == nil || !partner.IsActive {
		return nil, nil
	}

	now := s.now().UTC()
	commission := &models.AffiliateCommission{
		PartnerID:         partner.ID,
		UserID:            payment.UserID,
		PaymentID:         payment.ID,
		CouponCode:        coupon.Code,
		PaidAmount:        payment.Amount,
		CommissionAmount:  CalculateCommission(payment.Amount, partner.CommissionRate),
		CommissionRate:    partner.CommissionRate,
		SettlementQuarter: SettlementPeriod(now),
		Status:            enums.CommissionStatusPending,
	}
	inserted, err := s.partners.InsertCommissionWithTx(tx, commission)
	if err != nil {
		return nil, fmt.Errorf("insert commission: %w", err)
	}
	if !inserted {
		return nil, nil
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"partner_id":        partner.ID.String(),
		"payment_id":        payment.ID.String(),
		"commission_amount": commission.CommissionAmount.String(),
	}), "affiliate.commission_recorded")
	return commission, nil
}

// SettlementSummary reports what one settlement run moved.
type SettlementSummary struct {
	Quarter          string `json:"quarter"`
	CommissionsCount int    `json:"commissions_count"`
	PartnersCount    int    `json:"partners_count"`
}

// SettleQuarter moves the quarter's pending commissions to settled. Running it
// twice for the same quarter settles nothing the second time.
func (s *service) SettleQuarter(ctx context.Context, quarter string) (SettlementSummary, error) {
	summary := SettlementSummary{Quarter: quarter}
	if !ValidQuarter(quarter) {
		return summary, pkgerrors.New(pkgerrors.CodeValidation, "quarter must look like 2025-Q1")
	}
	ctx = s.logg.WithField(ctx, "quarter", quarter)

	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.partners.LockPendingForQuarterWithTx(tx, quarter)
		if err != nil {
			return fmt.Errorf("load pending commissions: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		ids := lo.Map(rows, func(c models.AffiliateCommission, _ int) uuid.UUID { return c.ID })
		settled, err := s.partners.SettleWithTx(tx, ids, s.now().UTC())
		if err != nil {
			return fmt.Errorf("settle commissions: %w", err)
		}
		summary.CommissionsCount = int(settled)
		summary.PartnersCount = len(lo.Uniq(lo.Map(rows, func(c models.AffiliateCommission, _ int) uuid.UUID { return c.PartnerID })))
		return nil
	})
	if err != nil {
		return SettlementSummary{Quarter: quarter}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "quarterly settlement failed")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"commissions_count": summary.CommissionsCount,
		"partners_count":    summary.PartnersCount,
	}), "affiliate.quarter_settled")
	return summary, nil
}

func (s *service) SettlePreviousQuarter(ctx context.Context) (SettlementSummary, error) {
	return s.SettleQuarter(ctx, PreviousQuarter(s.now().UTC()))
}

func (s *service) MarkPaid(ctx context.Context, ids []uuid.UUID) (int64, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "ids must not be empty")
	}
	if len(ids) > MaxListLimit {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d ids per request", MaxListLimit))
	}
	updated, err := s.partners.MarkPaid(ctx, ids, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark commissions paid")
	}
	return updated, nil
}

func (s *service) ListCommissions(ctx context.Context, filter CommissionFilter) ([]CommissionRow, error) {
	if filter.Quarter != "" && !ValidQuarter(filter.Quarter) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quarter must look like 2025-Q1")
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown commission status")
	}
	if filter.Limit <= 0 || filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}
	rows, err := s.partners.ListCommissions(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list commissions")
	}
	return rows, nil
}

// CreatePartnerInput is the admin request to onboard a partner.
type CreatePartnerInput struct {
	PartnerName    string
	ContactEmail   string
	CouponCode     string
	CommissionRate *decimal.Decimal
}

// PartnerCreated is returned once; the temporary password is not stored.
type PartnerCreated struct {
	ID                uuid.UUID       `json:"id"`
	PartnerName       string          `json:"partner_name"`
	ContactEmail      string          `json:"contact_email"`
	CommissionRate    decimal.Decimal `json:"commission_rate"`
	CouponCode        string          `json:"coupon_code"`
	CouponLink        string          `json:"coupon_link"`
	SupabaseUserID    uuid.UUID       `json:"supabase_user_id"`
	TemporaryPassword string          `json:"temporary_password"`
	CreatedAt         time.Time       `json:"created_at"`
}

// CreatePartner checks email and code are free, provisions the auth account,
// then writes the partner and its coupon in one transaction. The network call
// stays outside the transaction; if the write fails the new login is disabled.
func (s *service) CreatePartner(ctx context.Context, input CreatePartnerInput) (*PartnerCreated, error) {
	if s.accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "account provisioning unavailable")
	}
	name := strings.TrimSpace(input.PartnerName)
	email := strings.ToLower(strings.TrimSpace(input.ContactEmail))
	code := coupons.Normalize(input.CouponCode)
	if name == "" || email == "" || code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "partner_name, contact_email and coupon_code are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "contact_email is invalid")
	}
	if !coupons.ValidCode(code) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon_code must be 4-32 letters, digits, '-' or '_'")
	}
	rate, err := s.rates.Resolve(input.CommissionRate)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, err.Error())
	}

	existing, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check coupon code")
	}
	if existing != nil {
		return nil, codeTakenErr(code)
	}
	emailTaken, codeTaken, err := s.partners.PartnerTaken(ctx, email, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check partner")
	}
	if err := takenErr(email, code, emailTaken, codeTaken); err != nil {
		return nil, err
	}

	password, err := s.passwords()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate password")
	}
	userID, err := s.accounts.CreateAffiliateUser(ctx, email, password, name)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "建立帳號失敗")
	}

	partner := &models.AffiliatePartner{
		PartnerName:    name,
		ContactEmail:   email,
		CouponCode:     code,
		CommissionRate: rate,
		IsActive:       true,
		SupabaseUserID: &userID,
	}
	coupon := &models.Coupon{
		Code:      code,
		PlanID:    partnerPlanID,
		PlanLabel: partnerPlanLabel,
		IsActive:  true,
	}
	if maxUses := s.cfg.PartnerCouponUses; maxUses > 0 {
		coupon.MaxUses = &maxUses
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		// a concurrent create may have landed since the pre-check
		emailTaken, codeTaken, err := s.partners.PartnerTakenWithTx(tx, email, code)
		if err != nil {
			return err
		}
		if err := takenErr(email, code, emailTaken, codeTaken); err != nil {
			return err
		}
		if err := s.partners.CreatePartnerWithTx(tx, partner); err != nil {
			return conflictOr(err, "create partner")
		}
		coupon.PartnerID = &partner.ID
		coupon.PartnerName = &partner.PartnerName
		if err := s.coupons.CreateWithTx(tx, coupon); err != nil {
			return conflictOr(err, "create coupon")
		}
		return nil
	})
	if err != nil {
		s.releaseAccount(ctx, userID, email)
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create partner")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"partner_id":  partner.ID.String(),
		"coupon_code": coupon.Code,
	}), "affiliate.partner_created")
	return &PartnerCreated{
		ID:                partner.ID,
		PartnerName:       partner.PartnerName,
		ContactEmail:      partner.ContactEmail,
		CommissionRate:    partner.CommissionRate,
		CouponCode:        coupon.Code,
		CouponLink:        s.cfg.ReferralLinkBase + coupon.Code,
		SupabaseUserID:    userID,
		TemporaryPassword: password,
		CreatedAt:         partner.CreatedAt,
	}, nil
}

// releaseAccount disables a login whose partner rows never committed. A
// failure here leaves an orphan that ops must remove by hand.
func (s *service) releaseAccount(ctx context.Context, userID uuid.UUID, email string) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"supabase_user_id": userID.String(),
		"contact_email":    email,
	})
	if err := s.accounts.DisableAffiliateUser(ctx, userID); err != nil {
		s.logg.Error(ctx, "affiliate.orphaned_auth_user", err)
		return
	}
	s.logg.Warn(ctx, "affiliate.auth_user_disabled")
}

func codeTakenErr(code string) error {
	return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("折扣碼「%s」已存在，請使用其他代碼", code))
}

func takenErr(email, code string, emailTaken, codeTaken bool) error {
	switch {
	case emailTaken:
		return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("Email「%s」已被使用", email))
	case codeTaken:
		return codeTakenErr(code)
	}
	return nil
}

func conflictOr(err error, msg string) error {
	if db.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "partner email or coupon code already exists")
	}
	return fmt.Errorf("%s: %w", msg, err)
}
