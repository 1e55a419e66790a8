package affiliates

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/snowskill/snowskill-backend/internal/repo"
	"github.com/snowskill/snowskill-backend/pkg/db/models"
	"github.com/snowskill/snowskill-backend/pkg/enums"
)

// Repository persists partners and their commissions.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// CommissionFilter narrows admin listings. Empty fields are ignored.
type CommissionFilter struct {
	Quarter     string
	Status      enums.CommissionStatus
	PartnerID   *uuid.UUID
	PartnerName string
	Limit       int
}

// CommissionRow is a commission joined with its partner and user.
type CommissionRow struct {
	ID                uuid.UUID              `json:"id"`
	PartnerID         uuid.UUID              `json:"partner_id"`
	PartnerName       string                 `json:"partner_name"`
	CouponCode        string                 `json:"coupon_code"`
	UserEmail         *string                `json:"user_email"`
	PaidAmount        decimal.Decimal        `json:"paid_amount"`
	CommissionAmount  decimal.Decimal        `json:"commission_amount"`
	SettlementQuarter string                 `json:"settlement_quarter"`
	Status            enums.CommissionStatus `json:"status"`
	CreatedAt         time.Time              `json:"created_at"`
	SettledAt         *time.Time             `json:"settled_at"`
	PaidAt            *time.Time             `json:"paid_at"`
}

func (r *Repository) FindPartnerByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.AffiliatePartner, error) {
	var partner models.AffiliatePartner
	err := tx.Where("id = ?", id).First(&partner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &partner, nil
}

// FindPartnerBySupabaseUser resolves the partner owning an auth account, or nil.
func (r *Repository) FindPartnerBySupabaseUser(ctx context.Context, userID uuid.UUID) (*models.AffiliatePartner, error) {
	var partner models.AffiliatePartner
	err := r.DB(ctx).Where("supabase_user_id = ?", userID).First(&partner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &partner, nil
}

// ListPartners returns every partner, newest first.
func (r *Repository) ListPartners(ctx context.Context) ([]models.AffiliatePartner, error) {
	var partners []models.AffiliatePartner
	err := r.DB(ctx).Order("created_at DESC").Find(&partners).Error
	return partners, err
}

// PartnerTaken is PartnerTakenWithTx outside a transaction.
func (r *Repository) PartnerTaken(ctx context.Context, email, code string) (emailTaken, codeTaken bool, err error) {
	return r.PartnerTakenWithTx(r.DB(ctx), email, code)
}

// PartnerTakenWithTx reports which of email and code already belong to a partner.
func (r *Repository) PartnerTakenWithTx(tx *gorm.DB, email, code string) (emailTaken, codeTaken bool, err error) {
	var rows []models.AffiliatePartner
	err = tx.Select("contact_email", "coupon_code").
		Where("LOWER(contact_email) = ? OR coupon_code = ?", strings.ToLower(email), code).
		Find(&rows).Error
	if err != nil {
		return false, false, err
	}
	for _, row := range rows {
		if strings.EqualFold(row.ContactEmail, email) {
			emailTaken = true
		}
		if row.CouponCode == code {
			codeTaken = true
		}
	}
	return emailTaken, codeTaken, nil
}

func (r *Repository) CreatePartnerWithTx(tx *gorm.DB, partner *models.AffiliatePartner) error {
	return tx.Create(partner).Error
}

// InsertCommissionWithTx records a commission once per payment. It reports
// false when the payment already has one.
func (r *Repository) InsertCommissionWithTx(tx *gorm.DB, commission *models.AffiliateCommission) (bool, error) {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		DoNothing: true,
	}).Create(commission)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// LockPendingForQuarterWithTx selects the quarter's pending commissions FOR UPDATE.
func (r *Repository) LockPendingForQuarterWithTx(tx *gorm.DB, quarter string) ([]models.AffiliateCommission, error) {
	var rows []models.AffiliateCommission
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("settlement_quarter = ?", quarter).
		Where("status = ?", enums.CommissionStatusPending).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// SettleWithTx advances pending rows to settled.
func (r *Repository) SettleWithTx(tx *gorm.DB, ids []uuid.UUID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := tx.Model(&models.AffiliateCommission{}).
		Where("id IN ?", ids).
		Where("status = ?", enums.CommissionStatusPending).
		Updates(map[string]any{
			"status":     enums.CommissionStatusSettled,
			"settled_at": now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// MarkPaid advances only settled rows to paid; other ids are left untouched.
func (r *Repository) MarkPaid(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.DB(ctx).Model(&models.AffiliateCommission{}).
		Where("id IN ?", ids).
		Where("status = ?", enums.CommissionStatusSettled).
		Updates(map[string]any{
			"status":     enums.CommissionStatusPaid,
			"paid_at":    now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// ListCommissions returns newest first with partner name and user email.
func (r *Repository) ListCommissions(ctx context.Context, filter CommissionFilter) ([]CommissionRow, error) {
	q := r.DB(ctx).Table("affiliate_commissions AS c").
		Select(`c.id, c.partner_id, p.partner_name, c.coupon_code, u.email AS user_email,
			c.paid_amount, c.commission_amount, c.settlement_quarter, c.status,
			c.created_at, c.settled_at, c.paid_at`).
		Joins("JOIN affiliate_partners p ON p.id = c.partner_id").
		Joins("LEFT JOIN users u ON u.id = c.user_id")

	if filter.Quarter != "" {
		q = q.Where("c.settlement_quarter = ?", filter.Quarter)
	}
	if filter.Status != "" {
		q = q.Where("c.status = ?", filter.Status)
	}
	if filter.PartnerID != nil {
		q = q.Where("c.partner_id = ?", *filter.PartnerID)
	}
	if name := strings.TrimSpace(filter.PartnerName); name != "" {
		q = q.Where("LOWER(p.partner_name) LIKE ?", "%"+strings.ToLower(name)+"%")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []CommissionRow
	err := q.Order("c.created_at DESC").Scan(&rows).Error
	return rows, err
}

// ListByPartner returns every commission of a partner, newest quarter first.
func (r *Repository) ListByPartner(ctx context.Context, partnerID uuid.UUID) ([]models.AffiliateCommission, error) {
	var rows []models.AffiliateCommission
	err := r.DB(ctx).
		Where("partner_id = ?", partnerID).
		Order("settlement_quarter DESC, created_at DESC").
		Find(&rows).Error
	return rows, err
}
