package coupons

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/snowskill/snowskill-backend/internal/repo"
	"github.com/snowskill/snowskill-backend/pkg/db/models"
)

// Repository persists coupons and the redemption ledger.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// FindByCode returns the coupon for an already normalized code, or nil.
func (r *Repository) FindByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.DB(ctx).Where("code = ?", code).First(&coupon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// HasUsage reports whether the user already redeemed the coupon.
func (r *Repository) HasUsage(ctx context.Context, couponID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&models.CouponUsage{}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		Count(&count).Error
	return count > 0, err
}

// ClaimWithTx increments used_count only while the coupon is active, inside
// its window and below max_uses. It reports whether a slot was claimed.
func (r *Repository) ClaimWithTx(tx *gorm.DB, couponID uuid.UUID, now time.Time) (bool, error) {
	res := tx.Model(&models.Coupon{}).
		Where("id = ?", couponID).
		Where("is_active = ?", true).
		Where("(max_uses IS NULL OR used_count < max_uses)").
		Where("(valid_from IS NULL OR valid_from <= ?)", now).
		Where("(valid_until IS NULL OR valid_until >= ?)", now).
		Updates(map[string]any{
			"used_count": gorm.Expr("used_count + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// InsertUsageWithTx appends a ledger row. The (coupon_id, user_id) unique
// constraint rejects a second redemption.
func (r *Repository) InsertUsageWithTx(tx *gorm.DB, usage *models.CouponUsage) error {
	return tx.Create(usage).Error
}

// CountUsagesByIPSince counts redemptions from ip at or after since.
func (r *Repository) CountUsagesByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&models.CouponUsage{}).
		Where("ip_address = ?", ip).
		Where("redeemed_at >= ?", since).
		Count(&count).Error
	return count, err
}

// CreateWithTx inserts a coupon, upper-casing its code.
func (r *Repository) CreateWithTx(tx *gorm.DB, coupon *models.Coupon) error {
	coupon.Code = Normalize(coupon.Code)
	return tx.Create(coupon).Error
}

// ListByPartner returns every coupon attributed to a partner.
func (r *Repository) ListByPartner(ctx context.Context, partnerID uuid.UUID) ([]models.Coupon, error) {
	var rows []models.Coupon
	err := r.DB(ctx).Where("partner_id = ?", partnerID).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// FindPartnerCouponForUserWithTx returns the partner coupon the user
// redeemed most recently, or nil when none is attributed.
func (r *Repository) FindPartnerCouponForUserWithTx(tx *gorm.DB, userID uuid.UUID) (*models.Coupon, error) {
	var coupon models.Coupon
	err := tx.Model(&models.Coupon{}).
		Joins("JOIN coupon_usages ON coupon_usages.coupon_id = coupons.id").
		Where("coupon_usages.user_id = ?", userID).
		Where("coupons.partner_id IS NOT NULL").
		Order("coupon_usages.redeemed_at DESC").
		First(&coupon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// CountUsagesByCoupons counts redemptions per coupon id.
func (r *Repository) CountUsagesByCoupons(ctx context.Context, couponIDs []uuid.UUID) (int64, error) {
	if len(couponIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := r.DB(ctx).Model(&models.CouponUsage{}).
		Where("coupon_id IN ?", couponIDs).
		Count(&count).Error
	return count, err
}

// UsageTimesSince returns redemption timestamps for the coupons at or after since.
func (r *Repository) UsageTimesSince(ctx context.Context, couponIDs []uuid.UUID, since time.Time) ([]time.Time, error) {
	if len(couponIDs) == 0 {
		return nil, nil
	}
	var out []time.Time
	err := r.DB(ctx).Model(&models.CouponUsage{}).
		Where("coupon_id IN ?", couponIDs).
		Where("redeemed_at >= ?", since).
		Order("redeemed_at ASC").
		Pluck("redeemed_at", &out).Error
	return out, err
}
