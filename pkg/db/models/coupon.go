package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Coupon grants a plan for a limited period. Codes are stored upper-case.
type Coupon struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Code        string     `gorm:"column:code;not null;uniqueIndex"`
	PlanID      string     `gorm:"column:plan_id;not null"`
	PlanLabel   string     `gorm:"column:plan_label;not null"`
	MaxUses     *int       `gorm:"column:max_uses"`
	UsedCount   int        `gorm:"column:used_count;not null;default:0;check:chk_coupons_used_count,max_uses IS NULL OR used_count <= max_uses"`
	ValidFrom   *time.Time `gorm:"column:valid_from"`
	ValidUntil  *time.Time `gorm:"column:valid_until"`
	IsActive    bool       `gorm:"column:is_active;not null;default:true"`
	PartnerID   *uuid.UUID `gorm:"column:partner_id;type:uuid;index"`
	PartnerName *string    `gorm:"column:partner_name"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Coupon) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Exhausted reports whether the usage cap has been reached.
func (c Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.UsedCount >= *c.MaxUses
}

// CouponUsage is the append-only redemption ledger.
type CouponUsage struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CouponID   uuid.UUID `gorm:"column:coupon_id;type:uuid;not null;uniqueIndex:uq_coupon_usages_coupon_user"`
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:uq_coupon_usages_coupon_user;index"`
	RedeemedAt time.Time `gorm:"column:redeemed_at;not null"`
	IPAddress  *string   `gorm:"column:ip_address;index"`
	UserAgent  *string   `gorm:"column:user_agent"`
}

func (CouponUsage) TableName() string { return "coupon_usages" }

func (u *CouponUsage) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.RedeemedAt.IsZero() {
		u.RedeemedAt = time.Now().UTC()
	}
	return nil
}
