package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/snowskill/snowskill-backend/pkg/enums"
)

// AffiliatePartner is an external referrer attributed through a coupon code.
type AffiliatePartner struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	PartnerName    string          `gorm:"column:partner_name;not null"`
	ContactEmail   string          `gorm:"column:contact_email;not null;uniqueIndex"`
	CouponCode     string          `gorm:"column:coupon_code;not null;uniqueIndex"`
	CommissionRate decimal.Decimal `gorm:"column:commission_rate;type:numeric(5,4);not null"`
	IsActive       bool            `gorm:"column:is_active;not null;default:true"`
	SupabaseUserID *uuid.UUID      `gorm:"column:supabase_user_id;type:uuid;uniqueIndex"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *AffiliatePartner) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// AffiliateCommission is owed to a partner for one converted payment.
type AffiliateCommission struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	PartnerID         uuid.UUID              `gorm:"column:partner_id;type:uuid;not null;index"`
	UserID            uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	PaymentID         uuid.UUID              `gorm:"column:payment_id;type:uuid;not null;uniqueIndex"`
	CouponCode        string                 `gorm:"column:coupon_code;not null"`
	PaidAmount        decimal.Decimal        `gorm:"column:paid_amount;type:numeric(12,2);not null"`
	CommissionAmount  decimal.Decimal        `gorm:"column:commission_amount;type:numeric(12,2);not null"`
	CommissionRate    decimal.Decimal        `gorm:"column:commission_rate;type:numeric(5,4);not null"`
	SettlementQuarter string                 `gorm:"column:settlement_quarter;not null;index"`
	Status            enums.CommissionStatus `gorm:"column:status;not null;default:'pending'"`
	SettledAt         *time.Time             `gorm:"column:settled_at"`
	PaidAt            *time.Time             `gorm:"column:paid_at"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *AffiliateCommission) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
