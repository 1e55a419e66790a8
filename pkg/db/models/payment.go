package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/snowskill/snowskill-backend/pkg/enums"
)

// Payment records a plan purchase or a zero-amount trial activation.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	UserID            uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID            string              `gorm:"column:plan_id;not null"`
	Amount            decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency          string              `gorm:"column:currency;not null;default:'TWD'"`
	Provider          string              `gorm:"column:provider;not null"`
	Status            enums.PaymentStatus `gorm:"column:status;not null;default:'pending'"`
	ProviderPaymentID *string             `gorm:"column:provider_payment_id"`
	Metadata          datatypes.JSONMap   `gorm:"column:metadata"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
