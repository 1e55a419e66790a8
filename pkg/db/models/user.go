package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/snowskill/snowskill-backend/pkg/enums"
)

const PlanFree = "free"

// User is the application profile keyed by the auth provider's user id.
type User struct {
	ID                    uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	Email                 string                  `gorm:"column:email;type:text;not null;uniqueIndex"`
	TrialUsed             bool                    `gorm:"column:trial_used;not null;default:false"`
	SubscriptionType      string                  `gorm:"column:subscription_type;not null;default:'free'"`
	SubscriptionExpiresAt *time.Time              `gorm:"column:subscription_expires_at"`
	TrialSource           *string                 `gorm:"column:trial_source"`
	TrialActivatedAt      *time.Time              `gorm:"column:trial_activated_at"`
	PaymentStatus         enums.UserPaymentStatus `gorm:"column:payment_status;not null;default:'none'"`
	LastPaymentProvider   *string                 `gorm:"column:last_payment_provider"`
	LastPaymentReference  *string                 `gorm:"column:last_payment_reference"`
	IsAdmin               bool                    `gorm:"column:is_admin;not null;default:false"`
	CreatedAt             time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.SubscriptionType == "" {
		u.SubscriptionType = PlanFree
	}
	if u.PaymentStatus == "" {
		u.PaymentStatus = enums.UserPaymentStatusNone
	}
	return nil
}

// HasActivePaidPlan reports a non-free plan whose expiry is unset or after now.
func (u User) HasActivePaidPlan(now time.Time) bool {
	if u.SubscriptionType == "" || u.SubscriptionType == PlanFree {
		return false
	}
	return u.SubscriptionExpiresAt == nil || u.SubscriptionExpiresAt.After(now)
}
