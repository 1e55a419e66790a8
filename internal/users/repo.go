package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/snowskill/snowskill-backend/internal/repo"
	"github.com/snowskill/snowskill-backend/pkg/db/models"
	"github.com/snowskill/snowskill-backend/pkg/enums"
)

// Repository exposes user-related persistence operations.
type Repository struct {
	repo.Base
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// TrialActivation is the user-side effect of a coupon redemption.
type TrialActivation struct {
	PlanID    string
	ExpiresAt time.Time
	Source    string
	Reference string
	At        time.Time
}

// PlanGrant is the user-side effect of a paid activation.
type PlanGrant struct {
	PlanID    string
	ExpiresAt time.Time
	Provider  string
	Reference string
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.FindByIDWithTx(r.DB(ctx), id)
}

// FindByIDWithTx loads a user inside an existing transaction.
func (r *Repository) FindByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := tx.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// LockByIDWithTx loads a user with a row lock held until the transaction ends.
func (r *Repository) LockByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// EnsureProfile returns the application profile for an auth user, creating
// it on first sight.
func (r *Repository) EnsureProfile(ctx context.Context, id uuid.UUID, email string) (*models.User, error) {
	user, err := r.FindByID(ctx, id)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = &models.User{ID: id, Email: strings.ToLower(strings.TrimSpace(email))}
	if err := r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(user).Error; err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

// ActivateTrialWithTx flips trial_used and grants the trial plan.
func (r *Repository) ActivateTrialWithTx(tx *gorm.DB, id uuid.UUID, in TrialActivation) error {
	return tx.Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"subscription_type":       in.PlanID,
			"subscription_expires_at": in.ExpiresAt,
			"trial_used":              true,
			"trial_source":            in.Source,
			"trial_activated_at":      in.At,
			"payment_status":          enums.UserPaymentStatusActive,
			"last_payment_provider":   string(enums.PaymentProviderTrialCoupon),
			"last_payment_reference":  in.Reference,
		}).Error
}

// GrantPlanWithTx applies a paid plan to the user.
func (r *Repository) GrantPlanWithTx(tx *gorm.DB, id uuid.UUID, in PlanGrant) error {
	return tx.Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"subscription_type":       in.PlanID,
			"subscription_expires_at": in.ExpiresAt,
			"payment_status":          enums.UserPaymentStatusActive,
			"last_payment_provider":   in.Provider,
			"last_payment_reference":  in.Reference,
		}).Error
}

// ResetToFreeWithTx clears the plan fields for the given users. trial_used is
// left untouched.
func (r *Repository) ResetToFreeWithTx(tx *gorm.DB, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := tx.Model(&models.User{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"subscription_type":       models.PlanFree,
			"subscription_expires_at": nil,
			"payment_status":          enums.UserPaymentStatusNone,
			"last_payment_provider":   nil,
			"last_payment_reference":  nil,
		})
	return res.RowsAffected, res.Error
}

// LockExpiredTrialsWithTx selects trial users whose entitlement lapsed before
// now and whose plan still comes from a coupon.
func (r *Repository) LockExpiredTrialsWithTx(tx *gorm.DB, now time.Time) ([]models.User, error) {
	var rows []models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("trial_used = ?", true).
		Where("subscription_type <> ?", models.PlanFree).
		Where("subscription_expires_at < ?", now).
		Where("(last_payment_provider IS NULL OR last_payment_provider = ?)", string(enums.PaymentProviderTrialCoupon)).
		Order("subscription_expires_at ASC").
		Find(&rows).Error
	return rows, err
}

// CountTrialUsersByEmailPattern counts trial_used users whose email matches a
// LIKE pattern.
func (r *Repository) CountTrialUsersByEmailPattern(ctx context.Context, pattern string) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&models.User{}).
		Where("trial_used = ?", true).
		Where("LOWER(email) LIKE ?", strings.ToLower(pattern)).
		Count(&count).Error
	return count, err
}
