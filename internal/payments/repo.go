package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/snowskill/snowskill-backend/internal/repo"
	"github.com/snowskill/snowskill-backend/pkg/db/models"
)

// Repository persists payment rows.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// CreateWithTx inserts a payment inside tx.
func (r *Repository) CreateWithTx(tx *gorm.DB, payment *models.Payment) error {
	return tx.Create(payment).Error
}

// FindByID loads a payment by id.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.DB(ctx).First(&payment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindForUser loads a payment owned by userID, or nil when there is none.
func (r *Repository) FindForUser(ctx context.Context, id, userID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.DB(ctx).Where("id = ? AND user_id = ?", id, userID).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// LockByIDWithTx loads a payment with a row lock.
func (r *Repository) LockByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&payment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// LockByProviderIDWithTx loads a payment by the provider's reference with a row lock.
func (r *Repository) LockByProviderIDWithTx(tx *gorm.DB, providerPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider_payment_id = ?", providerPaymentID).
		Order("created_at DESC").
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdateWithTx writes the mutable columns of a payment.
func (r *Repository) UpdateWithTx(tx *gorm.DB, payment *models.Payment) error {
	return tx.Model(&models.Payment{}).
		Where("id = ?", payment.ID).
		Updates(map[string]any{
			"status":              payment.Status,
			"provider_payment_id": payment.ProviderPaymentID,
			"metadata":            payment.Metadata,
		}).Error
}

// Update writes the mutable columns outside a transaction.
func (r *Repository) Update(ctx context.Context, payment *models.Payment) error {
	return r.UpdateWithTx(r.DB(ctx), payment)
}
