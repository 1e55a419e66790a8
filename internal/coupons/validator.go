package coupons

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/snowskill/snowskill-backend/pkg/db/models"
)

type couponReader interface {
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
	HasUsage(ctx context.Context, couponID, userID uuid.UUID) (bool, error)
}

type userReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Validator runs the read-only coupon checks.
type Validator struct {
	coupons couponReader
	users   userReader
	now     func() time.Time
}

func NewValidator(coupons couponReader, users userReader, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{coupons: coupons, users: users, now: now}
}

// Validate checks the code and, when userID is set, the user's eligibility.
// Only storage failures are returned as errors.
func (v *Validator) Validate(ctx context.Context, code string, userID *uuid.UUID) (Result, error) {
	normalized := Normalize(code)
	if !codePattern.MatchString(normalized) {
		return reject(ReasonInvalidFormat), nil
	}

	coupon, err := v.coupons.FindByCode(ctx, normalized)
	if err != nil {
		return reject(ReasonServerError), err
	}
	if coupon == nil || !coupon.IsActive {
		return reject(ReasonInvalidCode), nil
	}

	now := v.now().UTC()
	if reason, ok := checkWindow(coupon, now); !ok {
		return reject(reason), nil
	}

	if userID == nil || *userID == uuid.Nil {
		return accept(coupon), nil
	}

	used, err := v.coupons.HasUsage(ctx, coupon.ID, *userID)
	if err != nil {
		return reject(ReasonServerError), err
	}
	if used {
		return reject(ReasonAlreadyUsed), nil
	}

	user, err := v.users.FindByID(ctx, *userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return reject(ReasonServerError), err
	}
	if user != nil {
		if reason, ok := checkEligibility(user, now); !ok {
			return reject(reason), nil
		}
	}

	return accept(coupon), nil
}

func checkWindow(c *models.Coupon, now time.Time) (Reason, bool) {
	if c.ValidFrom != nil && c.ValidFrom.After(now) {
		return ReasonNotStarted, false
	}
	if c.ValidUntil != nil && c.ValidUntil.Before(now) {
		return ReasonExpired, false
	}
	if c.Exhausted() {
		return ReasonMaxUsesReached, false
	}
	return "", true
}

func checkEligibility(u *models.User, now time.Time) (Reason, bool) {
	if u.TrialUsed {
		return ReasonTrialUsedBefore, false
	}
	if u.HasActivePaidPlan(now) {
		return ReasonAlreadySubscribed, false
	}
	return "", true
}
