package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/snowskill/snowskill-backend/pkg/db/models"
	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
)

type userReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// View is the caller-facing subscription summary.
type View struct {
	Plan          string     `json:"plan"`
	ExpiresAt     *time.Time `json:"expires_at"`
	DaysRemaining int        `json:"days_remaining"`
	Status        Status     `json:"status"`
	TrialUsed     bool       `json:"trial_used"`
	TrialSource   *string    `json:"trial_source,omitempty"`
	PaymentStatus string     `json:"payment_status"`
	Plans         []Plan     `json:"plans"`
}

type Service interface {
	Status(ctx context.Context, userID uuid.UUID) (*View, error)
}

type service struct {
	users userReader
	now   func() time.Time
}

func NewService(users userReader, now func() time.Time) (Service, error) {
	if users == nil {
		return nil, fmt.Errorf("user repo required")
	}
	if now == nil {
		now = time.Now
	}
	return &service{users: users, now: now}, nil
}

func (s *service) Status(ctx context.Context, userID uuid.UUID) (*View, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	now := s.now().UTC()
	plan := user.SubscriptionType
	status := ResolveStatus(&plan, user.SubscriptionExpiresAt, now)
	return &View{
		Plan:          plan,
		ExpiresAt:     user.SubscriptionExpiresAt,
		DaysRemaining: daysRemaining(user.SubscriptionExpiresAt, now),
		Status:        status,
		TrialUsed:     user.TrialUsed,
		TrialSource:   user.TrialSource,
		PaymentStatus: string(user.PaymentStatus),
		Plans:         Plans(),
	}, nil
}

// daysRemaining rounds partial days up; lapsed or open-ended plans report 0.
func daysRemaining(expiresAt *time.Time, now time.Time) int {
	if expiresAt == nil || !expiresAt.After(now) {
		return 0
	}
	return int(math.Ceil(expiresAt.Sub(now).Hours() / 24))
}
