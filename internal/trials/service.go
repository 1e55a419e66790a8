package trials

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/snowskill/snowskill-backend/pkg/db/models"
	"github.com/snowskill/snowskill-backend/pkg/enums"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

type userRepository interface {
	LockExpiredTrialsWithTx(tx *gorm.DB, now time.Time) ([]models.User, error)
	ResetToFreeWithTx(tx *gorm.DB, ids []uuid.UUID) (int64, error)
}

type eventAppender interface {
	AppendWithTx(ctx context.Context, tx *gorm.DB, userID *uuid.UUID, eventType enums.EventType, metadata map[string]any) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service downgrades lapsed coupon trials.
type Service interface {
	ExpireTrials(ctx context.Context) (int, error)
}

type ServiceParams struct {
	Users             userRepository
	Events            eventAppender
	TransactionRunner txRunner
	Logger            *logger.Logger
	Now               func() time.Time
}

type service struct {
	users    userRepository
	events   eventAppender
	txRunner txRunner
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Users == nil {
		return nil, fmt.Errorf("user repo required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("event log required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		users:    params.Users,
		events:   params.Events,
		txRunner: params.TransactionRunner,
		logg:     logg,
		now:      now,
	}, nil
}

// ExpireTrials resets every lapsed trial to the free plan and appends one
// trial_expired event per user. The batch commits or rolls back as a whole.
// trial_used is never cleared.
func (s *service) ExpireTrials(ctx context.Context) (int, error) {
	now := s.now().UTC()
	expired := 0
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.users.LockExpiredTrialsWithTx(tx, now)
		if err != nil {
			return fmt.Errorf("select expired trials: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(rows))
		for _, u := range rows {
			ids = append(ids, u.ID)
		}
		if _, err := s.users.ResetToFreeWithTx(tx, ids); err != nil {
			return fmt.Errorf("reset expired trials: %w", err)
		}

		for i := range rows {
			u := rows[i]
			meta := map[string]any{
				"previous_plan": u.SubscriptionType,
				"trial_source":  u.TrialSource,
			}
			if u.SubscriptionExpiresAt != nil {
				meta["expired_at"] = u.SubscriptionExpiresAt.UTC().Format(time.RFC3339)
			}
			if err := s.events.AppendWithTx(ctx, tx, &u.ID, enums.EventTrialExpired, meta); err != nil {
				return fmt.Errorf("log trial expiry: %w", err)
			}
		}
		expired = len(rows)
		return nil
	})
	if err != nil {
		s.logg.Error(ctx, "trials.expire_failed", err)
		return 0, err
	}
	s.logg.Info(s.logg.WithField(ctx, "expired", expired), "trials.expired")
	return expired, nil
}
