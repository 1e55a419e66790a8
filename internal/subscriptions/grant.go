package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/snowskill/snowskill-backend/internal/users"
	"github.com/snowskill/snowskill-backend/pkg/db/models"
	"github.com/snowskill/snowskill-backend/pkg/enums"
	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

type grantStore interface {
	LockByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.User, error)
	GrantPlanWithTx(tx *gorm.DB, id uuid.UUID, in users.PlanGrant) error
}

type grantLog interface {
	AppendWithTx(ctx context.Context, tx *gorm.DB, userID *uuid.UUID, eventType enums.EventType, metadata map[string]any) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Granter hands out a plan without a payment, for support and comps.
type Granter interface {
	Grant(ctx context.Context, input GrantInput) (*GrantResult, error)
}

type GranterParams struct {
	Users             grantStore
	Events            grantLog
	TransactionRunner txRunner
	Logger            *logger.Logger
	Now               func() time.Time
}

type GrantInput struct {
	UserID    uuid.UUID
	PlanID    string
	GrantedBy uuid.UUID
}

type GrantResult struct {
	UserID    uuid.UUID `json:"user_id"`
	Plan      string    `json:"plan"`
	ExpiresAt time.Time `json:"expires_at"`
}

type granter struct {
	users    grantStore
	events   grantLog
	txRunner txRunner
	logg     *logger.Logger
	now      func() time.Time
}

func NewGranter(params GranterParams) (Granter, error) {
	switch {
	case params.Users == nil:
		return nil, fmt.Errorf("user repo required")
	case params.Events == nil:
		return nil, fmt.Errorf("event log required")
	case params.TransactionRunner == nil:
		return nil, fmt.Errorf("transaction runner required")
	}
	g := &granter{
		users:    params.Users,
		events:   params.Events,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
		now:      params.Now,
	}
	if g.logg == nil {
		g.logg = logger.Nop()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Grant replaces the user's plan with planID running for the plan's length
// from now. The grant is tagged with the admin provider so the trial sweeper
// leaves it alone.
func (g *granter) Grant(ctx context.Context, input GrantInput) (*GrantResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Missing userId or planId")
	}
	plan, ok := LookupPlan(strings.TrimSpace(input.PlanID))
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Invalid planId")
	}
	expiresAt := g.now().UTC().AddDate(0, 0, plan.Days)

	err := g.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := g.users.LockByIDWithTx(tx, input.UserID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return err
		}
		if err := g.users.GrantPlanWithTx(tx, input.UserID, users.PlanGrant{
			PlanID:    plan.ID,
			ExpiresAt: expiresAt,
			Provider:  string(enums.PaymentProviderAdmin),
			Reference: input.GrantedBy.String(),
		}); err != nil {
			return err
		}
		return g.events.AppendWithTx(ctx, tx, &input.UserID, enums.EventPlanGranted, map[string]any{
			"plan_id":    plan.ID,
			"expires_at": expiresAt,
			"granted_by": input.GrantedBy.String(),
		})
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "grant plan")
	}

	g.logg.Info(g.logg.WithFields(ctx, map[string]any{
		"user_id":    input.UserID.String(),
		"plan_id":    plan.ID,
		"granted_by": input.GrantedBy.String(),
	}), "subscription.plan_granted")
	return &GrantResult{UserID: input.UserID, Plan: plan.ID, ExpiresAt: expiresAt}, nil
}
