package cron

import (
	"context"
	"fmt"

	"github.com/snowskill/snowskill-backend/internal/affiliates"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

const (
	JobExpireTrials        = "expire-trials"
	JobQuarterlySettlement = "quarterly-settlement"
)

type trialExpirer interface {
	ExpireTrials(ctx context.Context) (int, error)
}

type quarterSettler interface {
	SettlePreviousQuarter(ctx context.Context) (affiliates.SettlementSummary, error)
}

type expireTrialsJob struct {
	trials trialExpirer
	logg   *logger.Logger
}

// NewExpireTrialsJob downgrades lapsed coupon trials each cycle.
func NewExpireTrialsJob(trials trialExpirer, logg *logger.Logger) (Job, error) {
	if trials == nil {
		return nil, fmt.Errorf("trial service required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &expireTrialsJob{trials: trials, logg: logg}, nil
}

func (j *expireTrialsJob) Name() string { return JobExpireTrials }

func (j *expireTrialsJob) Run(ctx context.Context) error {
	n, err := j.trials.ExpireTrials(ctx)
	if err != nil {
		return err
	}
	j.logg.Info(j.logg.WithField(ctx, "expired", n), "trials swept")
	return nil
}

type settlementJob struct {
	settler quarterSettler
	logg    *logger.Logger
}

// NewSettlementJob settles the previous quarter's pending commissions.
// Re-running it within the same quarter finds nothing left to settle.
func NewSettlementJob(settler quarterSettler, logg *logger.Logger) (Job, error) {
	if settler == nil {
		return nil, fmt.Errorf("affiliate service required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &settlementJob{settler: settler, logg: logg}, nil
}

func (j *settlementJob) Name() string { return JobQuarterlySettlement }

func (j *settlementJob) Run(ctx context.Context) error {
	summary, err := j.settler.SettlePreviousQuarter(ctx)
	if err != nil {
		return err
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"quarter":           summary.Quarter,
		"commissions_count": summary.CommissionsCount,
		"partners_count":    summary.PartnersCount,
	}), "quarter settled")
	return nil
}
