package abuse

import (
	"context"
	"strings"
	"time"

	"github.com/snowskill/snowskill-backend/pkg/enums"
)

// UsageCounter counts coupon redemptions per client IP.
type UsageCounter interface {
	CountUsagesByIPSince(ctx context.Context, ip string, since time.Time) (int64, error)
}

// TrialUserCounter counts trial_used accounts matching an email LIKE pattern.
type TrialUserCounter interface {
	CountTrialUsersByEmailPattern(ctx context.Context, pattern string) (int64, error)
}

// EventCounter counts event_log rows per client IP.
type EventCounter interface {
	CountByIPSince(ctx context.Context, eventType enums.EventType, ip string, since time.Time) (int64, error)
}

type EmailDomainRule struct {
	Blocked []string
}

func (EmailDomainRule) Name() string { return RuleEmailDomain }

func (r EmailDomainRule) Check(_ context.Context, s Subject, _ time.Time) (Decision, error) {
	domain := EmailDomain(s.Email)
	if domain == "" {
		return Allow(), nil
	}
	for _, blocked := range r.Blocked {
		if strings.EqualFold(strings.TrimSpace(blocked), domain) {
			return deny(RuleEmailDomain, ReasonEmailDomainBlocked), nil
		}
	}
	return Allow(), nil
}

type IPRedemptionRule struct {
	Counter UsageCounter
	Window  time.Duration
	Limit   int
}

func (IPRedemptionRule) Name() string { return RuleIPRedemptions }

func (r IPRedemptionRule) Check(ctx context.Context, s Subject, now time.Time) (Decision, error) {
	if s.IP == "" || r.Limit <= 0 || r.Window <= 0 {
		return Allow(), nil
	}
	count, err := r.Counter.CountUsagesByIPSince(ctx, s.IP, now.Add(-r.Window))
	if err != nil {
		return Decision{}, err
	}
	if count >= int64(r.Limit) {
		d := deny(RuleIPRedemptions, ReasonIPRateLimited)
		d.RetryAfter = r.Window
		return d, nil
	}
	return Allow(), nil
}

type EmailAliasRule struct {
	Counter TrialUserCounter
	Limit   int
}

func (EmailAliasRule) Name() string { return RuleEmailAlias }

func (r EmailAliasRule) Check(ctx context.Context, s Subject, _ time.Time) (Decision, error) {
	pattern := AliasPattern(s.Email)
	if pattern == "" || r.Limit <= 0 {
		return Allow(), nil
	}
	count, err := r.Counter.CountTrialUsersByEmailPattern(ctx, pattern)
	if err != nil {
		return Decision{}, err
	}
	if count >= int64(r.Limit) {
		return deny(RuleEmailAlias, ReasonEmailAliasLimit), nil
	}
	return Allow(), nil
}

type IPTrialActivationRule struct {
	Counter EventCounter
	Window  time.Duration
	Limit   int
}

func (IPTrialActivationRule) Name() string { return RuleIPTrialActivations }

func (r IPTrialActivationRule) Check(ctx context.Context, s Subject, now time.Time) (Decision, error) {
	if s.IP == "" || r.Limit <= 0 || r.Window <= 0 {
		return Allow(), nil
	}
	count, err := r.Counter.CountByIPSince(ctx, enums.EventTrialActivated, s.IP, now.Add(-r.Window))
	if err != nil {
		return Decision{}, err
	}
	if count >= int64(r.Limit) {
		d := deny(RuleIPTrialActivations, ReasonIPTrialLimit)
		d.RetryAfter = r.Window
		return d, nil
	}
	return Allow(), nil
}

type AccountAgeRule struct {
	MinAge time.Duration
}

func (AccountAgeRule) Name() string { return RuleAccountAge }

func (r AccountAgeRule) Check(_ context.Context, s Subject, now time.Time) (Decision, error) {
	if r.MinAge <= 0 || s.AccountCreatedAt.IsZero() {
		return Allow(), nil
	}
	if age := now.Sub(s.AccountCreatedAt); age < r.MinAge {
		d := deny(RuleAccountAge, ReasonAccountTooNew)
		d.RetryAfter = r.MinAge - age
		return d, nil
	}
	return Allow(), nil
}
