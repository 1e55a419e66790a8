package abuse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snowskill/snowskill-backend/pkg/config"
)

// Rule names.
const (
	RuleEmailDomain        = "email_domain"
	RuleIPRedemptions      = "ip_redemptions"
	RuleEmailAlias         = "email_alias"
	RuleIPTrialActivations = "ip_trial_activations"
	RuleAccountAge         = "account_age"
)

// Denial reasons.
const (
	ReasonEmailDomainBlocked = "email_domain_blocked"
	ReasonIPRateLimited      = "ip_rate_limited"
	ReasonEmailAliasLimit    = "email_alias_limit"
	ReasonIPTrialLimit       = "ip_trial_limit"
	ReasonAccountTooNew      = "account_too_new"
)

// Subject is who is trying to redeem.
type Subject struct {
	UserID           uuid.UUID
	Email            string
	IP               string
	AccountCreatedAt time.Time
}

// Decision is the outcome of a policy evaluation. Rule and Reason are set on deny.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Rule       string        `json:"rule,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"-"`
}

// Allow is the zero-reason permit.
func Allow() Decision {
	return Decision{Allowed: true}
}

func deny(rule, reason string) Decision {
	return Decision{Rule: rule, Reason: reason}
}

// Policy decides whether a subject may activate a trial.
type Policy interface {
	Evaluate(ctx context.Context, subject Subject) (Decision, error)
}

// Rule is one heuristic inside a Chain.
type Rule interface {
	Name() string
	Check(ctx context.Context, subject Subject, now time.Time) (Decision, error)
}

// Chain evaluates rules in order; the first deny wins.
type Chain struct {
	rules []Rule
	now   func() time.Time
}

// NewChain builds a policy from explicit rules.
func NewChain(now func() time.Time, rules ...Rule) *Chain {
	if now == nil {
		now = time.Now
	}
	return &Chain{rules: rules, now: now}
}

func (c *Chain) Evaluate(ctx context.Context, subject Subject) (Decision, error) {
	now := c.now().UTC()
	for _, rule := range c.rules {
		decision, err := rule.Check(ctx, subject, now)
		if err != nil {
			return Decision{}, fmt.Errorf("abuse rule %s: %w", rule.Name(), err)
		}
		if !decision.Allowed {
			decision.Rule = rule.Name()
			return decision, nil
		}
	}
	return Allow(), nil
}

// Rules lists the configured rule names in evaluation order.
func (c *Chain) Rules() []string {
	names := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		names = append(names, r.Name())
	}
	return names
}

// PolicyParams wires the default rule set.
type PolicyParams struct {
	Coupons config.CouponsConfig
	Abuse   config.AbuseConfig
	Usages  UsageCounter
	Users   TrialUserCounter
	Events  EventCounter
	Now     func() time.Time
}

// NewPolicy builds the production chain. Thresholds come only from config.
func NewPolicy(params PolicyParams) (*Chain, error) {
	if params.Usages == nil {
		return nil, fmt.Errorf("usage counter required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("trial user counter required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("event counter required")
	}

	rules := []Rule{
		EmailDomainRule{Blocked: params.Coupons.BlockedDomains},
		IPRedemptionRule{Counter: params.Usages, Window: params.Coupons.IPWindow, Limit: params.Coupons.IPLimit},
		EmailAliasRule{Counter: params.Users, Limit: params.Abuse.EmailAliasLimit},
		IPTrialActivationRule{Counter: params.Events, Window: params.Abuse.IPActivationWindow, Limit: params.Abuse.IPActivationLimit},
	}
	if !params.Abuse.SkipAccountAgeCheck {
		rules = append(rules, AccountAgeRule{MinAge: params.Abuse.MinAccountAge})
	}
	return NewChain(params.Now, rules...), nil
}

// EmailDomain returns the lower-cased part after the last '@'.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

// AliasPattern turns base+tag@domain into the LIKE pattern base%@domain.
func AliasPattern(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return ""
	}
	local, domain := email[:at], email[at+1:]
	if plus := strings.Index(local, "+"); plus >= 0 {
		local = local[:plus]
	}
	if local == "" || domain == "" {
		return ""
	}
	return local + "%@" + domain
}
