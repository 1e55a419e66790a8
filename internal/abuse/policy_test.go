package abuse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/snowskill/snowskill-backend/pkg/config"
	"github.com/snowskill/snowskill-backend/pkg/enums"
)

type stubUsages struct {
	count int64
	err   error
	since time.Time
}

func (s *stubUsages) CountUsagesByIPSince(_ context.Context, _ string, since time.Time) (int64, error) {
	s.since = since
	return s.count, s.err
}

type stubUsers struct {
	count   int64
	pattern string
}

func (s *stubUsers) CountTrialUsersByEmailPattern(_ context.Context, pattern string) (int64, error) {
	s.pattern = pattern
	return s.count, nil
}

type stubEvents struct {
	count int64
	typ   enums.EventType
}

func (s *stubEvents) CountByIPSince(_ context.Context, eventType enums.EventType, _ string, _ time.Time) (int64, error) {
	s.typ = eventType
	return s.count, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPolicy(t *testing.T, usages *stubUsages, users *stubUsers, events *stubEvents) *Chain {
	t.Helper()
	policy, err := NewPolicy(PolicyParams{
		Coupons: config.CouponsConfig{
			IPWindow:       24 * time.Hour,
			IPLimit:        3,
			BlockedDomains: []string{"mailinator.com", "TempMail.io"},
		},
		Abuse: config.AbuseConfig{
			EmailAliasLimit:    3,
			IPActivationWindow: 7 * 24 * time.Hour,
			IPActivationLimit:  5,
			MinAccountAge:      5 * time.Minute,
		},
		Usages: usages,
		Users:  users,
		Events: events,
		Now:    func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	return policy
}

func oldSubject() Subject {
	return Subject{Email: "rider@example.com", IP: "1.2.3.4", AccountCreatedAt: fixedNow.Add(-time.Hour)}
}

func TestPolicyAllowsCleanSubject(t *testing.T) {
	policy := newTestPolicy(t, &stubUsages{}, &stubUsers{}, &stubEvents{})
	d, err := policy.Evaluate(context.Background(), oldSubject())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
}

func TestPolicyDenials(t *testing.T) {
	cases := []struct {
		name    string
		usages  *stubUsages
		users   *stubUsers
		events  *stubEvents
		subject Subject
		rule    string
		reason  string
	}{
		{
			name:    "blocked domain is case insensitive",
			subject: Subject{Email: "a@tempmail.IO", AccountCreatedAt: fixedNow.Add(-time.Hour)},
			rule:    RuleEmailDomain,
			reason:  ReasonEmailDomainBlocked,
		},
		{
			name:   "ip redemptions at limit",
			usages: &stubUsages{count: 3},
			rule:   RuleIPRedemptions,
			reason: ReasonIPRateLimited,
		},
		{
			name:   "email alias at limit",
			users:  &stubUsers{count: 3},
			rule:   RuleEmailAlias,
			reason: ReasonEmailAliasLimit,
		},
		{
			name:   "ip trial activations at limit",
			events: &stubEvents{count: 5},
			rule:   RuleIPTrialActivations,
			reason: ReasonIPTrialLimit,
		},
		{
			name:    "account too new",
			subject: Subject{Email: "new@example.com", AccountCreatedAt: fixedNow.Add(-time.Minute)},
			rule:    RuleAccountAge,
			reason:  ReasonAccountTooNew,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.usages == nil {
				tc.usages = &stubUsages{}
			}
			if tc.users == nil {
				tc.users = &stubUsers{}
			}
			if tc.events == nil {
				tc.events = &stubEvents{}
			}
			if tc.subject.Email == "" {
				tc.subject = oldSubject()
			}
			d, err := newTestPolicy(t, tc.usages, tc.users, tc.events).Evaluate(context.Background(), tc.subject)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Allowed || d.Rule != tc.rule || d.Reason != tc.reason {
				t.Fatalf("expected deny %s/%s, got %+v", tc.rule, tc.reason, d)
			}
		})
	}
}

func TestPolicyBelowThresholdsAllows(t *testing.T) {
	policy := newTestPolicy(t, &stubUsages{count: 2}, &stubUsers{count: 2}, &stubEvents{count: 4})
	d, err := policy.Evaluate(context.Background(), oldSubject())
	if err != nil || !d.Allowed {
		t.Fatalf("expected allow below thresholds, got %+v err=%v", d, err)
	}
}

func TestPolicyUsesConfiguredWindow(t *testing.T) {
	usages := &stubUsages{}
	policy := newTestPolicy(t, usages, &stubUsers{}, &stubEvents{})
	if _, err := policy.Evaluate(context.Background(), oldSubject()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := fixedNow.Add(-24 * time.Hour); !usages.since.Equal(want) {
		t.Fatalf("expected window start %v, got %v", want, usages.since)
	}
}

func TestPolicySkipsIPRulesWithoutIP(t *testing.T) {
	policy := newTestPolicy(t, &stubUsages{count: 99}, &stubUsers{}, &stubEvents{count: 99})
	subject := oldSubject()
	subject.IP = ""
	d, err := policy.Evaluate(context.Background(), subject)
	if err != nil || !d.Allowed {
		t.Fatalf("expected allow without ip, got %+v err=%v", d, err)
	}
}

func TestPolicyPropagatesStoreErrors(t *testing.T) {
	policy := newTestPolicy(t, &stubUsages{err: errors.New("db down")}, &stubUsers{}, &stubEvents{})
	if _, err := policy.Evaluate(context.Background(), oldSubject()); err == nil {
		t.Fatal("expected store error")
	}
}

func TestAccountAgeRuleCanBeDisabled(t *testing.T) {
	policy, err := NewPolicy(PolicyParams{
		Abuse:  config.AbuseConfig{MinAccountAge: time.Hour, SkipAccountAgeCheck: true},
		Usages: &stubUsages{},
		Users:  &stubUsers{},
		Events: &stubEvents{},
	})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	for _, name := range policy.Rules() {
		if name == RuleAccountAge {
			t.Fatal("account age rule should be skipped")
		}
	}
}

func TestAliasPattern(t *testing.T) {
	cases := map[string]string{
		"Rider+promo1@Gmail.com": "rider%@gmail.com",
		"rider@gmail.com":        "rider%@gmail.com",
		"+tag@gmail.com":         "",
		"not-an-email":           "",
	}
	for in, want := range cases {
		if got := AliasPattern(in); got != want {
			t.Fatalf("AliasPattern(%q) = %q, want %q", in, got, want)
		}
	}
	if got := EmailDomain("x@Example.COM"); got != "example.com" {
		t.Fatalf("unexpected domain %q", got)
	}
}
