package coupons

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/snowskill/snowskill-backend/internal/abuse"
	"github.com/snowskill/snowskill-backend/internal/eventlog"
	"github.com/snowskill/snowskill-backend/internal/users"
	"github.com/snowskill/snowskill-backend/pkg/config"
	"github.com/snowskill/snowskill-backend/pkg/db"
	"github.com/snowskill/snowskill-backend/pkg/db/dbtest"
	"github.com/snowskill/snowskill-backend/pkg/db/models"
	"github.com/snowskill/snowskill-backend/pkg/enums"
)

type allowPolicy struct {
	decision abuse.Decision
	err      error
}

func (p allowPolicy) Evaluate(context.Context, abuse.Subject) (abuse.Decision, error) {
	if p.err != nil {
		return abuse.Decision{}, p.err
	}
	if p.decision.Rule != "" {
		return p.decision, nil
	}
	return abuse.Allow(), nil
}

type gormPayments struct {
	err error
}

func (g gormPayments) CreateWithTx(tx *gorm.DB, payment *models.Payment) error {
	if g.err != nil {
		return g.err
	}
	return tx.Create(payment).Error
}

type countingMetrics struct {
	mu      sync.Mutex
	reasons map[string]int
	rules   map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{reasons: map[string]int{}, rules: map[string]int{}}
}

func (m *countingMetrics) IncRedemption(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasons[reason]++
}

func (m *countingMetrics) IncAbuseDenied(rule string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule]++
}

type fixture struct {
	client  *db.Client
	svc     Service
	metrics *countingMetrics
	now     time.Time
}

func newFixture(t *testing.T, policy abuse.Policy, payments paymentWriter) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	metrics := newCountingMetrics()
	if policy == nil {
		policy = allowPolicy{}
	}
	if payments == nil {
		payments = gormPayments{}
	}
	svc, err := NewService(ServiceParams{
		Coupons:           NewRepository(client.DB()),
		Users:             users.NewRepository(client.DB()),
		Payments:          payments,
		Events:            eventlog.NewRepository(client.DB()),
		Policy:            policy,
		TransactionRunner: client,
		Metrics:           metrics,
		Config: config.CouponsConfig{
			TrialPlanLabel:    "7天 PASS",
			TrialDurationDays: 7,
			RecordTrialPay:    true,
		},
		Now: func() time.Time { return now },
	})
	require.NoError(t, err)
	return &fixture{client: client, svc: svc, metrics: metrics, now: now}
}

func (f *fixture) seedUser(t *testing.T, email string) *models.User {
	t.Helper()
	user := &models.User{Email: email, CreatedAt: f.now.Add(-24 * time.Hour)}
	require.NoError(t, f.client.DB().Create(user).Error)
	return user
}

func (f *fixture) seedCoupon(t *testing.T, code string, maxUses *int, used int) *models.Coupon {
	t.Helper()
	partner := "雪場教練A"
	coupon := &models.Coupon{
		Code:        code,
		PlanID:      "pass_7",
		PlanLabel:   "7天試用",
		MaxUses:     maxUses,
		UsedCount:   used,
		IsActive:    true,
		PartnerName: &partner,
	}
	require.NoError(t, f.client.DB().Create(coupon).Error)
	return coupon
}

func (f *fixture) reload(t *testing.T, dst any, id uuid.UUID) {
	t.Helper()
	require.NoError(t, f.client.DB().First(dst, "id = ?", id).Error)
}

func intPtr(v int) *int { return &v }

func TestValidateUnknownCode(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Validate(context.Background(), "doesnotexist", nil)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, ReasonInvalidCode, res.Reason)
	require.Equal(t, "折扣碼不存在或已停用", res.Message)
}

func TestValidateFormatAndWindow(t *testing.T) {
	f := newFixture(t, nil, nil)

	res, err := f.svc.Validate(context.Background(), "ab", nil)
	require.NoError(t, err)
	require.Equal(t, ReasonInvalidFormat, res.Reason)

	future := f.now.Add(time.Hour)
	past := f.now.Add(-time.Hour)
	require.NoError(t, f.client.DB().Create(&models.Coupon{Code: "SOON", PlanID: "pass_7", PlanLabel: "x", IsActive: true, ValidFrom: &future}).Error)
	require.NoError(t, f.client.DB().Create(&models.Coupon{Code: "GONE", PlanID: "pass_7", PlanLabel: "x", IsActive: true, ValidUntil: &past}).Error)
	inactive := &models.Coupon{Code: "OFFLINE", PlanID: "pass_7", PlanLabel: "x", IsActive: true}
	require.NoError(t, f.client.DB().Create(inactive).Error)
	require.NoError(t, f.client.DB().Model(inactive).Update("is_active", false).Error)

	for code, want := range map[string]Reason{
		"soon":    ReasonNotStarted,
		"GONE":    ReasonExpired,
		"OFFLINE": ReasonInvalidCode,
	} {
		res, err := f.svc.Validate(context.Background(), code, nil)
		require.NoError(t, err)
		require.Equal(t, want, res.Reason, code)
	}
}

func TestRedeemLastSlotThenLimitReached(t *testing.T) {
	f := newFixture(t, nil, nil)
	coupon := f.seedCoupon(t, "TESTCODE", intPtr(100), 99)
	first := f.seedUser(t, "first@example.com")
	second := f.seedUser(t, "second@example.com")
	ctx := context.Background()

	res, err := f.svc.Redeem(ctx, RedeemInput{Code: " testcode ", UserID: first.ID, Email: first.Email, IP: "10.0.0.1"})
	require.NoError(t, err)
	require.True(t, res.OK, "reason=%s", res.Reason)
	require.Equal(t, "pass_7", res.Subscription.Plan)
	require.Equal(t, "雪場教練A", res.Subscription.TrialSource)
	require.True(t, res.Subscription.ExpiresAt.Equal(f.now.Add(7*24*time.Hour)))

	var stored models.Coupon
	f.reload(t, &stored, coupon.ID)
	require.Equal(t, 100, stored.UsedCount)

	res, err = f.svc.Redeem(ctx, RedeemInput{Code: "TESTCODE", UserID: second.ID, Email: second.Email})
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, ReasonMaxUsesReached, res.Reason)

	f.reload(t, &stored, coupon.ID)
	require.Equal(t, 100, stored.UsedCount)
	require.Equal(t, 1, f.metrics.reasons["ok"])
	require.Equal(t, 1, f.metrics.reasons[string(ReasonMaxUsesReached)])
}

func TestRedeemAppliesAllEffects(t *testing.T) {
	f := newFixture(t, nil, nil)
	coupon := f.seedCoupon(t, "SNOW2026", nil, 0)
	user := f.seedUser(t, "rider@example.com")

	res, err := f.svc.Redeem(context.Background(), RedeemInput{Code: "SNOW2026", UserID: user.ID, Email: user.Email, IP: "10.0.0.9", UserAgent: "test"})
	require.NoError(t, err)
	require.True(t, res.OK)

	var stored models.User
	f.reload(t, &stored, user.ID)
	require.True(t, stored.TrialUsed)
	require.Equal(t, "pass_7", stored.SubscriptionType)
	require.Equal(t, enums.UserPaymentStatusActive, stored.PaymentStatus)
	require.NotNil(t, stored.LastPaymentProvider)
	require.Equal(t, string(enums.PaymentProviderTrialCoupon), *stored.LastPaymentProvider)
	require.NotNil(t, stored.LastPaymentReference)
	require.Equal(t, "SNOW2026", *stored.LastPaymentReference)

	var usages int64
	require.NoError(t, f.client.DB().Model(&models.CouponUsage{}).Where("coupon_id = ? AND user_id = ?", coupon.ID, user.ID).Count(&usages).Error)
	require.EqualValues(t, 1, usages)

	var payment models.Payment
	require.NoError(t, f.client.DB().Where("user_id = ?", user.ID).First(&payment).Error)
	require.True(t, payment.Amount.IsZero())
	require.Equal(t, enums.PaymentStatusActive, payment.Status)
	require.Equal(t, string(enums.PaymentProviderTrialCoupon), payment.Provider)
	var usage models.CouponUsage
	require.NoError(t, f.client.DB().Where("coupon_id = ? AND user_id = ?", coupon.ID, user.ID).First(&usage).Error)
	require.NotNil(t, payment.ProviderPaymentID)
	require.Equal(t, "trial_coupon:"+usage.ID.String(), *payment.ProviderPaymentID)

	count, err := eventlog.NewRepository(f.client.DB()).CountByIPSince(context.Background(), enums.EventTrialActivated, "10.0.0.9", f.now.Add(-time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestRedeemTrialOnlyOnce(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.seedCoupon(t, "FIRSTONE", nil, 0)
	f.seedCoupon(t, "SECONDONE", nil, 0)
	user := f.seedUser(t, "rider@example.com")
	ctx := context.Background()

	res, err := f.svc.Redeem(ctx, RedeemInput{Code: "FIRSTONE", UserID: user.ID})
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = f.svc.Redeem(ctx, RedeemInput{Code: "FIRSTONE", UserID: user.ID})
	require.NoError(t, err)
	require.Equal(t, ReasonAlreadyUsed, res.Reason)

	res, err = f.svc.Redeem(ctx, RedeemInput{Code: "SECONDONE", UserID: user.ID})
	require.NoError(t, err)
	require.Equal(t, ReasonTrialUsedBefore, res.Reason)
}

func TestRedeemRejectsActiveSubscriber(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.seedCoupon(t, "WINTERFUN", nil, 0)
	user := f.seedUser(t, "paid@example.com")
	expires := f.now.Add(48 * time.Hour)
	require.NoError(t, f.client.DB().Model(user).Updates(map[string]any{
		"subscription_type":       "pass_30",
		"subscription_expires_at": expires,
	}).Error)

	res, err := f.svc.Redeem(context.Background(), RedeemInput{Code: "WINTERFUN", UserID: user.ID})
	require.NoError(t, err)
	require.Equal(t, ReasonAlreadySubscribed, res.Reason)
}

func TestRedeemRequiresUser(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Redeem(context.Background(), RedeemInput{Code: "WHATEVER"})
	require.NoError(t, err)
	require.Equal(t, ReasonNotAuthenticated, res.Reason)
	require.Equal(t, "請先登入", res.Message)
}

func TestRedeemAbuseDenied(t *testing.T) {
	policy := allowPolicy{decision: abuse.Decision{Rule: abuse.RuleIPRedemptions, Reason: abuse.ReasonIPRateLimited, RetryAfter: time.Hour}}
	f := newFixture(t, policy, nil)
	coupon := f.seedCoupon(t, "ABUSED", nil, 0)
	user := f.seedUser(t, "rider@example.com")

	res, err := f.svc.Redeem(context.Background(), RedeemInput{Code: "ABUSED", UserID: user.ID, IP: "1.1.1.1"})
	require.NoError(t, err)
	require.Equal(t, ReasonAbuseDetected, res.Reason)
	require.Equal(t, time.Hour, res.RetryAfter)
	require.Equal(t, 1, f.metrics.rules[abuse.RuleIPRedemptions])

	var stored models.Coupon
	f.reload(t, &stored, coupon.ID)
	require.Zero(t, stored.UsedCount)
}

func TestRedeemPolicyErrorIsServerError(t *testing.T) {
	f := newFixture(t, allowPolicy{err: errors.New("db down")}, nil)
	f.seedCoupon(t, "POLICYERR", nil, 0)
	user := f.seedUser(t, "rider@example.com")

	res, err := f.svc.Redeem(context.Background(), RedeemInput{Code: "POLICYERR", UserID: user.ID})
	require.Error(t, err)
	require.Equal(t, ReasonServerError, res.Reason)
}

func TestRedeemRollsBackOnFailure(t *testing.T) {
	f := newFixture(t, nil, gormPayments{err: errors.New("payments table locked")})
	coupon := f.seedCoupon(t, "ROLLBACK", intPtr(5), 0)
	user := f.seedUser(t, "rider@example.com")

	res, err := f.svc.Redeem(context.Background(), RedeemInput{Code: "ROLLBACK", UserID: user.ID})
	require.Error(t, err)
	require.Equal(t, ReasonTransactionFailed, res.Reason)

	var storedCoupon models.Coupon
	f.reload(t, &storedCoupon, coupon.ID)
	require.Zero(t, storedCoupon.UsedCount)

	var storedUser models.User
	f.reload(t, &storedUser, user.ID)
	require.False(t, storedUser.TrialUsed)
	require.Equal(t, models.PlanFree, storedUser.SubscriptionType)

	var usages int64
	require.NoError(t, f.client.DB().Model(&models.CouponUsage{}).Count(&usages).Error)
	require.Zero(t, usages)
}

func TestConcurrentRedemptionsNeverExceedMaxUses(t *testing.T) {
	f := newFixture(t, nil, nil)
	coupon := f.seedCoupon(t, "RUSH", intPtr(3), 0)

	const riders = 8
	ids := make([]uuid.UUID, riders)
	for i := range ids {
		ids[i] = f.seedUser(t, fmt.Sprintf("rider%d@example.com", i)).ID
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			res, err := f.svc.Redeem(context.Background(), RedeemInput{Code: "RUSH", UserID: id})
			if err == nil && res.OK {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	var stored models.Coupon
	f.reload(t, &stored, coupon.ID)
	require.Equal(t, 3, success)
	require.Equal(t, 3, stored.UsedCount)
}

func TestUsageUniqueConstraint(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	couponID, userID := uuid.New(), uuid.New()

	require.NoError(t, repo.InsertUsageWithTx(client.DB(), &models.CouponUsage{CouponID: couponID, UserID: userID}))
	err := repo.InsertUsageWithTx(client.DB(), &models.CouponUsage{CouponID: couponID, UserID: userID})
	require.Error(t, err)
	require.True(t, db.IsUniqueViolation(err, ""))
}

func TestTrialPaymentRefsAreDistinctPerRider(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.seedCoupon(t, "SHARED26", nil, 0)

	refs := map[string]bool{}
	for _, email := range []string{"a@example.com", "b@example.com"} {
		user := f.seedUser(t, email)
		res, err := f.svc.Redeem(context.Background(), RedeemInput{Code: "SHARED26", UserID: user.ID, Email: email})
		require.NoError(t, err)
		require.True(t, res.OK)

		var payment models.Payment
		require.NoError(t, f.client.DB().Where("user_id = ?", user.ID).First(&payment).Error)
		require.NotNil(t, payment.ProviderPaymentID)
		require.NotEqual(t, "SHARED26", *payment.ProviderPaymentID)
		refs[*payment.ProviderPaymentID] = true
	}
	require.Len(t, refs, 2)
}

func TestClaimRespectsValidityWindow(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	future := now.Add(24 * time.Hour)
	notYet := &models.Coupon{Code: "EARLYBIRD", PlanID: "pass_7", PlanLabel: "7天試用", IsActive: true, ValidFrom: &future}
	past := now.Add(-24 * time.Hour)
	expired := &models.Coupon{Code: "LASTSEASON", PlanID: "pass_7", PlanLabel: "7天試用", IsActive: true, ValidUntil: &past}
	current := &models.Coupon{Code: "OPENNOW", PlanID: "pass_7", PlanLabel: "7天試用", IsActive: true, ValidFrom: &past, ValidUntil: &future}
	for _, c := range []*models.Coupon{notYet, expired, current} {
		require.NoError(t, client.DB().Create(c).Error)
	}

	for _, tc := range []struct {
		coupon *models.Coupon
		want   bool
	}{{notYet, false}, {expired, false}, {current, true}} {
		claimed, err := repo.ClaimWithTx(client.DB(), tc.coupon.ID, now)
		require.NoError(t, err)
		require.Equal(t, tc.want, claimed, tc.coupon.Code)
	}
}
