package affiliates

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/snowskill/snowskill-backend/pkg/db/models"
	"github.com/snowskill/snowskill-backend/pkg/enums"
	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
)

type DashboardPartner struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
}

type DashboardCoupon struct {
	Code      string `json:"code"`
	UsedCount int    `json:"used_count"`
	MaxUses   *int   `json:"max_uses"`
	IsActive  bool   `json:"is_active"`
	Link      string `json:"link"`
}

type DashboardStats struct {
	TotalTrials        int64           `json:"total_trials"`
	TotalConversions   int             `json:"total_conversions"`
	ConversionRate     decimal.Decimal `json:"conversion_rate"`
	TotalCommissions   decimal.Decimal `json:"total_commissions"`
	PendingCommissions decimal.Decimal `json:"pending_commissions"`
	SettledCommissions decimal.Decimal `json:"settled_commissions"`
	PaidCommissions    decimal.Decimal `json:"paid_commissions"`
}

type DailyPoint struct {
	Date        string `json:"date"`
	Trials      int    `json:"trials"`
	Conversions int    `json:"conversions"`
}

type QuarterTotals struct {
	Quarter       string          `json:"quarter"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
	SettledAmount decimal.Decimal `json:"settled_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
}

// Dashboard is the partner's self-service view.
type Dashboard struct {
	Partner    DashboardPartner  `json:"partner"`
	Coupons    []DashboardCoupon `json:"coupons"`
	Stats      DashboardStats    `json:"stats"`
	TimeSeries []DailyPoint      `json:"time_series"`
	Quarterly  []QuarterTotals   `json:"quarterly"`
}

func (s *service) Dashboard(ctx context.Context, supabaseUserID uuid.UUID) (*Dashboard, error) {
	partner, err := s.partners.FindPartnerBySupabaseUser(ctx, supabaseUserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load partner")
	}
	if partner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "合作方帳號不存在")
	}
	if !partner.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "帳號已被停用")
	}

	couponRows, err := s.coupons.ListByPartner(ctx, partner.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load partner coupons")
	}
	couponIDs := lo.Map(couponRows, func(c models.Coupon, _ int) uuid.UUID { return c.ID })

	trials, err := s.coupons.CountUsagesByCoupons(ctx, couponIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count trials")
	}
	commissions, err := s.partners.ListByPartner(ctx, partner.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load commissions")
	}

	now := s.now().UTC()
	since := startOfDay(now).AddDate(0, 0, -(dashboardDays - 1))
	trialTimes, err := s.coupons.UsageTimesSince(ctx, couponIDs, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load trial history")
	}

	return &Dashboard{
		Partner: DashboardPartner{
			ID:             partner.ID,
			Name:           partner.PartnerName,
			CommissionRate: partner.CommissionRate,
		},
		Coupons: lo.Map(couponRows, func(c models.Coupon, _ int) DashboardCoupon {
			return DashboardCoupon{
				Code:      c.Code,
				UsedCount: c.UsedCount,
				MaxUses:   c.MaxUses,
				IsActive:  c.IsActive,
				Link:      s.cfg.ReferralLinkBase + c.Code,
			}
		}),
		Stats:      buildStats(trials, commissions),
		TimeSeries: buildTimeSeries(since, dashboardDays, trialTimes, commissions),
		Quarterly:  buildQuarterly(commissions),
	}, nil
}

// PartnerSummary is one row of the admin partner list.
type PartnerSummary struct {
	ID             uuid.UUID       `json:"id"`
	PartnerName    string          `json:"partner_name"`
	ContactEmail   string          `json:"contact_email"`
	CouponCode     string          `json:"coupon_code"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	Stats          DashboardStats  `json:"stats"`
}

// ListPartners returns every partner, newest first, with the same totals the
// partner sees on their own dashboard.
func (s *service) ListPartners(ctx context.Context) ([]PartnerSummary, error) {
	partners, err := s.partners.ListPartners(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list partners")
	}
	out := make([]PartnerSummary, 0, len(partners))
	for _, partner := range partners {
		couponRows, err := s.coupons.ListByPartner(ctx, partner.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load partner coupons")
		}
		trials, err := s.coupons.CountUsagesByCoupons(ctx, lo.Map(couponRows, func(c models.Coupon, _ int) uuid.UUID { return c.ID }))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count trials")
		}
		commissions, err := s.partners.ListByPartner(ctx, partner.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load commissions")
		}
		out = append(out, PartnerSummary{
			ID:             partner.ID,
			PartnerName:    partner.PartnerName,
			ContactEmail:   partner.ContactEmail,
			CouponCode:     partner.CouponCode,
			CommissionRate: partner.CommissionRate,
			IsActive:       partner.IsActive,
			CreatedAt:      partner.CreatedAt,
			Stats:          buildStats(trials, commissions),
		})
	}
	return out, nil
}

// buildStats counts a conversion once per paying user; renewals add
// commission but not conversions.
func buildStats(trials int64, commissions []models.AffiliateCommission) DashboardStats {
	byStatus := sumByStatus(commissions)
	converted := len(lo.UniqBy(commissions, func(c models.AffiliateCommission) uuid.UUID { return c.UserID }))
	stats := DashboardStats{
		TotalTrials:        trials,
		TotalConversions:   converted,
		ConversionRate:     decimal.Zero,
		TotalCommissions:   sumAmounts(commissions),
		PendingCommissions: byStatus[enums.CommissionStatusPending],
		SettledCommissions: byStatus[enums.CommissionStatusSettled],
		PaidCommissions:    byStatus[enums.CommissionStatusPaid],
	}
	if trials > 0 {
		stats.ConversionRate = decimal.NewFromInt(int64(converted)).
			Div(decimal.NewFromInt(trials)).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	return stats
}

func buildTimeSeries(since time.Time, days int, trials []time.Time, commissions []models.AffiliateCommission) []DailyPoint {
	const layout = "2006-01-02"
	trialCounts := lo.CountValuesBy(trials, func(t time.Time) string { return t.UTC().Format(layout) })
	conversionCounts := lo.CountValuesBy(commissions, func(c models.AffiliateCommission) string {
		return c.CreatedAt.UTC().Format(layout)
	})

	points := make([]DailyPoint, 0, days)
	for i := 0; i < days; i++ {
		day := since.AddDate(0, 0, i).Format(layout)
		points = append(points, DailyPoint{
			Date:        day,
			Trials:      trialCounts[day],
			Conversions: conversionCounts[day],
		})
	}
	return points
}

func buildQuarterly(commissions []models.AffiliateCommission) []QuarterTotals {
	groups := lo.GroupBy(commissions, func(c models.AffiliateCommission) string { return c.SettlementQuarter })
	out := make([]QuarterTotals, 0, len(groups))
	for quarter, rows := range groups {
		byStatus := sumByStatus(rows)
		out = append(out, QuarterTotals{
			Quarter:       quarter,
			TotalAmount:   sumAmounts(rows),
			PendingAmount: byStatus[enums.CommissionStatusPending],
			SettledAmount: byStatus[enums.CommissionStatusSettled],
			PaidAmount:    byStatus[enums.CommissionStatusPaid],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quarter > out[j].Quarter })
	return out
}

func sumAmounts(rows []models.AffiliateCommission) decimal.Decimal {
	return lo.Reduce(rows, func(acc decimal.Decimal, c models.AffiliateCommission, _ int) decimal.Decimal {
		return acc.Add(c.CommissionAmount)
	}, decimal.Zero).Round(2)
}

func sumByStatus(rows []models.AffiliateCommission) map[enums.CommissionStatus]decimal.Decimal {
	out := map[enums.CommissionStatus]decimal.Decimal{
		enums.CommissionStatusPending: decimal.Zero,
		enums.CommissionStatusSettled: decimal.Zero,
		enums.CommissionStatusPaid:    decimal.Zero,
	}
	for status, group := range lo.GroupBy(rows, func(c models.AffiliateCommission) enums.CommissionStatus { return c.Status }) {
		out[status] = sumAmounts(group)
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
