package metrics

import "github.com/prometheus/client_golang/prometheus"

// CouponMetrics counts redemption outcomes and anti-abuse denials.
type CouponMetrics struct {
	redemptions *prometheus.CounterVec
	abuseDenied *prometheus.CounterVec
}

// NewCouponMetrics registers the coupon counters on reg. A nil registerer
// yields a no-op recorder.
func NewCouponMetrics(reg prometheus.Registerer) *CouponMetrics {
	if reg == nil {
		return &CouponMetrics{}
	}
	redemptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_redemptions_total",
		Help: "Coupon redemption attempts by outcome reason (ok for success).",
	}, []string{"reason"})
	abuseDenied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_abuse_denied_total",
		Help: "Redemptions denied by the anti-abuse policy, by rule.",
	}, []string{"rule"})
	reg.MustRegister(redemptions, abuseDenied)
	return &CouponMetrics{redemptions: redemptions, abuseDenied: abuseDenied}
}

func (c *CouponMetrics) IncRedemption(reason string) {
	if c == nil || c.redemptions == nil {
		return
	}
	c.redemptions.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (c *CouponMetrics) IncAbuseDenied(rule string) {
	if c == nil || c.abuseDenied == nil {
		return
	}
	c.abuseDenied.WithLabelValues(normalizeLabel(rule)).Inc()
}
