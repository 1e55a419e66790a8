package coupons

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snowskill/snowskill-backend/pkg/db/models"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{3,31}$`)

// ValidCode reports whether a normalized code has an acceptable shape.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// Normalize trims and upper-cases a coupon code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CouponView is the public projection of a coupon.
type CouponView struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	PlanID      string    `json:"plan_id"`
	PlanLabel   string    `json:"plan_label"`
	PartnerName *string   `json:"partner_name"`
}

func newCouponView(c *models.Coupon) *CouponView {
	return &CouponView{
		ID:          c.ID,
		Code:        c.Code,
		PlanID:      c.PlanID,
		PlanLabel:   c.PlanLabel,
		PartnerName: c.PartnerName,
	}
}

// Result is the outcome of validation. Rejections are values, not errors.
type Result struct {
	OK      bool
	Reason  Reason
	Message string
	Coupon  *CouponView

	coupon *models.Coupon
}

func reject(reason Reason) Result {
	return Result{Reason: reason, Message: reason.Message()}
}

func accept(c *models.Coupon) Result {
	return Result{OK: true, Coupon: newCouponView(c), coupon: c}
}

// SubscriptionView describes the entitlement granted by a redemption.
type SubscriptionView struct {
	Plan             string    `json:"plan"`
	PlanLabel        string    `json:"plan_label"`
	ExpiresAt        time.Time `json:"expires_at"`
	TrialActivatedAt time.Time `json:"trial_activated_at"`
	TrialSource      string    `json:"trial_source"`
}

// RedeemInput is everything Redeem needs about the caller.
type RedeemInput struct {
	Code          string
	UserID        uuid.UUID
	Email         string
	UserCreatedAt time.Time
	IP            string
	UserAgent     string
}

// RedeemResult always carries a reason on failure, even when an error is
// also returned, so handlers can render the contract body.
type RedeemResult struct {
	OK           bool
	Reason       Reason
	Message      string
	Subscription *SubscriptionView
	RetryAfter   time.Duration
}

func redeemRejected(reason Reason) RedeemResult {
	return RedeemResult{Reason: reason, Message: reason.Message()}
}

// rejection aborts the redemption transaction with a business reason.
type rejection struct {
	reason Reason
}

func (r rejection) Error() string {
	return "coupon rejected: " + string(r.reason)
}
