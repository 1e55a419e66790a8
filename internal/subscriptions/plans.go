package subscriptions

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PlanFree      = "free"
	PlanPass7     = "pass_7"
	PlanPass30    = "pass_30"
	PlanProYearly = "pro_yearly"
)

const (
	colorFree    = "bg-zinc-600"
	colorExpired = "bg-red-600"
)

// Plan is a purchasable time-boxed entitlement.
type Plan struct {
	ID    string          `json:"id"`
	Label string          `json:"label"`
	Color string          `json:"color"`
	Days  int             `json:"days"`
	Price decimal.Decimal `json:"price"`
}

var plans = map[string]Plan{
	PlanPass7: {
		ID:    PlanPass7,
		Label: "7天",
		Color: "bg-amber-600",
		Days:  7,
		Price: decimal.NewFromInt(180),
	},
	PlanPass30: {
		ID:    PlanPass30,
		Label: "30天",
		Color: "bg-blue-600",
		Days:  30,
		Price: decimal.NewFromInt(290),
	},
	PlanProYearly: {
		ID:    PlanProYearly,
		Label: "年費",
		Color: "bg-gradient-to-r from-amber-500 to-orange-600",
		Days:  365,
		Price: decimal.NewFromInt(690),
	},
}

// LookupPlan returns the plan registered under id.
func LookupPlan(id string) (Plan, bool) {
	p, ok := plans[id]
	return p, ok
}

// Plans lists every purchasable plan ordered by duration.
func Plans() []Plan {
	out := make([]Plan, 0, len(plans))
	for _, p := range plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Days < out[j].Days })
	return out
}

// CalculateExpiry returns from + plan days.
func CalculateExpiry(plan Plan, from time.Time) time.Time {
	return from.AddDate(0, 0, plan.Days)
}

// ExtendExpiry stacks a new purchase on top of any remaining entitlement.
func ExtendExpiry(plan Plan, current *time.Time, now time.Time) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return CalculateExpiry(plan, base)
}
