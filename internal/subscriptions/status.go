package subscriptions

import "time"

// Status is the display state of a user's subscription.
type Status struct {
	Label     string `json:"label"`
	Color     string `json:"color"`
	IsExpired bool   `json:"is_expired"`
}

// ResolveStatus computes the display state. A plan expiring exactly at now
// counts as expired. Free or missing plans never expire.
func ResolveStatus(planID *string, expiresAt *time.Time, now time.Time) Status {
	if planID == nil || *planID == "" || *planID == PlanFree {
		return Status{Label: "免費", Color: colorFree}
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return Status{Label: "已過期", Color: colorExpired, IsExpired: true}
	}
	if plan, ok := LookupPlan(*planID); ok {
		return Status{Label: plan.Label, Color: plan.Color}
	}
	return Status{Label: *planID, Color: colorFree}
}
