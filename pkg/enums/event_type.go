package enums

import "fmt"

// EventType names rows appended to event_log.
type EventType string

const (
	EventTrialActivated    EventType = "trial_activated"
	EventTrialExpired      EventType = "trial_expired"
	EventPurchaseInitiated EventType = "purchase_initiated"
	EventPurchaseSuccess   EventType = "purchase_success"
	EventPurchaseFailed    EventType = "purchase_failed"
	EventPurchaseRefunded  EventType = "purchase_refunded"
	EventPlanGranted       EventType = "plan_granted"
)

var validEventTypes = []EventType{
	EventTrialActivated,
	EventTrialExpired,
	EventPurchaseInitiated,
	EventPurchaseSuccess,
	EventPurchaseFailed,
	EventPurchaseRefunded,
	EventPlanGranted,
}

// String implements fmt.Stringer.
func (e EventType) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EventType.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventType converts raw input into an EventType.
func ParseEventType(value string) (EventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
