package enums

import "fmt"

// CommissionStatus is the forward-only settlement state of an affiliate commission.
type CommissionStatus string

const (
	CommissionStatusPending CommissionStatus = "pending"
	CommissionStatusSettled CommissionStatus = "settled"
	CommissionStatusPaid    CommissionStatus = "paid"
)

var validCommissionStatuses = []CommissionStatus{
	CommissionStatusPending,
	CommissionStatusSettled,
	CommissionStatusPaid,
}

// String implements fmt.Stringer.
func (c CommissionStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CommissionStatus.
func (c CommissionStatus) IsValid() bool {
	for _, candidate := range validCommissionStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// CanAdvanceTo reports whether next is the single allowed successor.
func (c CommissionStatus) CanAdvanceTo(next CommissionStatus) bool {
	switch c {
	case CommissionStatusPending:
		return next == CommissionStatusSettled
	case CommissionStatusSettled:
		return next == CommissionStatusPaid
	default:
		return false
	}
}

// ParseCommissionStatus converts raw input into a CommissionStatus.
func ParseCommissionStatus(value string) (CommissionStatus, error) {
	for _, candidate := range validCommissionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid commission status %q", value)
}
