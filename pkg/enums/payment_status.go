package enums

import (
	"fmt"
	"strings"
)

// PaymentStatus tracks the lifecycle of a payment row.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusActive   PaymentStatus = "active"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusCanceled PaymentStatus = "canceled"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusActive,
	PaymentStatusFailed,
	PaymentStatusCanceled,
	PaymentStatusRefunded,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminalFailure reports failed or canceled.
func (p PaymentStatus) IsTerminalFailure() bool {
	return p == PaymentStatusFailed || p == PaymentStatusCanceled
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}

// MapProviderPaymentStatus folds provider specific status strings into the
// internal enum. Unknown values stay pending.
func MapProviderPaymentStatus(value string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "success", "paid", "active":
		return PaymentStatusActive
	case "failed":
		return PaymentStatusFailed
	case "canceled", "cancelled":
		return PaymentStatusCanceled
	case "refunded":
		return PaymentStatusRefunded
	default:
		return PaymentStatusPending
	}
}
