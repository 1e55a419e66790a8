package affiliates

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

var quarterPattern = regexp.MustCompile(`^[0-9]{4}-Q[1-4]$`)

// CalculateCommission returns amount*rate rounded half away from zero to cents.
func CalculateCommission(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

// SettlementPeriod formats the calendar quarter containing t as YYYY-Qn.
func SettlementPeriod(t time.Time) string {
	return fmt.Sprintf("%d-Q%d", t.Year(), quarterOf(t.Month()))
}

// PreviousQuarter returns the quarter before the one containing t.
func PreviousQuarter(t time.Time) string {
	q := quarterOf(t.Month())
	if q == 1 {
		return fmt.Sprintf("%d-Q4", t.Year()-1)
	}
	return fmt.Sprintf("%d-Q%d", t.Year(), q-1)
}

// ValidQuarter reports whether s is a YYYY-Qn period label.
func ValidQuarter(s string) bool {
	return quarterPattern.MatchString(s)
}

func quarterOf(m time.Month) int {
	return (int(m)-1)/3 + 1
}

// RateBounds limits the commission rate an admin may assign.
type RateBounds struct {
	Default decimal.Decimal
	Min     decimal.Decimal
	Max     decimal.Decimal
}

// DefaultRateBounds mirrors the shipped configuration defaults.
func DefaultRateBounds() RateBounds {
	return RateBounds{
		Default: decimal.RequireFromString("0.15"),
		Min:     decimal.RequireFromString("0.05"),
		Max:     decimal.RequireFromString("0.30"),
	}
}

// Resolve applies the default to a missing rate and rejects out-of-range values.
func (b RateBounds) Resolve(rate *decimal.Decimal) (decimal.Decimal, error) {
	if rate == nil {
		return b.Default, nil
	}
	if rate.LessThan(b.Min) || rate.GreaterThan(b.Max) {
		return decimal.Zero, fmt.Errorf("commission rate must be between %s and %s", b.Min, b.Max)
	}
	return *rate, nil
}
