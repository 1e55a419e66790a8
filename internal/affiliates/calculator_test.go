package affiliates

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCalculateCommission(t *testing.T) {
	cases := []struct {
		amount, rate, want string
	}{
		{"1000", "0.15", "150"},
		{"500", "0.20", "100"},
		{"290", "0.15", "43.5"},
		{"180", "0.0575", "10.35"},
		{"0.1", "0.05", "0.01"},
	}
	for _, tc := range cases {
		got := CalculateCommission(decimal.RequireFromString(tc.amount), decimal.RequireFromString(tc.rate))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("CalculateCommission(%s, %s) = %s, want %s", tc.amount, tc.rate, got, tc.want)
		}
	}
}

func TestSettlementPeriod(t *testing.T) {
	cases := map[time.Month]string{
		time.January:   "2026-Q1",
		time.March:     "2026-Q1",
		time.April:     "2026-Q2",
		time.September: "2026-Q3",
		time.December:  "2026-Q4",
	}
	for month, want := range cases {
		got := SettlementPeriod(time.Date(2026, month, 15, 0, 0, 0, 0, time.UTC))
		if got != want {
			t.Fatalf("%s: expected %s got %s", month, want, got)
		}
	}
}

func TestPreviousQuarterWrapsYear(t *testing.T) {
	if got := PreviousQuarter(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)); got != "2025-Q4" {
		t.Fatalf("expected 2025-Q4 got %s", got)
	}
	if got := PreviousQuarter(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)); got != "2026-Q2" {
		t.Fatalf("expected 2026-Q2 got %s", got)
	}
}

func TestValidQuarter(t *testing.T) {
	for _, ok := range []string{"2025-Q1", "2030-Q4"} {
		if !ValidQuarter(ok) {
			t.Fatalf("expected %s valid", ok)
		}
	}
	for _, bad := range []string{"2025-Q5", "25-Q1", "2025Q1", ""} {
		if ValidQuarter(bad) {
			t.Fatalf("expected %s invalid", bad)
		}
	}
}

func TestRateBoundsResolve(t *testing.T) {
	b := DefaultRateBounds()
	got, err := b.Resolve(nil)
	if err != nil || !got.Equal(decimal.RequireFromString("0.15")) {
		t.Fatalf("expected default rate, got %s %v", got, err)
	}
	high := decimal.RequireFromString("0.31")
	if _, err := b.Resolve(&high); err == nil {
		t.Fatal("expected rate above max to fail")
	}
	low := decimal.RequireFromString("0.05")
	if got, err := b.Resolve(&low); err != nil || !got.Equal(low) {
		t.Fatalf("expected min rate accepted, got %s %v", got, err)
	}
}
