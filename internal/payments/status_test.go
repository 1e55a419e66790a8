package payments

import (
	"testing"

	"github.com/snowskill/snowskill-backend/pkg/enums"
)

func TestShouldSkip(t *testing.T) {
	cases := []struct {
		current  enums.PaymentStatus
		incoming enums.PaymentStatus
		skip     bool
	}{
		{enums.PaymentStatusPending, enums.PaymentStatusActive, false},
		{enums.PaymentStatusPending, enums.PaymentStatusFailed, false},
		{enums.PaymentStatusActive, enums.PaymentStatusActive, true},
		{enums.PaymentStatusActive, enums.PaymentStatusFailed, true},
		{enums.PaymentStatusActive, enums.PaymentStatusPending, true},
		{enums.PaymentStatusActive, enums.PaymentStatusRefunded, false},
		{enums.PaymentStatusRefunded, enums.PaymentStatusActive, true},
		{enums.PaymentStatusRefunded, enums.PaymentStatusRefunded, true},
		{enums.PaymentStatusFailed, enums.PaymentStatusCanceled, true},
		{enums.PaymentStatusCanceled, enums.PaymentStatusFailed, true},
		{enums.PaymentStatusFailed, enums.PaymentStatusActive, false},
	}
	for _, tc := range cases {
		if got := ShouldSkip(tc.current, tc.incoming); got != tc.skip {
			t.Fatalf("ShouldSkip(%s, %s) = %v, want %v", tc.current, tc.incoming, got, tc.skip)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"payment_id":"p1","status":"paid"}`)
	sig := Sign("whsec", body)
	if !VerifySignature("whsec", body, sig) {
		t.Fatal("expected signature to verify")
	}
	if VerifySignature("whsec", body, "deadbeef") {
		t.Fatal("expected mismatched signature to fail")
	}
	if VerifySignature("whsec", []byte(`{}`), sig) {
		t.Fatal("expected tampered body to fail")
	}
	if VerifySignature("whsec", body, "") {
		t.Fatal("expected empty signature to fail")
	}
}
