package enums

// PaymentProvider identifies who settled a payment. TrialCoupon marks
// zero-amount bookkeeping rows written by coupon redemption; Admin marks a
// plan handed out by an operator.
type PaymentProvider string

const (
	PaymentProviderTrialCoupon PaymentProvider = "trial_coupon"
	PaymentProviderStripe      PaymentProvider = "stripe"
	PaymentProviderMock        PaymentProvider = "mock"
	PaymentProviderAdmin       PaymentProvider = "admin"
)

// String implements fmt.Stringer.
func (p PaymentProvider) String() string {
	return string(p)
}
