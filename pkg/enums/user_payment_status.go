package enums

// UserPaymentStatus mirrors users.payment_status.
type UserPaymentStatus string

const (
	UserPaymentStatusNone   UserPaymentStatus = "none"
	UserPaymentStatusActive UserPaymentStatus = "active"
)

// String implements fmt.Stringer.
func (u UserPaymentStatus) String() string {
	return string(u)
}
