package models

// All lists every persisted model, in dependency order.
func All() []any {
	return []any{
		&User{},
		&AffiliatePartner{},
		&Coupon{},
		&CouponUsage{},
		&Payment{},
		&AffiliateCommission{},
		&EventLog{},
	}
}
