package coupons

// Reason is the flat rejection taxonomy returned to clients.
type Reason string

const (
	ReasonInvalidFormat     Reason = "invalid_format"
	ReasonInvalidCode       Reason = "invalid_code"
	ReasonExpired           Reason = "expired"
	ReasonNotStarted        Reason = "not_started"
	ReasonMaxUsesReached    Reason = "max_uses_reached"
	ReasonAlreadyUsed       Reason = "already_used"
	ReasonTrialUsedBefore   Reason = "trial_used_before"
	ReasonAlreadySubscribed Reason = "already_subscribed"
	ReasonAbuseDetected     Reason = "abuse_detected"
	ReasonValidationFailed  Reason = "validation_failed"
	ReasonNotAuthenticated  Reason = "not_authenticated"
	ReasonTransactionFailed Reason = "transaction_failed"
	ReasonServerError       Reason = "server_error"
)

var messages = map[Reason]string{
	ReasonInvalidFormat:     "折扣碼格式不正確",
	ReasonInvalidCode:       "折扣碼不存在或已停用",
	ReasonExpired:           "折扣碼已過期",
	ReasonNotStarted:        "折扣碼尚未生效",
	ReasonMaxUsesReached:    "折扣碼已達使用上限",
	ReasonAlreadyUsed:       "此折扣碼已使用過",
	ReasonTrialUsedBefore:   "您已使用過免費試用",
	ReasonAlreadySubscribed: "目前已有有效方案，無法啟用試用",
	ReasonAbuseDetected:     "系統偵測異常，請稍後再試",
	ReasonValidationFailed:  "折扣碼驗證失敗，請稍後再試",
	ReasonNotAuthenticated:  "請先登入",
	ReasonTransactionFailed: "折扣碼兌換失敗，請稍後再試",
	ReasonServerError:       "系統繁忙，請稍後再試",
}

const fallbackMessage = "折扣碼無法使用"

// Message returns the user-facing zh-TW text for r.
func (r Reason) Message() string {
	if msg, ok := messages[r]; ok {
		return msg
	}
	return fallbackMessage
}

func (r Reason) String() string {
	return string(r)
}
