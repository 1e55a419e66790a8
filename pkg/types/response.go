package types

// SuccessEnvelope wraps every non-coupon 2xx body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the body of a failed request. RequestID echoes X-Request-Id so
// a rider can quote it to support; Retryable tells the app whether a retry
// with the same Idempotency-Key may succeed.
type APIError struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	Details   any      `json:"details,omitempty"`
	Debug     []string `json:"debug,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
