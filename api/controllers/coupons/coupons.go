package coupons

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/snowskill/snowskill-backend/api/middleware"
	"github.com/snowskill/snowskill-backend/api/responses"
	couponsvc "github.com/snowskill/snowskill-backend/internal/coupons"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

const maxBodyBytes = 4 << 10

const (
	msgMissingCode = "請輸入折扣碼"
	msgUnavailable = "服務暫時無法使用"
)

type codeRequest struct {
	Code string `json:"code"`
}

type redeemResponse struct {
	OK           bool                        `json:"ok"`
	Reason       string                      `json:"reason,omitempty"`
	Error        string                      `json:"error,omitempty"`
	Subscription *couponsvc.SubscriptionView `json:"subscription,omitempty"`
}

type validateResponse struct {
	OK     bool                  `json:"ok"`
	Valid  bool                  `json:"valid"`
	Reason string                `json:"reason,omitempty"`
	Error  string                `json:"error,omitempty"`
	Coupon *couponsvc.CouponView `json:"coupon,omitempty"`
}

// Redeem activates the trial bound to a coupon for the signed-in caller.
// Responses keep the coupon contract body instead of the data envelope.
func Redeem(svc couponsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteJSON(w, http.StatusServiceUnavailable, redeemResponse{Error: msgUnavailable})
			return
		}

		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			reason := couponsvc.ReasonNotAuthenticated
			responses.WriteJSON(w, http.StatusUnauthorized, redeemResponse{Reason: reason.String(), Error: reason.Message()})
			return
		}

		code := readCode(r)
		if code == "" {
			responses.WriteJSON(w, http.StatusBadRequest, redeemResponse{Reason: couponsvc.ReasonInvalidFormat.String(), Error: msgMissingCode})
			return
		}

		res, err := svc.Redeem(ctx, couponsvc.RedeemInput{
			Code:          code,
			UserID:        userID,
			Email:         middleware.EmailFromContext(ctx),
			UserCreatedAt: middleware.AccountCreatedAtFromContext(ctx),
			IP:            middleware.ClientIP(r),
			UserAgent:     r.UserAgent(),
		})
		if err != nil && logg != nil {
			logg.Error(ctx, "coupon.redeem_failed", err)
		}
		if res.OK {
			responses.WriteJSON(w, http.StatusOK, redeemResponse{OK: true, Subscription: res.Subscription})
			return
		}

		status := http.StatusOK
		switch res.Reason {
		case couponsvc.ReasonAbuseDetected:
			status = http.StatusTooManyRequests
			if res.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			}
		case couponsvc.ReasonServerError, couponsvc.ReasonTransactionFailed:
			status = http.StatusInternalServerError
		case couponsvc.ReasonNotAuthenticated:
			status = http.StatusUnauthorized
		}
		responses.WriteJSON(w, status, redeemResponse{Reason: res.Reason.String(), Error: res.Message})
	}
}

// Validate checks a code without side effects. Anonymous callers get the
// coupon-level checks only.
func Validate(svc couponsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteJSON(w, http.StatusInternalServerError, validateResponse{Error: msgUnavailable})
			return
		}

		code := readCode(r)
		if code == "" {
			responses.WriteJSON(w, http.StatusBadRequest, validateResponse{Reason: couponsvc.ReasonInvalidFormat.String(), Error: msgMissingCode})
			return
		}

		var userID *uuid.UUID
		if id, ok := middleware.UserUUIDFromContext(ctx); ok {
			userID = &id
		}

		res, err := svc.Validate(ctx, code, userID)
		if err != nil {
			if logg != nil {
				logg.Error(ctx, "coupon.validate_failed", err)
			}
			reason := couponsvc.ReasonServerError
			responses.WriteJSON(w, http.StatusInternalServerError, validateResponse{Reason: reason.String(), Error: reason.Message()})
			return
		}
		if res.OK {
			responses.WriteJSON(w, http.StatusOK, validateResponse{OK: true, Valid: true, Coupon: res.Coupon})
			return
		}
		responses.WriteJSON(w, http.StatusOK, validateResponse{Reason: res.Reason.String(), Error: res.Message})
	}
}

// readCode tolerates malformed bodies; an unreadable body is an empty code.
func readCode(r *http.Request) string {
	var body codeRequest
	if r.Body == nil {
		return ""
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.Code)
}
