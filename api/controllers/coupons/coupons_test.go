package coupons

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/snowskill/snowskill-backend/api/middleware"
	couponsvc "github.com/snowskill/snowskill-backend/internal/coupons"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

type stubCouponService struct {
	validateRes couponsvc.Result
	validateErr error
	redeemRes   couponsvc.RedeemResult
	redeemErr   error

	lastInput  couponsvc.RedeemInput
	lastUserID *uuid.UUID
}

func (s *stubCouponService) Validate(_ context.Context, _ string, userID *uuid.UUID) (couponsvc.Result, error) {
	s.lastUserID = userID
	return s.validateRes, s.validateErr
}

func (s *stubCouponService) Redeem(_ context.Context, input couponsvc.RedeemInput) (couponsvc.RedeemResult, error) {
	s.lastInput = input
	return s.redeemRes, s.redeemErr
}

func authed(req *http.Request, id uuid.UUID) *http.Request {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return req.WithContext(middleware.WithIdentity(req.Context(), id, "rider@example.com", created, false))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestRedeemRequiresIdentity(t *testing.T) {
	svc := &stubCouponService{}
	req := httptest.NewRequest(http.MethodPost, "/api/coupons/redeem", bytes.NewBufferString(`{"code":"SNOW2026"}`))
	rec := httptest.NewRecorder()
	Redeem(svc, logger.Nop()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["ok"] != false || body["reason"] != "not_authenticated" || body["error"] != "請先登入" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRedeemSuccessPassesCallerContext(t *testing.T) {
	expires := time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	svc := &stubCouponService{redeemRes: couponsvc.RedeemResult{
		OK: true,
		Subscription: &couponsvc.SubscriptionView{
			Plan: "pass_7", PlanLabel: "7天 PASS", ExpiresAt: expires, TrialSource: "Snow Club",
		},
	}}
	id := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/coupons/redeem", bytes.NewBufferString(`{"code":" snow2026 "}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("User-Agent", "snow-test")
	rec := httptest.NewRecorder()
	Redeem(svc, logger.Nop()).ServeHTTP(rec, authed(req, id))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.lastInput.UserID != id || svc.lastInput.IP != "203.0.113.9" || svc.lastInput.UserAgent != "snow-test" {
		t.Fatalf("unexpected input %+v", svc.lastInput)
	}
	if svc.lastInput.Email != "rider@example.com" || svc.lastInput.UserCreatedAt.IsZero() {
		t.Fatalf("identity not forwarded: %+v", svc.lastInput)
	}
	body := decode(t, rec)
	sub, _ := body["subscription"].(map[string]any)
	if body["ok"] != true || sub["plan"] != "pass_7" || sub["trial_source"] != "Snow Club" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRedeemStatusByReason(t *testing.T) {
	cases := []struct {
		name       string
		reason     couponsvc.Reason
		err        error
		retryAfter time.Duration
		status     int
		retry      string
	}{
		{name: "business rejection", reason: couponsvc.ReasonAlreadyUsed, status: http.StatusOK},
		{name: "abuse", reason: couponsvc.ReasonAbuseDetected, retryAfter: 90*time.Second + time.Millisecond, status: http.StatusTooManyRequests, retry: "91"},
		{name: "transaction", reason: couponsvc.ReasonTransactionFailed, err: errors.New("deadlock"), status: http.StatusInternalServerError},
		{name: "server", reason: couponsvc.ReasonServerError, err: errors.New("db down"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCouponService{
				redeemRes: couponsvc.RedeemResult{Reason: tc.reason, Message: tc.reason.Message(), RetryAfter: tc.retryAfter},
				redeemErr: tc.err,
			}
			req := httptest.NewRequest(http.MethodPost, "/api/coupons/redeem", bytes.NewBufferString(`{"code":"SNOW2026"}`))
			rec := httptest.NewRecorder()
			Redeem(svc, logger.Nop()).ServeHTTP(rec, authed(req, uuid.New()))

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != tc.retry {
				t.Fatalf("expected Retry-After %q, got %q", tc.retry, got)
			}
			body := decode(t, rec)
			if body["ok"] != false || body["reason"] != string(tc.reason) || body["error"] != tc.reason.Message() {
				t.Fatalf("unexpected body %v", body)
			}
		})
	}
}

func TestRedeemMissingCode(t *testing.T) {
	svc := &stubCouponService{}
	req := httptest.NewRequest(http.MethodPost, "/api/coupons/redeem", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()
	Redeem(svc, logger.Nop()).ServeHTTP(rec, authed(req, uuid.New()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestValidateAnonymousAndAuthenticated(t *testing.T) {
	partner := "Snow Club"
	svc := &stubCouponService{validateRes: couponsvc.Result{
		OK:     true,
		Coupon: &couponsvc.CouponView{ID: uuid.New(), Code: "SNOW2026", PlanID: "pass_7", PlanLabel: "7天試用", PartnerName: &partner},
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/validate", bytes.NewBufferString(`{"code":"SNOW2026"}`))
	rec := httptest.NewRecorder()
	Validate(svc, logger.Nop()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || svc.lastUserID != nil {
		t.Fatalf("anonymous validate: code=%d user=%v", rec.Code, svc.lastUserID)
	}
	body := decode(t, rec)
	coupon, _ := body["coupon"].(map[string]any)
	if body["valid"] != true || coupon["partner_name"] != partner {
		t.Fatalf("unexpected body %v", body)
	}

	id := uuid.New()
	req = httptest.NewRequest(http.MethodPost, "/api/coupons/validate", bytes.NewBufferString(`{"code":"SNOW2026"}`))
	rec = httptest.NewRecorder()
	Validate(svc, logger.Nop()).ServeHTTP(rec, authed(req, id))
	if svc.lastUserID == nil || *svc.lastUserID != id {
		t.Fatalf("expected user id to be forwarded")
	}
}

func TestValidateRejectionAndServerError(t *testing.T) {
	reason := couponsvc.ReasonExpired
	svc := &stubCouponService{validateRes: couponsvc.Result{Reason: reason, Message: reason.Message()}}
	req := httptest.NewRequest(http.MethodPost, "/api/coupons/validate", bytes.NewBufferString(`{"code":"OLDCODE"}`))
	rec := httptest.NewRecorder()
	Validate(svc, logger.Nop()).ServeHTTP(rec, req)
	body := decode(t, rec)
	if rec.Code != http.StatusOK || body["valid"] != false || body["reason"] != "expired" {
		t.Fatalf("unexpected rejection response %d %v", rec.Code, body)
	}

	svc = &stubCouponService{validateErr: errors.New("db down")}
	req = httptest.NewRequest(http.MethodPost, "/api/coupons/validate", bytes.NewBufferString(`{"code":"OLDCODE"}`))
	rec = httptest.NewRecorder()
	Validate(svc, logger.Nop()).ServeHTTP(rec, req)
	body = decode(t, rec)
	if rec.Code != http.StatusInternalServerError || body["reason"] != "server_error" {
		t.Fatalf("unexpected server error response %d %v", rec.Code, body)
	}
}
