package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestGuardCouponAttempts_DisabledPassesThrough(t *testing.T) {
	d := newTestDeps()
	d.attempts.failures = map[string]int64{"user:" + testUserID.String(): 99}
	d.coupons.valid = true

	rr := d.do(http.MethodGet, "/api/coupons/validate?code=SPRING25&offering_id="+uuid.NewString(), "", &testUserID)
	if rr.Code != http.StatusOK {
		t.Fatalf("disabled guard must not block, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatalf("disabled guard must not set headers")
	}
}

func TestGuardCouponAttempts_StoreErrorIsInternal(t *testing.T) {
	d := newTestDeps()
	d.attempts.enabled, d.attempts.max = true, 3
	d.attempts.err = errors.New("redis down")

	rr := d.do(http.MethodPost, "/api/coupons/apply", `{"code":"SPRING25","offering_id":"`+uuid.NewString()+`"}`, &testUserID)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestGuardCouponAttempts_CountersArePerCaller(t *testing.T) {
	d := newTestDeps()
	d.attempts.enabled, d.attempts.max = true, 1
	d.attempts.failures = map[string]int64{"user:" + testUserID.String(): 1}
	d.coupons.valid = true

	path := "/api/coupons/validate?code=SPRING25&offering_id=" + uuid.NewString()
	if rr := d.do(http.MethodGet, path, "", &testUserID); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("blocked user expected 429, got %d", rr.Code)
	}

	other := uuid.New()
	if rr := d.do(http.MethodGet, path, "", &other); rr.Code != http.StatusOK {
		t.Fatalf("other user expected 200, got %d", rr.Code)
	}
}

func TestCouponAttemptHandler_Status(t *testing.T) {
	d := newTestDeps()
	d.attempts.enabled, d.attempts.max = true, 5
	d.attempts.failures = map[string]int64{"user:" + testUserID.String(): 2}

	rr := d.do(http.MethodGet, "/api/coupons/attempts", "", &testUserID)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Enabled       bool   `json:"enabled"`
		Caller        string `json:"caller"`
		MaxFailures   int64  `json:"max_failures"`
		WindowSeconds int64  `json:"window_seconds"`
		Failures      int64  `json:"failures"`
		Remaining     int64  `json:"remaining"`
		Blocked       bool   `json:"blocked"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Enabled || resp.Caller != "user:"+testUserID.String() || resp.Failures != 2 || resp.Remaining != 3 || resp.Blocked {
		t.Fatalf("unexpected status: %+v", resp)
	}
	if resp.MaxFailures != 5 || resp.WindowSeconds != 900 {
		t.Fatalf("unexpected limits: %+v", resp)
	}
}

func TestCouponAttemptHandler_StatusDisabled(t *testing.T) {
	d := newTestDeps()

	rr := d.do(http.MethodGet, "/api/coupons/attempts", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp["enabled"] != false {
		t.Fatalf("expected enabled=false, body=%s", rr.Body.String())
	}
}

func TestCouponAttemptHandler_StatusError(t *testing.T) {
	d := newTestDeps()
	d.attempts.enabled, d.attempts.err = true, errors.New("redis down")

	rr := d.do(http.MethodGet, "/api/coupons/attempts", "", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestAttemptCaller(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/coupons/apply", nil)
	r.RemoteAddr = "192.168.0.7:5555"
	if caller := attemptCaller(r); caller != "ip:192.168.0.7" {
		t.Fatalf("expected ip caller, got %s", caller)
	}

	r.Header.Set("X-Forwarded-For", "10.0.0.2, 10.0.0.3")
	if caller := attemptCaller(r); caller != "ip:10.0.0.2" {
		t.Fatalf("expected first forwarded ip, got %s", caller)
	}

	r.Header.Set("X-Real-IP", "10.0.0.1")
	if caller := attemptCaller(r); caller != "ip:10.0.0.1" {
		t.Fatalf("expected real ip, got %s", caller)
	}

	r.Header.Set(headerUserID, testUserID.String())
	if caller := attemptCaller(r); caller != "user:"+testUserID.String() {
		t.Fatalf("expected user caller, got %s", caller)
	}
}
