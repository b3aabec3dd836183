package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"formation-booking/internal/config"
	"formation-booking/internal/redis"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newAttemptGuard(t *testing.T, maxFailures int) (*CouponAttemptGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.Connect(&config.RedisConfig{Host: "127.0.0.1", Port: mr.Port()}, newTestLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	guard := NewCouponAttemptGuard(client, newTestLogger(), &config.CouponAttemptsConfig{
		Enabled:       true,
		MaxFailures:   maxFailures,
		WindowSeconds: 900,
		KeyPrefix:     "coupon-attempts",
	})
	guard.now = func() time.Time { return testNow }
	return guard, mr
}

func TestCouponAttemptGuard_DisabledWithoutRedis(t *testing.T) {
	guard := NewCouponAttemptGuard(nil, newTestLogger(), &config.CouponAttemptsConfig{Enabled: true, MaxFailures: 3, WindowSeconds: 60})
	if guard.Enabled() {
		t.Fatalf("expected guard disabled without redis")
	}

	status, err := guard.RecordFailure(context.Background(), "user:a")
	if err != nil || status.Blocked || status.Failures != 0 {
		t.Fatalf("disabled guard must not count, got %+v err=%v", status, err)
	}
	if err := guard.Reset(context.Background(), "user:a"); err != nil {
		t.Fatalf("reset on disabled guard: %v", err)
	}
}

func TestCouponAttemptGuard_BlocksAfterMaxFailures(t *testing.T) {
	guard, mr := newAttemptGuard(t, 3)
	ctx := context.Background()

	status, err := guard.Check(ctx, "user:a")
	if err != nil || status.Failures != 0 || status.Remaining != 3 || status.ResetAt != nil {
		t.Fatalf("fresh caller should have a clean window, got %+v err=%v", status, err)
	}

	for i := 1; i <= 2; i++ {
		status, err = guard.RecordFailure(ctx, "user:a")
		if err != nil || status.Blocked || status.Failures != int64(i) {
			t.Fatalf("failure %d should not block, got %+v err=%v", i, status, err)
		}
	}

	status, err = guard.RecordFailure(ctx, "user:a")
	if err != nil || !status.Blocked || status.Remaining != 0 {
		t.Fatalf("third failure should block, got %+v err=%v", status, err)
	}
	if status.ResetAt == nil || !status.ResetAt.Equal(testNow.Add(900*time.Second)) {
		t.Fatalf("expected reset at end of window, got %v", status.ResetAt)
	}

	status, err = guard.Check(ctx, "user:a")
	if err != nil || !status.Blocked {
		t.Fatalf("check should report blocked caller, got %+v err=%v", status, err)
	}

	if got, _ := mr.Get("coupon-attempts:user:a"); got != "3" {
		t.Fatalf("expected counter under prefixed key, got %q", got)
	}
}

func TestCouponAttemptGuard_WindowIsNotExtendedByLaterFailures(t *testing.T) {
	guard, mr := newAttemptGuard(t, 5)
	ctx := context.Background()

	if _, err := guard.RecordFailure(ctx, "ip:10.0.0.1"); err != nil {
		t.Fatalf("record: %v", err)
	}
	mr.FastForward(10 * time.Minute)
	if _, err := guard.RecordFailure(ctx, "ip:10.0.0.1"); err != nil {
		t.Fatalf("record: %v", err)
	}

	if ttl := mr.TTL("coupon-attempts:ip:10.0.0.1"); ttl != 5*time.Minute {
		t.Fatalf("expected window counted from first failure, ttl=%v", ttl)
	}

	mr.FastForward(5 * time.Minute)
	status, err := guard.Check(ctx, "ip:10.0.0.1")
	if err != nil || status.Failures != 0 {
		t.Fatalf("expired window should reset counter, got %+v err=%v", status, err)
	}
}

func TestCouponAttemptGuard_ResetClearsCallerOnly(t *testing.T) {
	guard, _ := newAttemptGuard(t, 1)
	ctx := context.Background()

	if _, err := guard.RecordFailure(ctx, "user:a"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := guard.RecordFailure(ctx, "user:b"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := guard.Reset(ctx, "user:a"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if status, _ := guard.Check(ctx, "user:a"); status.Blocked {
		t.Fatalf("user a should be unblocked after reset")
	}
	if status, _ := guard.Check(ctx, "user:b"); !status.Blocked {
		t.Fatalf("user b keeps its own counter")
	}
}

type failingAttemptStore struct{ err error }

func (f failingAttemptStore) Incr(context.Context, string) (int64, error) { return 0, f.err }
func (f failingAttemptStore) Expire(context.Context, string, time.Duration) error {
	return f.err
}
func (f failingAttemptStore) TTL(context.Context, string) (time.Duration, error) { return 0, f.err }
func (f failingAttemptStore) GetInt(context.Context, string) (int64, error)     { return 0, f.err }
func (f failingAttemptStore) Delete(context.Context, string) error              { return f.err }

func TestCouponAttemptGuard_StoreErrors(t *testing.T) {
	down := errors.New("connection refused")
	guard := newCouponAttemptGuard(failingAttemptStore{err: down}, newTestLogger(),
		&config.CouponAttemptsConfig{Enabled: true, MaxFailures: 3, WindowSeconds: 60})

	if _, err := guard.Check(context.Background(), "user:a"); !errors.Is(err, down) {
		t.Fatalf("expected store error from check, got %v", err)
	}
	if _, err := guard.RecordFailure(context.Background(), "user:a"); !errors.Is(err, down) {
		t.Fatalf("expected store error from record, got %v", err)
	}
	if err := guard.Reset(context.Background(), "user:a"); !errors.Is(err, down) {
		t.Fatalf("expected store error from reset, got %v", err)
	}
}
