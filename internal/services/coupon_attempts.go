package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"formation-booking/internal/config"
	"formation-booking/internal/logger"
	"formation-booking/internal/models"
	"formation-booking/internal/redis"
)

// CouponAttemptGuard считает неудачные попытки применить или проверить купон.
// После maxFailures неудач в окне вызывающий блокируется до истечения окна.
// Успешное применение купона обнуляет счётчик.
type CouponAttemptGuard struct {
	store       attemptStore
	log         *logger.Logger
	enabled     bool
	maxFailures int64
	window      time.Duration
	prefix      string
	now         func() time.Time
}

type attemptStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	GetInt(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
}

// NewCouponAttemptGuard создаёт счётчик неудачных попыток. Без Redis или при
// выключенной настройке Check всегда пропускает.
func NewCouponAttemptGuard(redisClient *redis.Client, log *logger.Logger, cfg *config.CouponAttemptsConfig) *CouponAttemptGuard {
	if redisClient == nil || cfg == nil || !cfg.Enabled || cfg.MaxFailures <= 0 || cfg.WindowSeconds <= 0 {
		return &CouponAttemptGuard{log: log, now: time.Now}
	}
	return newCouponAttemptGuard(redisClient, log, cfg)
}

func newCouponAttemptGuard(store attemptStore, log *logger.Logger, cfg *config.CouponAttemptsConfig) *CouponAttemptGuard {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "coupon-attempts"
	}
	return &CouponAttemptGuard{
		store:       store,
		log:         log,
		enabled:     true,
		maxFailures: int64(cfg.MaxFailures),
		window:      time.Duration(cfg.WindowSeconds) * time.Second,
		prefix:      prefix,
		now:         time.Now,
	}
}

// Enabled сообщает, ведётся ли учёт попыток.
func (g *CouponAttemptGuard) Enabled() bool { return g.enabled }

// MaxFailures возвращает число неудач, после которого вызывающий блокируется.
func (g *CouponAttemptGuard) MaxFailures() int64 { return g.maxFailures }

// Window возвращает длительность окна.
func (g *CouponAttemptGuard) Window() time.Duration { return g.window }

// Check возвращает состояние счётчика, не изменяя его.
func (g *CouponAttemptGuard) Check(ctx context.Context, caller string) (*models.CouponAttemptStatus, error) {
	if !g.enabled {
		return &models.CouponAttemptStatus{}, nil
	}

	key := g.key(caller)
	failures, err := g.store.GetInt(ctx, key)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return g.status(ctx, key, 0), nil
		}
		return nil, fmt.Errorf("failed to read coupon attempts: %w", err)
	}
	return g.status(ctx, key, failures), nil
}

// RecordFailure учитывает неудачную попытку. Окно отсчитывается от первой
// неудачи и не продлевается последующими.
func (g *CouponAttemptGuard) RecordFailure(ctx context.Context, caller string) (*models.CouponAttemptStatus, error) {
	if !g.enabled {
		return &models.CouponAttemptStatus{}, nil
	}

	key := g.key(caller)
	failures, err := g.store.Incr(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to record coupon attempt: %w", err)
	}
	if failures == 1 {
		if err := g.store.Expire(ctx, key, g.window); err != nil {
			g.log.WithError(err).WithField("key", key).Warn("Failed to set coupon attempt window")
		}
	}

	status := g.status(ctx, key, failures)
	if failures == g.maxFailures {
		g.log.WithFields(map[string]interface{}{
			"caller":   caller,
			"failures": failures,
		}).Warn("Coupon attempts blocked")
	}
	return status, nil
}

// Reset обнуляет счётчик вызывающего.
func (g *CouponAttemptGuard) Reset(ctx context.Context, caller string) error {
	if !g.enabled {
		return nil
	}
	if err := g.store.Delete(ctx, g.key(caller)); err != nil {
		return fmt.Errorf("failed to reset coupon attempts: %w", err)
	}
	return nil
}

func (g *CouponAttemptGuard) status(ctx context.Context, key string, failures int64) *models.CouponAttemptStatus {
	status := &models.CouponAttemptStatus{
		Failures:  failures,
		Remaining: g.maxFailures - failures,
		Blocked:   failures >= g.maxFailures,
	}
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	if failures == 0 {
		return status
	}

	ttl, err := g.store.TTL(ctx, key)
	if err != nil {
		g.log.WithError(err).WithField("key", key).Warn("Failed to read coupon attempt window")
		return status
	}
	if ttl > 0 {
		resetAt := g.now().Add(ttl)
		status.ResetAt = &resetAt
	}
	return status
}

func (g *CouponAttemptGuard) key(caller string) string {
	return redis.GenerateKey(g.prefix, caller)
}
