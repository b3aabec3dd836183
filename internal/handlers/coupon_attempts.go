package handlers

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"formation-booking/internal/logger"
	"formation-booking/internal/models"
)

// AttemptGuard учитывает неудачные попытки применить или проверить купон
type AttemptGuard interface {
	Enabled() bool
	MaxFailures() int64
	Window() time.Duration
	Check(ctx context.Context, caller string) (*models.CouponAttemptStatus, error)
	RecordFailure(ctx context.Context, caller string) (*models.CouponAttemptStatus, error)
	Reset(ctx context.Context, caller string) error
}

// CouponAttemptHandler показывает вызывающему его счётчик неудачных попыток
type CouponAttemptHandler struct {
	guard AttemptGuard
	log   *logger.Logger
}

// NewCouponAttemptHandler создает обработчик статуса попыток
func NewCouponAttemptHandler(guard AttemptGuard, log *logger.Logger) *CouponAttemptHandler {
	return &CouponAttemptHandler{guard: guard, log: log}
}

// Status возвращает число неудач и время сброса окна для пользователя или IP
func (h *CouponAttemptHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.guard == nil || !h.guard.Enabled() {
		writeJSONResponse(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}

	caller := attemptCaller(r)
	status, err := h.guard.Check(r.Context(), caller)
	if err != nil {
		h.log.WithError(err).Error("Failed to read coupon attempts")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to read coupon attempts")
		return
	}

	resp := map[string]interface{}{
		"enabled":        true,
		"caller":         caller,
		"max_failures":   h.guard.MaxFailures(),
		"window_seconds": int64(h.guard.Window() / time.Second),
		"failures":       status.Failures,
		"remaining":      status.Remaining,
		"blocked":        status.Blocked,
	}
	if status.ResetAt != nil {
		resp["reset_at"] = status.ResetAt.UTC().Format(time.RFC3339)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// GuardCouponAttempts отклоняет запрос с 429, пока вызывающий заблокирован
// после серии неудачных попыток. Сам запрос счётчик не увеличивает: неудачи
// учитывает CouponHandler по результату операции.
func GuardCouponAttempts(guard AttemptGuard, log *logger.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if guard == nil || !guard.Enabled() {
			next(w, r)
			return
		}

		status, err := guard.Check(r.Context(), attemptCaller(r))
		if err != nil {
			log.WithError(err).Error("Coupon attempt guard failed")
			writeErrorResponse(w, http.StatusInternalServerError, "Coupon attempt guard error")
			return
		}

		setAttemptHeaders(w, guard.MaxFailures(), status)
		if status.Blocked {
			writeErrorResponse(w, http.StatusTooManyRequests, "Too many failed coupon attempts")
			return
		}

		next(w, r)
	}
}

func setAttemptHeaders(w http.ResponseWriter, limit int64, status *models.CouponAttemptStatus) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(status.Remaining, 10))
	if status.ResetAt != nil {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(status.ResetAt.Unix(), 10))
	}
}

// attemptCaller определяет, чей счётчик вести: X-User-ID, иначе IP клиента
func attemptCaller(r *http.Request) string {
	if userID := strings.TrimSpace(r.Header.Get(headerUserID)); userID != "" {
		return "user:" + userID
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
