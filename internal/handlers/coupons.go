package handlers

import (
	"net/http"
	"strings"
	"time"

	"formation-booking/internal/apperror"
	"formation-booking/internal/logger"
	"formation-booking/internal/models"
	"formation-booking/internal/redis"

	"github.com/google/uuid"
)

// CouponHandler обрабатывает администрирование и применение купонов
type CouponHandler struct {
	coupons  CouponService
	producer EventProducer
	cache    RedisClient
	attempts AttemptGuard
	cacheTTL time.Duration
	log      *logger.Logger
}

// NewCouponHandler создает обработчик купонов. attempts может быть nil.
func NewCouponHandler(coupons CouponService, producer EventProducer, cache RedisClient, attempts AttemptGuard, cacheTTL time.Duration, log *logger.Logger) *CouponHandler {
	return &CouponHandler{
		coupons:  coupons,
		producer: producer,
		cache:    cache,
		attempts: attempts,
		cacheTTL: cacheTTL,
		log:      log,
	}
}

// CreateCoupon создает купон
func (h *CouponHandler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req models.CouponRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	coupon, err := h.coupons.CreateOrUpdateCoupon(r.Context(), nil, &req, actorFromRequest(r))
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create coupon")
		return
	}

	writeJSONResponse(w, http.StatusCreated, coupon)
}

// UpdateCoupon заменяет параметры и список предложений купона
func (h *CouponHandler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	couponID, err := uuidParam(r, "couponID")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid coupon ID")
		return
	}

	var req models.CouponRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	coupon, err := h.coupons.CreateOrUpdateCoupon(r.Context(), &couponID, &req, actorFromRequest(r))
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update coupon")
		return
	}

	// предложения, перешедшие к этому купону, больше не значатся у прежних владельцев
	h.invalidate(r, couponID)
	for _, displaced := range coupon.DisplacedCoupons {
		h.invalidate(r, displaced)
	}
	writeJSONResponse(w, http.StatusOK, coupon)
}

// GetCoupon возвращает купон, сначала из кеша
func (h *CouponHandler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	couponID, err := uuidParam(r, "couponID")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid coupon ID")
		return
	}

	cacheKey := redis.GenerateKey(redis.KeyPrefixCoupon, couponID.String())
	var cached models.Coupon
	if err := h.cache.Get(r.Context(), cacheKey, &cached); err == nil {
		h.log.WithField("coupon_id", couponID).Debug("Coupon retrieved from cache")
		writeJSONResponse(w, http.StatusOK, &cached)
		return
	}

	coupon, err := h.coupons.GetCoupon(r.Context(), couponID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get coupon")
		return
	}

	if err := h.cache.Set(r.Context(), cacheKey, coupon, h.cacheTTL); err != nil {
		h.log.WithError(err).Warn("Failed to cache coupon")
	}
	writeJSONResponse(w, http.StatusOK, coupon)
}

// ListCoupons возвращает страницу купонов
func (h *CouponHandler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	coupons, err := h.coupons.ListCoupons(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list coupons")
		return
	}
	writeJSONResponse(w, http.StatusOK, coupons)
}

// AddOffering привязывает предложение к купону
func (h *CouponHandler) AddOffering(w http.ResponseWriter, r *http.Request) {
	couponID, offeringID, ok := h.couponAndOffering(w, r)
	if !ok {
		return
	}

	displaced, err := h.coupons.AddOffering(r.Context(), couponID, offeringID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to attach offering")
		return
	}

	h.invalidate(r, couponID)
	if displaced != nil {
		h.invalidate(r, *displaced)
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Offering attached"})
}

// RemoveOffering отвязывает предложение от купона
func (h *CouponHandler) RemoveOffering(w http.ResponseWriter, r *http.Request) {
	couponID, offeringID, ok := h.couponAndOffering(w, r)
	if !ok {
		return
	}

	if err := h.coupons.RemoveOffering(r.Context(), couponID, offeringID); err != nil {
		writeServiceError(w, h.log, err, "Failed to detach offering")
		return
	}

	h.invalidate(r, couponID)
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Offering detached"})
}

// DisableCoupon необратимо отключает купон
func (h *CouponHandler) DisableCoupon(w http.ResponseWriter, r *http.Request) {
	couponID, err := uuidParam(r, "couponID")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid coupon ID")
		return
	}

	coupon, err := h.coupons.DisableCoupon(r.Context(), couponID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to disable coupon")
		return
	}

	if err := h.producer.PublishCouponEvent(models.EventTypeCouponDisabled, models.CouponEventData{
		CouponID: coupon.ID,
		Code:     coupon.Code,
	}); err != nil {
		h.log.WithError(err).Error("Failed to publish coupon disabled event")
	}

	h.invalidate(r, couponID)
	h.log.WithField("coupon_id", couponID).Info("Coupon disabled")
	writeJSONResponse(w, http.StatusOK, coupon)
}

// ApplyCoupon расходует одно использование купона для пользователя
func (h *CouponHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeErrorResponse(w, http.StatusUnauthorized, "Missing or invalid user")
		return
	}

	var req models.ApplyCouponRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Code) == "" || req.OfferingID == uuid.Nil {
		writeErrorResponse(w, http.StatusBadRequest, "code and offering_id are required")
		return
	}

	snapshot, err := h.coupons.ApplyCoupon(r.Context(), req.Code, userID, req.OfferingID)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) || apperror.Is(err, apperror.KindInvalidState) {
			h.recordFailure(w, r)
		}
		writeServiceError(w, h.log, err, "Failed to apply coupon")
		return
	}
	h.resetAttempts(r)

	if err := h.producer.PublishCouponEvent(models.EventTypeCouponApplied, models.CouponEventData{
		CouponID:   snapshot.CouponID,
		Code:       snapshot.Code,
		UserID:     &snapshot.UserID,
		OfferingID: &snapshot.OfferingID,
	}); err != nil {
		h.log.WithError(err).Error("Failed to publish coupon applied event")
	}

	h.invalidate(r, snapshot.CouponID)
	writeJSONResponse(w, http.StatusOK, snapshot)
}

// ValidateCoupon проверяет купон без расходования
func (h *CouponHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	offeringID, err := uuid.Parse(r.URL.Query().Get("offering_id"))
	if code == "" || err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "code and offering_id are required")
		return
	}

	valid, err := h.coupons.ValidateCoupon(r.Context(), code, offeringID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to validate coupon")
		return
	}
	if !valid {
		h.recordFailure(w, r)
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"code":        code,
		"offering_id": offeringID,
		"valid":       valid,
	})
}

func (h *CouponHandler) couponAndOffering(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	couponID, err := uuidParam(r, "couponID")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid coupon ID")
		return uuid.Nil, uuid.Nil, false
	}
	offeringID, err := uuidParam(r, "offeringID")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid offering ID")
		return uuid.Nil, uuid.Nil, false
	}
	return couponID, offeringID, true
}

func (h *CouponHandler) invalidate(r *http.Request, couponID uuid.UUID) {
	cacheKey := redis.GenerateKey(redis.KeyPrefixCoupon, couponID.String())
	if err := h.cache.Delete(r.Context(), cacheKey); err != nil {
		h.log.WithError(err).Error("Failed to invalidate coupon cache")
	}
}

// recordFailure учитывает неудачную попытку вызывающего. Ошибка учёта не
// меняет ответ на сам запрос.
func (h *CouponHandler) recordFailure(w http.ResponseWriter, r *http.Request) {
	if h.attempts == nil || !h.attempts.Enabled() {
		return
	}
	status, err := h.attempts.RecordFailure(r.Context(), attemptCaller(r))
	if err != nil {
		h.log.WithError(err).Warn("Failed to record coupon attempt")
		return
	}
	setAttemptHeaders(w, h.attempts.MaxFailures(), status)
}

func (h *CouponHandler) resetAttempts(r *http.Request) {
	if h.attempts == nil || !h.attempts.Enabled() {
		return
	}
	if err := h.attempts.Reset(r.Context(), attemptCaller(r)); err != nil {
		h.log.WithError(err).Warn("Failed to reset coupon attempts")
	}
}

// actorFromRequest возвращает администратора, выполняющего изменение, если он указан
func actorFromRequest(r *http.Request) *uuid.UUID {
	id, err := userIDFromRequest(r)
	if err != nil {
		return nil
	}
	return &id
}
