package handlers

import (
	"net/http"

	"formation-booking/internal/logger"
	"formation-booking/internal/models"
	"formation-booking/internal/redis"

	"github.com/google/uuid"
)

// CartHandler обрабатывает корзину текущего пользователя
type CartHandler struct {
	cart     CartService
	producer EventProducer
	cache    RedisClient
	log      *logger.Logger
}

// NewCartHandler создает обработчик корзины
func NewCartHandler(cart CartService, producer EventProducer, cache RedisClient, log *logger.Logger) *CartHandler {
	return &CartHandler{cart: cart, producer: producer, cache: cache, log: log}
}

// AddItem добавляет предложение в корзину с зафиксированными ценами
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeErrorResponse(w, http.StatusUnauthorized, "Missing or invalid user")
		return
	}

	var req models.AddCartItemRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := h.cart.AddItem(r.Context(), userID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to add cart item")
		return
	}

	writeJSONResponse(w, http.StatusCreated, item)
}

// RemoveItem удаляет позицию и освобождает купон пользователя
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeErrorResponse(w, http.StatusUnauthorized, "Missing or invalid user")
		return
	}
	itemID, err := uuidParam(r, "itemID")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid cart item ID")
		return
	}

	removal, err := h.cart.RemoveItem(r.Context(), userID, itemID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to remove cart item")
		return
	}

	h.couponsReleased(r, userID, removal.ReleasedCoupons)
	writeJSONResponse(w, http.StatusOK, removal)
}

// GetCart возвращает страницу раздела корзины
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, scope, ok := h.userAndScope(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r)
	page, err := h.cart.GetCart(r.Context(), userID, scope, limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get cart")
		return
	}

	writeJSONResponse(w, http.StatusOK, page)
}

// ClearCart очищает раздел корзины
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, scope, ok := h.userAndScope(w, r)
	if !ok {
		return
	}

	removal, err := h.cart.ClearCart(r.Context(), userID, scope)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to clear cart")
		return
	}

	h.couponsReleased(r, userID, removal.ReleasedCoupons)
	writeJSONResponse(w, http.StatusOK, removal)
}

// couponsReleased сообщает об освобождённых использованиях купонов и
// сбрасывает их кеш: счётчик использований уже уменьшен в БД.
func (h *CartHandler) couponsReleased(r *http.Request, userID uuid.UUID, couponIDs []uuid.UUID) {
	for _, couponID := range couponIDs {
		if err := h.producer.PublishCouponEvent(models.EventTypeCouponReleased, models.CouponEventData{
			CouponID: couponID,
			UserID:   &userID,
		}); err != nil {
			h.log.WithError(err).WithField("coupon_id", couponID).Error("Failed to publish coupon released event")
		}

		cacheKey := redis.GenerateKey(redis.KeyPrefixCoupon, couponID.String())
		if err := h.cache.Delete(r.Context(), cacheKey); err != nil {
			h.log.WithError(err).Error("Failed to invalidate coupon cache")
		}
	}
}

func (h *CartHandler) userAndScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, models.CartScope, bool) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeErrorResponse(w, http.StatusUnauthorized, "Missing or invalid user")
		return uuid.Nil, "", false
	}

	scope, err := models.ParseCartScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return uuid.Nil, "", false
	}
	return userID, scope, true
}
