package handlers

import (
	"net/http"
	"time"

	"formation-booking/internal/logger"
	"formation-booking/internal/models"
	"formation-booking/internal/redis"

	"github.com/google/uuid"
)

// TransactionHandler обрабатывает оформление и жизненный цикл оплаты
type TransactionHandler struct {
	checkout CheckoutService
	producer EventProducer
	cache    RedisClient
	cacheTTL time.Duration
	log      *logger.Logger
}

// NewTransactionHandler создает обработчик транзакций
func NewTransactionHandler(checkout CheckoutService, producer EventProducer, cache RedisClient, cacheTTL time.Duration, log *logger.Logger) *TransactionHandler {
	return &TransactionHandler{
		checkout: checkout,
		producer: producer,
		cache:    cache,
		cacheTTL: cacheTTL,
		log:      log,
	}
}

// CreateTransaction оформляет раздел корзины пользователя
func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeErrorResponse(w, http.StatusUnauthorized, "Missing or invalid user")
		return
	}

	var req models.CreateTransactionRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	scope, err := models.ParseCartScope(string(req.Scope))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	transaction, err := h.checkout.CreateTransaction(r.Context(), userID, scope)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create transaction")
		return
	}

	// Транзакция уже создана, ошибки публикации и кеша клиенту не возвращаются
	if err := h.producer.PublishTransactionCreated(transaction); err != nil {
		h.log.WithError(err).Error("Failed to publish transaction created event")
	}
	h.store(r, transaction)

	writeJSONResponse(w, http.StatusCreated, transaction)
}

// GetTransaction возвращает транзакцию, сначала из кеша
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID, err := uuidParam(r, "transactionID")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	var cached models.Transaction
	if err := h.cache.Get(r.Context(), transactionCacheKey(transactionID), &cached); err == nil {
		h.log.WithField("transaction_id", transactionID).Debug("Transaction retrieved from cache")
		writeJSONResponse(w, http.StatusOK, &cached)
		return
	}

	transaction, err := h.checkout.GetTransaction(r.Context(), transactionID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get transaction")
		return
	}

	h.store(r, transaction)
	writeJSONResponse(w, http.StatusOK, transaction)
}

// ListTransactions возвращает транзакции с фильтром по статусу и пользователю
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var filter models.TransactionFilter
	if s := query.Get("status"); s != "" {
		status, err := models.ParseTransactionStatus(s)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = &status
	}
	if u := query.Get("user_id"); u != "" {
		userID, err := uuid.Parse(u)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid user ID")
			return
		}
		filter.UserID = &userID
	}

	limit, offset := parsePagination(r)
	transactions, err := h.checkout.ListTransactions(r.Context(), filter, limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list transactions")
		return
	}

	writeJSONResponse(w, http.StatusOK, transactions)
}

// ConfirmPayment подтверждает оплату PENDING транзакции
func (h *TransactionHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	transactionID, err := uuidParam(r, "transactionID")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	var req models.ConfirmPaymentRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	transaction, err := h.checkout.ConfirmPayment(r.Context(), transactionID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to confirm payment")
		return
	}

	h.statusChanged(r, transaction, models.TransactionStatusPending)
	writeJSONResponse(w, http.StatusOK, transaction)
}

// RefundPayment возвращает оплату подтверждённой транзакции
func (h *TransactionHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	transactionID, err := uuidParam(r, "transactionID")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	var req models.RefundPaymentRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	transaction, err := h.checkout.RefundPayment(r.Context(), transactionID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to refund payment")
		return
	}

	h.statusChanged(r, transaction, models.TransactionStatusConfirmed)
	writeJSONResponse(w, http.StatusOK, transaction)
}

func (h *TransactionHandler) statusChanged(r *http.Request, transaction *models.Transaction, oldStatus models.TransactionStatus) {
	if err := h.producer.PublishTransactionStatusChanged(transaction, oldStatus); err != nil {
		h.log.WithError(err).Error("Failed to publish transaction status changed event")
	}

	if err := h.cache.Delete(r.Context(), transactionCacheKey(transaction.ID)); err != nil {
		h.log.WithError(err).Error("Failed to invalidate transaction cache")
	}

	h.log.WithFields(map[string]interface{}{
		"transaction_id": transaction.ID,
		"old_status":     oldStatus,
		"new_status":     transaction.Status,
	}).Info("Transaction status updated")
}

func (h *TransactionHandler) store(r *http.Request, transaction *models.Transaction) {
	if err := h.cache.Set(r.Context(), transactionCacheKey(transaction.ID), transaction, h.cacheTTL); err != nil {
		h.log.WithError(err).Error("Failed to cache transaction")
	}
}

func transactionCacheKey(transactionID uuid.UUID) string {
	return redis.GenerateKey(redis.KeyPrefixTransaction, transactionID.String())
}
