package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"formation-booking/internal/apperror"
	"formation-booking/internal/config"
	"formation-booking/internal/database"
	"formation-booking/internal/logger"
	"formation-booking/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

const transactionColumns = `id, user_snapshot, line_items, session_events, scope, total_price, currency, payment_method, status, admin_notes, payment_reference, receipt_url, created_at, updated_at, confirmed_at, expires_at`

// CheckoutService превращает раздел корзины в транзакцию и ведёт
// транзакцию по статусам PENDING -> CONFIRMED -> REFUNDED.
type CheckoutService struct {
	db                *database.DB
	catalog           *CatalogService
	users             *UserService
	cart              *CartService
	notifier          Notifier
	log               *logger.Logger
	now               func() time.Time
	currency          string
	defaultExpiryDays int
}

// NewCheckoutService создаёт сервис оформления. notifier может быть nil.
func NewCheckoutService(db *database.DB, catalog *CatalogService, users *UserService, cart *CartService, notifier Notifier, log *logger.Logger, cfg *config.CheckoutConfig) *CheckoutService {
	s := &CheckoutService{
		db:                db,
		catalog:           catalog,
		users:             users,
		cart:              cart,
		notifier:          notifier,
		log:               log,
		now:               time.Now,
		currency:          "DT",
		defaultExpiryDays: 7,
	}
	if cfg != nil {
		if cfg.Currency != "" {
			s.currency = cfg.Currency
		}
		if cfg.DefaultExpiryDays > 0 {
			s.defaultExpiryDays = cfg.DefaultExpiryDays
		}
	}
	return s
}

// CreateTransaction оформляет раздел корзины. Снимок пользователя и позиций,
// создание транзакции и очистка раздела выполняются одной транзакцией БД.
func (s *CheckoutService) CreateTransaction(ctx context.Context, userID uuid.UUID, scope models.CartScope) (created *models.Transaction, err error) {
	ctx, span := startSpan(ctx, "CheckoutService.CreateTransaction",
		attribute.String("user.id", userID.String()), attribute.String("cart.scope", string(scope)))
	defer func() { endSpan(span, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := database.LockUser(ctx, tx, userID); err != nil {
		return nil, err
	}

	user, err := s.users.GetUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	items, err := s.cart.LockedItems(ctx, tx, userID, scope)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, models.ErrEmptyCart
	}

	lineItems, sessionEvents, err := s.snapshotItems(ctx, tx, items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt, ok := models.EarliestStart(lineItems)
	if !ok {
		expiresAt = models.Day(now).AddDate(0, 0, s.defaultExpiryDays)
	}

	transaction := &models.Transaction{
		ID:            uuid.New(),
		User:          user.Snapshot(),
		LineItems:     lineItems,
		SessionEvents: sessionEvents,
		Scope:         scope,
		TotalPrice:    models.CartTotal(items),
		Currency:      s.currency,
		PaymentMethod: models.PaymentMethodCash,
		Status:        models.TransactionStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     models.Day(expiresAt),
	}

	userJSON, lineJSON, eventsJSON, err := marshalSnapshots(transaction)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, user_snapshot, line_items, session_events, scope, total_price,
			currency, payment_method, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, transaction.ID, userID, userJSON, lineJSON, eventsJSON, transaction.Scope, transaction.TotalPrice,
		transaction.Currency, transaction.PaymentMethod, transaction.Status, transaction.CreatedAt,
		transaction.UpdatedAt, transaction.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID.String())
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to clear checked out items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	addCounter(ctx, transactionCreatedCounter, attribute.String("cart.scope", string(scope)))
	s.log.WithFields(map[string]interface{}{
		"transaction_id": transaction.ID,
		"user_id":        userID,
		"scope":          scope,
		"items":          len(lineItems),
		"total":          transaction.TotalPrice.String(),
	}).Info("Transaction created")

	s.notify(ctx, transaction, s.notifierSendPending)
	return transaction, nil
}

// snapshotItems копирует текущие данные каталога в позиции транзакции.
// Цены берутся из корзины, а не из каталога.
func (s *CheckoutService) snapshotItems(ctx context.Context, q database.Querier, items []*models.CartItem) ([]models.LineItem, []models.SessionEventSnapshot, error) {
	lineItems := make([]models.LineItem, 0, len(items))
	sessionEvents := []models.SessionEventSnapshot{}
	seen := map[uuid.UUID]bool{}

	for _, item := range items {
		offering, err := s.catalog.GetOffering(ctx, q, item.OfferingID())
		if err != nil {
			return nil, nil, err
		}

		start := item.DateDebut
		if offering.StartDate != nil {
			start = *offering.StartDate
		}
		lineItems = append(lineItems, models.LineItem{
			OfferingID:   offering.ID,
			OfferingKind: offering.Kind,
			Title:        offering.Title,
			OldPrice:     item.OriginalPrice,
			NewPrice:     item.EffectivePrice(),
			CouponCode:   item.AppliedCouponCode,
			StartDate:    &start,
		})

		if item.SessionEventID == nil || seen[*item.SessionEventID] {
			continue
		}
		seen[*item.SessionEventID] = true

		event := offering
		if event.ID != *item.SessionEventID {
			if event, err = s.catalog.GetOffering(ctx, q, *item.SessionEventID); err != nil {
				return nil, nil, err
			}
		}
		sessionEvents = append(sessionEvents, models.SessionEventSnapshot{
			ID:        event.ID,
			Title:     event.Title,
			Type:      event.EventType,
			StartDate: event.StartDate,
			EndDate:   event.EndDate,
			Location:  event.Location,
		})
	}
	return lineItems, sessionEvents, nil
}

// ConfirmPayment переводит транзакцию PENDING в CONFIRMED и записывает
// пользователя участником каждого предложения.
func (s *CheckoutService) ConfirmPayment(ctx context.Context, transactionID uuid.UUID, req *models.ConfirmPaymentRequest) (confirmed *models.Transaction, err error) {
	ctx, span := startSpan(ctx, "CheckoutService.ConfirmPayment", attribute.String("transaction.id", transactionID.String()))
	defer func() { endSpan(span, err) }()

	if req == nil {
		req = &models.ConfirmPaymentRequest{}
	}
	method := req.PaymentMethod
	if method == "" {
		method = models.PaymentMethodCash
	}
	if _, err := models.ParsePaymentMethod(string(method)); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	transaction, err := s.getTransaction(ctx, tx, transactionID, true)
	if err != nil {
		return nil, err
	}
	if !transaction.Status.CanTransitionTo(models.TransactionStatusConfirmed) {
		return nil, apperror.InvalidState(fmt.Sprintf("cannot confirm transaction in status %s", transaction.Status), nil)
	}

	now := s.now()
	if err := s.compareAndSetStatus(ctx, tx, transaction, models.TransactionStatusConfirmed, `
		UPDATE transactions
		SET status = $1, payment_method = $2, admin_notes = COALESCE($3, admin_notes),
			payment_reference = COALESCE($4, payment_reference), confirmed_at = $5, updated_at = $5
		WHERE id = $6 AND status = $7
	`, models.TransactionStatusConfirmed, method, req.AdminNotes, req.PaymentReference, now, transaction.ID, transaction.Status); err != nil {
		return nil, err
	}

	for _, offeringID := range transaction.OfferingIDs() {
		if _, err := s.catalog.EnrollParticipant(ctx, tx, offeringID, transaction.User.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment confirmation: %w", err)
	}

	transaction.Status = models.TransactionStatusConfirmed
	transaction.PaymentMethod = method
	if req.AdminNotes != nil {
		transaction.AdminNotes = req.AdminNotes
	}
	if req.PaymentReference != nil {
		transaction.PaymentReference = req.PaymentReference
	}
	transaction.ConfirmedAt = &now
	transaction.UpdatedAt = now

	s.logTransition(ctx, transaction, models.TransactionStatusPending)
	s.notify(ctx, transaction, s.notifierSendConfirmation)
	return transaction, nil
}

// RefundPayment переводит подтверждённую транзакцию в REFUNDED.
// Записи участников остаются без изменений.
func (s *CheckoutService) RefundPayment(ctx context.Context, transactionID uuid.UUID, req *models.RefundPaymentRequest) (refunded *models.Transaction, err error) {
	ctx, span := startSpan(ctx, "CheckoutService.RefundPayment", attribute.String("transaction.id", transactionID.String()))
	defer func() { endSpan(span, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	transaction, err := s.getTransaction(ctx, tx, transactionID, true)
	if err != nil {
		return nil, err
	}
	if !transaction.Status.CanTransitionTo(models.TransactionStatusRefunded) {
		return nil, apperror.InvalidState(fmt.Sprintf("cannot refund transaction in status %s", transaction.Status), nil)
	}

	var notes *string
	if req != nil {
		notes = req.AdminNotes
	}

	now := s.now()
	if err := s.compareAndSetStatus(ctx, tx, transaction, models.TransactionStatusRefunded, `
		UPDATE transactions
		SET status = $1, admin_notes = COALESCE($2, admin_notes), updated_at = $3
		WHERE id = $4 AND status = $5
	`, models.TransactionStatusRefunded, notes, now, transaction.ID, transaction.Status); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit refund: %w", err)
	}

	transaction.Status = models.TransactionStatusRefunded
	if notes != nil {
		transaction.AdminNotes = notes
	}
	transaction.UpdatedAt = now

	s.logTransition(ctx, transaction, models.TransactionStatusConfirmed)
	return transaction, nil
}

// ExpireTransaction переводит PENDING транзакцию в EXPIRED. Возвращает
// false, если транзакция уже покинула PENDING.
func (s *CheckoutService) ExpireTransaction(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`, models.TransactionStatusExpired, now, transactionID, models.TransactionStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to expire transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	addCounter(ctx, transitionCounter, attribute.String("transaction.status", string(models.TransactionStatusExpired)))
	s.log.WithField("transaction_id", transactionID).Info("Transaction expired")
	return true, nil
}

func (s *CheckoutService) compareAndSetStatus(ctx context.Context, tx *sql.Tx, transaction *models.Transaction, next models.TransactionStatus, query string, args ...interface{}) error {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.InvalidState(fmt.Sprintf("transaction %s changed status before %s", transaction.ID, next), nil)
	}
	return nil
}

// GetTransaction возвращает транзакцию по идентификатору.
func (s *CheckoutService) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error) {
	return s.getTransaction(ctx, s.db, transactionID, false)
}

// ListTransactions возвращает транзакции по фильтру, новые первыми.
func (s *CheckoutService) ListTransactions(ctx context.Context, filter models.TransactionFilter, limit, offset int) ([]*models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		conditions []string
		args       []interface{}
	)
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return s.queryTransactions(ctx, query, args...)
}

// ListPendingTransactions возвращает все транзакции в статусе PENDING.
func (s *CheckoutService) ListPendingTransactions(ctx context.Context) ([]*models.Transaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE status = $1 ORDER BY created_at, id`,
		models.TransactionStatusPending)
}

func (s *CheckoutService) getTransaction(ctx context.Context, q database.Querier, transactionID uuid.UUID, forUpdate bool) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	transaction, err := scanTransaction(q.QueryRowContext(ctx, query, transactionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("transaction not found", err)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return transaction, nil
}

func (s *CheckoutService) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []*models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return transactions, nil
}

func (s *CheckoutService) logTransition(ctx context.Context, transaction *models.Transaction, from models.TransactionStatus) {
	addCounter(ctx, transitionCounter, attribute.String("transaction.status", string(transaction.Status)))
	s.log.WithFields(map[string]interface{}{
		"transaction_id": transaction.ID,
		"user_id":        transaction.User.ID,
		"from":           from,
		"to":             transaction.Status,
	}).Info("Transaction status changed")
}

func (s *CheckoutService) notifierSendPending(ctx context.Context, t *models.Transaction) error {
	return s.notifier.SendPendingPaymentSummary(ctx, t)
}

func (s *CheckoutService) notifierSendConfirmation(ctx context.Context, t *models.Transaction) error {
	return s.notifier.SendConfirmation(ctx, t)
}

// notify отправляет уведомление после фиксации. Ошибка доставки не отменяет
// уже сохранённое изменение.
func (s *CheckoutService) notify(ctx context.Context, t *models.Transaction, send func(context.Context, *models.Transaction) error) {
	if s.notifier == nil {
		return
	}
	if err := send(ctx, t); err != nil {
		s.log.WithError(err).WithField("transaction_id", t.ID).Warn("Failed to send transaction notification")
	}
}

func marshalSnapshots(t *models.Transaction) (userJSON, lineJSON, eventsJSON []byte, err error) {
	if userJSON, err = json.Marshal(t.User); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal user snapshot: %w", err)
	}
	if lineJSON, err = json.Marshal(t.LineItems); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal line items: %w", err)
	}
	if eventsJSON, err = json.Marshal(t.SessionEvents); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal session events: %w", err)
	}
	return userJSON, lineJSON, eventsJSON, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	t := &models.Transaction{}
	var userJSON, lineJSON, eventsJSON []byte
	err := row.Scan(&t.ID, &userJSON, &lineJSON, &eventsJSON, &t.Scope, &t.TotalPrice, &t.Currency,
		&t.PaymentMethod, &t.Status, &t.AdminNotes, &t.PaymentReference, &t.ReceiptURL,
		&t.CreatedAt, &t.UpdatedAt, &t.ConfirmedAt, &t.ExpiresAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(userJSON, &t.User); err != nil {
		return nil, fmt.Errorf("failed to decode user snapshot: %w", err)
	}
	if err := json.Unmarshal(lineJSON, &t.LineItems); err != nil {
		return nil, fmt.Errorf("failed to decode line items: %w", err)
	}
	if len(eventsJSON) > 0 {
		if err := json.Unmarshal(eventsJSON, &t.SessionEvents); err != nil {
			return nil, fmt.Errorf("failed to decode session events: %w", err)
		}
	}
	return t, nil
}
