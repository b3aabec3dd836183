package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus представляет статус транзакции
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusConfirmed TransactionStatus = "CONFIRMED"
	TransactionStatusRefunded  TransactionStatus = "REFUNDED"
	TransactionStatusExpired   TransactionStatus = "EXPIRED"
)

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:   {TransactionStatusConfirmed, TransactionStatusExpired},
	TransactionStatusConfirmed: {TransactionStatusRefunded},
}

// CanTransitionTo проверяет допустимость перехода между статусами.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transactionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s TransactionStatus) IsTerminal() bool {
	return len(transactionTransitions[s]) == 0
}

// ParseTransactionStatus разбирает статус из строки.
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch status := TransactionStatus(s); status {
	case TransactionStatusPending, TransactionStatusConfirmed, TransactionStatusRefunded, TransactionStatusExpired:
		return status, nil
	default:
		return "", fmt.Errorf("invalid transaction status %q", s)
	}
}

// PaymentMethod представляет способ оплаты
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentMethodCheck        PaymentMethod = "CHECK"
)

// ParsePaymentMethod разбирает способ оплаты; пустая строка означает CASH.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch method := PaymentMethod(s); method {
	case "":
		return PaymentMethodCash, nil
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodCreditCard, PaymentMethodCheck:
		return method, nil
	default:
		return "", fmt.Errorf("invalid payment method %q", s)
	}
}

// UserSnapshot фиксирует данные пользователя на момент оформления
type UserSnapshot struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Phone    string    `json:"phone"`
}

// LineItem фиксирует позицию транзакции: данные каталога на момент
// оформления и цены из корзины.
type LineItem struct {
	OfferingID   uuid.UUID       `json:"offering_id"`
	OfferingKind OfferingKind    `json:"offering_kind"`
	Title        string          `json:"title"`
	OldPrice     decimal.Decimal `json:"old_price"`
	NewPrice     decimal.Decimal `json:"new_price"`
	CouponCode   *string         `json:"coupon_code,omitempty"`
	StartDate    *time.Time      `json:"start_date,omitempty"`
}

// SessionEventSnapshot фиксирует сессию-событие раздела session_event
type SessionEventSnapshot struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Type      string     `json:"type"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Location  string     `json:"location"`
}

// Transaction представляет оформленную покупку
type Transaction struct {
	ID               uuid.UUID              `json:"id" db:"id"`
	User             UserSnapshot           `json:"user" db:"user_snapshot"`
	LineItems        []LineItem             `json:"line_items" db:"line_items"`
	SessionEvents    []SessionEventSnapshot `json:"session_events" db:"session_events"`
	Scope            CartScope              `json:"scope" db:"scope"`
	TotalPrice       decimal.Decimal        `json:"total_price" db:"total_price"`
	Currency         string                 `json:"currency" db:"currency"`
	PaymentMethod    PaymentMethod          `json:"payment_method" db:"payment_method"`
	Status           TransactionStatus      `json:"status" db:"status"`
	AdminNotes       *string                `json:"admin_notes,omitempty" db:"admin_notes"`
	PaymentReference *string                `json:"payment_reference,omitempty" db:"payment_reference"`
	ReceiptURL       *string                `json:"receipt_url,omitempty" db:"receipt_url"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at" db:"updated_at"`
	ConfirmedAt      *time.Time             `json:"confirmed_at,omitempty" db:"confirmed_at"`
	ExpiresAt        time.Time              `json:"expires_at" db:"expires_at"`
}

// HasStartedItem сообщает, началась ли хотя бы одна позиция до today.
// Достаточно одной позиции, а не всех.
func (t *Transaction) HasStartedItem(today time.Time) bool {
	for _, item := range t.LineItems {
		if item.StartDate != nil && DayBefore(*item.StartDate, today) {
			return true
		}
	}
	for _, se := range t.SessionEvents {
		if se.StartDate != nil && DayBefore(*se.StartDate, today) {
			return true
		}
	}
	return false
}

// OfferingIDs возвращает уникальные предложения транзакции для записи участника.
func (t *Transaction) OfferingIDs() []uuid.UUID {
	var ids []uuid.UUID
	for _, item := range t.LineItems {
		if !containsID(ids, item.OfferingID) {
			ids = append(ids, item.OfferingID)
		}
	}
	for _, se := range t.SessionEvents {
		if !containsID(ids, se.ID) {
			ids = append(ids, se.ID)
		}
	}
	return ids
}

// EarliestStart возвращает минимальную дату начала среди позиций.
func EarliestStart(items []LineItem) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, item := range items {
		if item.StartDate == nil {
			continue
		}
		if !found || DayBefore(*item.StartDate, earliest) {
			earliest = *item.StartDate
			found = true
		}
	}
	return earliest, found
}

// ConfirmPaymentRequest представляет подтверждение оплаты администратором
type ConfirmPaymentRequest struct {
	PaymentMethod    PaymentMethod `json:"payment_method"`
	AdminNotes       *string       `json:"admin_notes,omitempty"`
	PaymentReference *string       `json:"payment_reference,omitempty"`
}

// RefundPaymentRequest представляет возврат оплаты
type RefundPaymentRequest struct {
	AdminNotes *string `json:"admin_notes,omitempty"`
}

// CreateTransactionRequest представляет оформление раздела корзины
type CreateTransactionRequest struct {
	Scope CartScope `json:"scope"`
}

// TransactionFilter ограничивает выборку транзакций
type TransactionFilter struct {
	Status *TransactionStatus
	UserID *uuid.UUID
}
