package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType представляет тип доменного события
type EventType string

const (
	EventTypeTransactionCreated   EventType = "transaction.created"
	EventTypeTransactionConfirmed EventType = "transaction.confirmed"
	EventTypeTransactionRefunded  EventType = "transaction.refunded"
	EventTypeTransactionExpired   EventType = "transaction.expired"
	EventTypeCouponApplied        EventType = "coupon.applied"
	EventTypeCouponDisabled       EventType = "coupon.disabled"
	EventTypeCouponReleased       EventType = "coupon.released"
	EventTypeNotificationPending  EventType = "notification.pending_payment"
	EventTypeNotificationConfirm  EventType = "notification.confirmation"
)

// Event представляет событие, публикуемое в Kafka
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// TransactionStatusChangedData описывает смену статуса транзакции
type TransactionStatusChangedData struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	UserID        uuid.UUID         `json:"user_id"`
	OldStatus     TransactionStatus `json:"old_status"`
	NewStatus     TransactionStatus `json:"new_status"`
}

// TransactionCreatedData описывает новую транзакцию
type TransactionCreatedData struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	UserID        uuid.UUID       `json:"user_id"`
	Scope         CartScope       `json:"scope"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	Currency      string          `json:"currency"`
	ItemCount     int             `json:"item_count"`
}

// CouponEventData описывает изменение использования купона
type CouponEventData struct {
	CouponID   uuid.UUID  `json:"coupon_id"`
	Code       string     `json:"code"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	OfferingID *uuid.UUID `json:"offering_id,omitempty"`
}

// NotificationChannel указывает, как доставить уведомление
type NotificationChannel string

const (
	NotificationChannelEmail NotificationChannel = "email"
	NotificationChannelPush  NotificationChannel = "push"
)

// NotificationData передаётся сервису доставки уведомлений
type NotificationData struct {
	Channel       NotificationChannel    `json:"channel"`
	User          UserSnapshot           `json:"user"`
	TransactionID uuid.UUID              `json:"transaction_id"`
	LineItems     []LineItem             `json:"line_items"`
	SessionEvents []SessionEventSnapshot `json:"session_events,omitempty"`
	Total         decimal.Decimal        `json:"total"`
	Currency      string                 `json:"currency"`
}
