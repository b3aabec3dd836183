package services

import (
	"context"

	"formation-booking/internal/logger"
	"formation-booking/internal/models"

	"github.com/google/uuid"
)

// Notifier отправляет пользователю уведомления по транзакции.
type Notifier interface {
	SendPendingPaymentSummary(ctx context.Context, tx *models.Transaction) error
	SendConfirmation(ctx context.Context, tx *models.Transaction) error
}

// NotificationPublisher публикует уведомление для сервиса доставки.
type NotificationPublisher interface {
	PublishNotification(eventType models.EventType, data models.NotificationData) error
}

// PresenceChecker сообщает, подключён ли пользователь прямо сейчас.
type PresenceChecker interface {
	IsUserActive(userID uuid.UUID) bool
}

// EventNotifier выбирает канал доставки по присутствию пользователя:
// подключённым отправляется push, остальным письмо.
type EventNotifier struct {
	publisher NotificationPublisher
	presence  PresenceChecker
	log       *logger.Logger
}

// NewEventNotifier создаёт уведомитель. presence может быть nil.
func NewEventNotifier(publisher NotificationPublisher, presence PresenceChecker, log *logger.Logger) *EventNotifier {
	return &EventNotifier{
		publisher: publisher,
		presence:  presence,
		log:       log,
	}
}

// SendPendingPaymentSummary уведомляет о созданной транзакции, ожидающей оплаты.
func (n *EventNotifier) SendPendingPaymentSummary(ctx context.Context, tx *models.Transaction) error {
	return n.send(ctx, models.EventTypeNotificationPending, tx)
}

// SendConfirmation уведомляет о подтверждённой оплате.
func (n *EventNotifier) SendConfirmation(ctx context.Context, tx *models.Transaction) error {
	return n.send(ctx, models.EventTypeNotificationConfirm, tx)
}

func (n *EventNotifier) send(_ context.Context, eventType models.EventType, tx *models.Transaction) error {
	if n == nil || n.publisher == nil {
		return nil
	}

	data := models.NotificationData{
		Channel:       n.channelFor(tx.User.ID),
		User:          tx.User,
		TransactionID: tx.ID,
		LineItems:     tx.LineItems,
		SessionEvents: tx.SessionEvents,
		Total:         tx.TotalPrice,
		Currency:      tx.Currency,
	}
	if err := n.publisher.PublishNotification(eventType, data); err != nil {
		return err
	}

	n.log.WithFields(map[string]interface{}{
		"transaction_id": tx.ID,
		"type":           eventType,
		"channel":        data.Channel,
	}).Debug("Notification queued")
	return nil
}

func (n *EventNotifier) channelFor(userID uuid.UUID) models.NotificationChannel {
	if n.presence != nil && n.presence.IsUserActive(userID) {
		return models.NotificationChannelPush
	}
	return models.NotificationChannelEmail
}
