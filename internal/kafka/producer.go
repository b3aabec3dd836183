package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"formation-booking/internal/config"
	"formation-booking/internal/logger"
	"formation-booking/internal/models"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Producer публикует доменные события в Kafka
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	topics   *config.Topics
}

// NewProducer создаёт синхронного продюсера
func NewProducer(cfg *config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 5
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Net.DialTimeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.WithField("brokers", cfg.Brokers).Info("Kafka producer created")

	topics := cfg.Topics
	return &Producer{
		producer: producer,
		log:      log,
		topics:   &topics,
	}, nil
}

// Close закрывает продюсера
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// publishEvent публикует событие, используя его ID как ключ партиционирования
func (p *Producer) publishEvent(topic string, event models.Event) error {
	return p.publishEventWithKey(topic, event.ID.String(), event)
}

// publishEventWithKey публикует событие с заданным ключом. События одной
// сущности публикуются с её ID, чтобы сохранить порядок в партиции.
func (p *Producer) publishEventWithKey(topic, key string, event models.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message to topic %s: %w", topic, err)
	}

	p.log.WithFields(map[string]interface{}{
		"topic":      topic,
		"event_type": event.Type,
		"event_id":   event.ID,
		"partition":  partition,
		"offset":     offset,
	}).Debug("Event published")

	return nil
}

// PublishTransactionCreated публикует событие о новой транзакции
func (p *Producer) PublishTransactionCreated(tx *models.Transaction) error {
	event := models.Event{
		ID:   uuid.New(),
		Type: models.EventTypeTransactionCreated,
		Data: models.TransactionCreatedData{
			TransactionID: tx.ID,
			UserID:        tx.User.ID,
			Scope:         tx.Scope,
			TotalPrice:    tx.TotalPrice,
			Currency:      tx.Currency,
			ItemCount:     len(tx.LineItems),
		},
	}
	return p.publishEventWithKey(p.topics.Transactions, tx.ID.String(), event)
}

// PublishTransactionStatusChanged публикует смену статуса транзакции
func (p *Producer) PublishTransactionStatusChanged(tx *models.Transaction, oldStatus models.TransactionStatus) error {
	var eventType models.EventType
	switch tx.Status {
	case models.TransactionStatusConfirmed:
		eventType = models.EventTypeTransactionConfirmed
	case models.TransactionStatusRefunded:
		eventType = models.EventTypeTransactionRefunded
	case models.TransactionStatusExpired:
		eventType = models.EventTypeTransactionExpired
	default:
		return fmt.Errorf("no event for transaction status %s", tx.Status)
	}

	event := models.Event{
		ID:   uuid.New(),
		Type: eventType,
		Data: models.TransactionStatusChangedData{
			TransactionID: tx.ID,
			UserID:        tx.User.ID,
			OldStatus:     oldStatus,
			NewStatus:     tx.Status,
		},
	}
	return p.publishEventWithKey(p.topics.Transactions, tx.ID.String(), event)
}

// PublishCouponEvent публикует изменение использования купона
func (p *Producer) PublishCouponEvent(eventType models.EventType, data models.CouponEventData) error {
	event := models.Event{
		ID:   uuid.New(),
		Type: eventType,
		Data: data,
	}
	return p.publishEventWithKey(p.topics.Coupons, data.CouponID.String(), event)
}

// PublishNotification передаёт уведомление сервису доставки
func (p *Producer) PublishNotification(eventType models.EventType, data models.NotificationData) error {
	event := models.Event{
		ID:   uuid.New(),
		Type: eventType,
		Data: data,
	}
	return p.publishEventWithKey(p.topics.Notifications, data.User.ID.String(), event)
}
