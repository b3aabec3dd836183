package scheduler

import (
	"context"
	"time"

	"formation-booking/internal/logger"
	"formation-booking/internal/models"

	"github.com/google/uuid"
)

// Имена задач для регистрации и ручного запуска.
const (
	JobExpireTransactions = "expire-transactions"
	JobOfferingStatus     = "offering-status"
	JobTokenSweep         = "token-sweep"
)

// TransactionStore отдаёт ожидающие оплаты транзакции и истекает их.
type TransactionStore interface {
	ListPendingTransactions(ctx context.Context) ([]*models.Transaction, error)
	ExpireTransaction(ctx context.Context, transactionID uuid.UUID) (bool, error)
}

// OfferingStore отдаёт каталог и сохраняет пересчитанный статус.
type OfferingStore interface {
	AllOfferings(ctx context.Context) ([]*models.Offering, error)
	UpdateOfferingStatus(ctx context.Context, offeringID uuid.UUID, status models.OfferingStatus) (bool, error)
}

// TokenStore гасит истёкшие токены сброса пароля.
type TokenStore interface {
	DeactivateExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// StatusPublisher публикует смену статуса транзакции.
type StatusPublisher interface {
	PublishTransactionStatusChanged(tx *models.Transaction, oldStatus models.TransactionStatus) error
}

// Jobs содержит ежедневные задачи согласованности.
type Jobs struct {
	transactions TransactionStore
	offerings    OfferingStore
	tokens       TokenStore
	publisher    StatusPublisher
	loc          *time.Location
	log          *logger.Logger
	now          func() time.Time
}

// NewJobs создаёт набор задач. publisher может быть nil.
func NewJobs(transactions TransactionStore, offerings OfferingStore, tokens TokenStore, publisher StatusPublisher, loc *time.Location, log *logger.Logger) *Jobs {
	if loc == nil {
		loc = time.Local
	}
	return &Jobs{
		transactions: transactions,
		offerings:    offerings,
		tokens:       tokens,
		publisher:    publisher,
		loc:          loc,
		log:          log,
		now:          time.Now,
	}
}

func (j *Jobs) today() time.Time {
	return models.Day(j.now().In(j.loc))
}

// ExpireStaleTransactions истекает PENDING транзакции, у которых хотя бы одна
// позиция уже началась. Ошибка по одной транзакции не останавливает обход.
func (j *Jobs) ExpireStaleTransactions(ctx context.Context) (int, error) {
	pending, err := j.transactions.ListPendingTransactions(ctx)
	if err != nil {
		return 0, err
	}

	today := j.today()
	expired := 0
	for _, tx := range pending {
		if !tx.HasStartedItem(today) {
			continue
		}

		ok, err := j.transactions.ExpireTransaction(ctx, tx.ID)
		if err != nil {
			j.log.WithError(err).WithField("transaction_id", tx.ID).Error("Failed to expire transaction")
			continue
		}
		if !ok {
			continue
		}
		expired++

		if j.publisher != nil {
			tx.Status = models.TransactionStatusExpired
			if err := j.publisher.PublishTransactionStatusChanged(tx, models.TransactionStatusPending); err != nil {
				j.log.WithError(err).WithField("transaction_id", tx.ID).Warn("Failed to publish transaction expiry")
			}
		}
	}

	j.log.WithFields(map[string]interface{}{
		"pending": len(pending),
		"expired": expired,
	}).Info("Marked pending transactions as EXPIRED")
	return expired, nil
}

// RecomputeOfferingStatus сохраняет статус, выведенный из дат, для каждого предложения.
func (j *Jobs) RecomputeOfferingStatus(ctx context.Context) (int, error) {
	offerings, err := j.offerings.AllOfferings(ctx)
	if err != nil {
		return 0, err
	}

	today := j.today()
	updated := 0
	for _, o := range offerings {
		status := o.DerivedStatus(today)
		if status == o.Status {
			continue
		}

		changed, err := j.offerings.UpdateOfferingStatus(ctx, o.ID, status)
		if err != nil {
			j.log.WithError(err).WithField("offering_id", o.ID).Error("Failed to update offering status")
			continue
		}
		if changed {
			updated++
			j.log.WithFields(map[string]interface{}{
				"offering_id": o.ID,
				"title":       o.Title,
				"status":      status,
			}).Debug("Offering status updated")
		}
	}

	j.log.WithField("updated", updated).Info("Completed offering status update")
	return updated, nil
}

// SweepResetTokens гасит истёкшие токены сброса пароля.
func (j *Jobs) SweepResetTokens(ctx context.Context) (int64, error) {
	count, err := j.tokens.DeactivateExpiredTokens(ctx, j.now())
	if err != nil {
		return 0, err
	}
	j.log.WithField("count", count).Info("Password reset tokens cleaned up")
	return count, nil
}

// RegisterAll регистрирует задачи в планировщике с cron-выражениями из конфигурации.
func (j *Jobs) RegisterAll(s *Scheduler, expireSpec, statusSpec, tokensSpec string) error {
	if err := s.Register(JobExpireTransactions, expireSpec, func(ctx context.Context) error {
		_, err := j.ExpireStaleTransactions(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := s.Register(JobOfferingStatus, statusSpec, func(ctx context.Context) error {
		_, err := j.RecomputeOfferingStatus(ctx)
		return err
	}); err != nil {
		return err
	}
	return s.Register(JobTokenSweep, tokensSpec, func(ctx context.Context) error {
		_, err := j.SweepResetTokens(ctx)
		return err
	})
}
