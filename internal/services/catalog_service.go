package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"formation-booking/internal/apperror"
	"formation-booking/internal/database"
	"formation-booking/internal/logger"
	"formation-booking/internal/models"

	"github.com/google/uuid"
)

const offeringColumns = `id, kind, title, price, start_date, end_date, status, coupon_id, event_type, location, created_at, updated_at`

// CatalogService даёт доступ к формациям и сессиям-событиям и их участникам.
type CatalogService struct {
	db  *database.DB
	log *logger.Logger
	now func() time.Time
}

// NewCatalogService создаёт сервис каталога.
func NewCatalogService(db *database.DB, log *logger.Logger) *CatalogService {
	return &CatalogService{
		db:  db,
		log: log,
		now: time.Now,
	}
}

// GetOffering возвращает предложение с лениво пересчитанным статусом.
func (s *CatalogService) GetOffering(ctx context.Context, q database.Querier, offeringID uuid.UUID) (*models.Offering, error) {
	if q == nil {
		q = s.db
	}

	query := `SELECT ` + offeringColumns + ` FROM offerings WHERE id = $1`
	offering, err := scanOffering(q.QueryRowContext(ctx, query, offeringID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("offering not found", err)
		}
		return nil, fmt.Errorf("failed to get offering: %w", err)
	}

	offering.Status = offering.DerivedStatus(s.now())
	return offering, nil
}

// ListOfferings возвращает страницу каталога.
func (s *CatalogService) ListOfferings(ctx context.Context, kind *models.OfferingKind, limit, offset int) ([]*models.Offering, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + offeringColumns + ` FROM offerings`
	args := []interface{}{}
	if kind != nil {
		query += ` WHERE kind = $1`
		args = append(args, *kind)
	}
	query += fmt.Sprintf(` ORDER BY start_date NULLS LAST, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	offerings, err := s.queryOfferings(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	today := s.now()
	for _, o := range offerings {
		o.Status = o.DerivedStatus(today)
	}
	return offerings, nil
}

// AllOfferings возвращает все предложения с сохранённым статусом.
func (s *CatalogService) AllOfferings(ctx context.Context) ([]*models.Offering, error) {
	return s.queryOfferings(ctx, `SELECT `+offeringColumns+` FROM offerings ORDER BY id`)
}

// UpdateOfferingStatus сохраняет статус, если он отличается от текущего.
func (s *CatalogService) UpdateOfferingStatus(ctx context.Context, offeringID uuid.UUID, status models.OfferingStatus) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE offerings
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status <> $1
	`, status, s.now(), offeringID)
	if err != nil {
		return false, fmt.Errorf("failed to update offering status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// EnrollParticipant добавляет пользователя в список участников.
// Повторная запись ничего не меняет; удалённое предложение пропускается.
func (s *CatalogService) EnrollParticipant(ctx context.Context, q database.Querier, offeringID, userID uuid.UUID) (bool, error) {
	if q == nil {
		q = s.db
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO offering_participants (offering_id, user_id, enrolled_at)
		SELECT id, $2, $3 FROM offerings WHERE id = $1
		ON CONFLICT (offering_id, user_id) DO NOTHING
	`, offeringID, userID, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to enroll participant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// UnenrollParticipant убирает пользователя из участников. Вызывается только
// администратором, возврат оплаты участника не отписывает.
func (s *CatalogService) UnenrollParticipant(ctx context.Context, offeringID, userID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM offering_participants WHERE offering_id = $1 AND user_id = $2`, offeringID, userID)
	if err != nil {
		return fmt.Errorf("failed to unenroll participant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("participant not found", nil)
	}

	s.log.WithFields(map[string]interface{}{
		"offering_id": offeringID,
		"user_id":     userID,
	}).Info("Participant unenrolled")
	return nil
}

// Participants возвращает участников предложения.
func (s *CatalogService) Participants(ctx context.Context, offeringID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM offering_participants WHERE offering_id = $1 ORDER BY enrolled_at, user_id`, offeringID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return users, nil
}

func (s *CatalogService) queryOfferings(ctx context.Context, query string, args ...interface{}) ([]*models.Offering, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list offerings: %w", err)
	}
	defer rows.Close()

	var offerings []*models.Offering
	for rows.Next() {
		o, err := scanOffering(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offering: %w", err)
		}
		offerings = append(offerings, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate offerings: %w", err)
	}
	return offerings, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOffering(row rowScanner) (*models.Offering, error) {
	o := &models.Offering{}
	err := row.Scan(&o.ID, &o.Kind, &o.Title, &o.Price, &o.StartDate, &o.EndDate, &o.Status,
		&o.CouponID, &o.EventType, &o.Location, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}
