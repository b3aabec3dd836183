package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"formation-booking/internal/apperror"
	"formation-booking/internal/database"
	"formation-booking/internal/logger"
	"formation-booking/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const (
	maxCouponCodeLength      = 64
	defaultCouponValidityDay = 5
)

var hundred = decimal.NewFromInt(100)

const couponColumns = `id, code, discount_percent, max_usage, usage_count, expire_at, created_by, created_at, updated_at`

// CouponService ведёт купоны: срок действия, лимит использований,
// список использовавших пользователей и связь с предложениями.
type CouponService struct {
	db      *database.DB
	catalog *CatalogService
	users   *UserService
	log     *logger.Logger
	now     func() time.Time
}

// NewCouponService создаёт сервис купонов.
func NewCouponService(db *database.DB, catalog *CatalogService, users *UserService, log *logger.Logger) *CouponService {
	return &CouponService{
		db:      db,
		catalog: catalog,
		users:   users,
		log:     log,
		now:     time.Now,
	}
}

// CreateOrUpdateCoupon создаёт купон (couponID == nil) или обновляет
// существующий. Набор предложений заменяется целиком; предложения,
// привязанные к другим купонам, переходят к этому.
func (s *CouponService) CreateOrUpdateCoupon(ctx context.Context, couponID *uuid.UUID, req *models.CouponRequest, actorID *uuid.UUID) (*models.Coupon, error) {
	if couponID == nil {
		return s.createCoupon(ctx, req, actorID)
	}
	return s.updateCoupon(ctx, *couponID, req)
}

func (s *CouponService) createCoupon(ctx context.Context, req *models.CouponRequest, actorID *uuid.UUID) (*models.Coupon, error) {
	req.Code = strings.TrimSpace(req.Code)
	if err := validateCouponRequest(req, true); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	now := s.now()
	expireAt := models.Day(now).AddDate(0, 0, defaultCouponValidityDay)
	if req.ExpireAt != nil {
		expireAt = models.Day(*req.ExpireAt)
	}

	coupon := &models.Coupon{
		ID:              uuid.New(),
		Code:            req.Code,
		DiscountPercent: req.DiscountPercent,
		MaxUsage:        req.MaxUsage,
		ExpireAt:        expireAt,
		CreatedBy:       actorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO coupons (id, code, discount_percent, max_usage, usage_count, expire_at, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8)
	`, coupon.ID, coupon.Code, coupon.DiscountPercent, coupon.MaxUsage, coupon.ExpireAt, coupon.CreatedBy, coupon.CreatedAt, coupon.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, apperror.Conflict("coupon code already exists", err)
		}
		return nil, fmt.Errorf("failed to create coupon: %w", err)
	}

	if err := s.attachOfferings(ctx, tx, coupon, req.ApplicableOfferings); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit coupon: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"coupon_id": coupon.ID,
		"code":      coupon.Code,
		"offerings": len(coupon.ApplicableOfferings),
	}).Info("Coupon created")
	return coupon, nil
}

func (s *CouponService) updateCoupon(ctx context.Context, couponID uuid.UUID, req *models.CouponRequest) (*models.Coupon, error) {
	req.Code = strings.TrimSpace(req.Code)
	if err := validateCouponRequest(req, false); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	coupon, err := s.getCouponRow(ctx, tx, "id = $1", couponID, true)
	if err != nil {
		return nil, err
	}

	if coupon.IsDisabled() {
		return nil, apperror.InvalidState("coupon is disabled", nil)
	}
	if req.Code != "" && req.Code != coupon.Code {
		return nil, apperror.Validation("coupon code cannot be changed", nil)
	}
	if req.MaxUsage < coupon.UsageCount {
		return nil, apperror.Validation(fmt.Sprintf("max_usage cannot be lower than current usage %d", coupon.UsageCount), nil)
	}

	coupon.DiscountPercent = req.DiscountPercent
	coupon.MaxUsage = req.MaxUsage
	if req.ExpireAt != nil {
		coupon.ExpireAt = models.Day(*req.ExpireAt)
	}
	coupon.UpdatedAt = s.now()

	if _, err := tx.ExecContext(ctx, `
		UPDATE coupons
		SET discount_percent = $1, max_usage = $2, expire_at = $3, updated_at = $4
		WHERE id = $5
	`, coupon.DiscountPercent, coupon.MaxUsage, coupon.ExpireAt, coupon.UpdatedAt, coupon.ID); err != nil {
		return nil, fmt.Errorf("failed to update coupon: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE offerings SET coupon_id = NULL, updated_at = $1 WHERE coupon_id = $2`, coupon.UpdatedAt, coupon.ID); err != nil {
		return nil, fmt.Errorf("failed to detach coupon offerings: %w", err)
	}
	if err := s.attachOfferings(ctx, tx, coupon, req.ApplicableOfferings); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit coupon: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"coupon_id": coupon.ID,
		"code":      coupon.Code,
		"max_usage": coupon.MaxUsage,
	}).Info("Coupon updated")
	return coupon, nil
}

// attachOfferings привязывает предложения к купону. Колонка offerings.coupon_id
// единственная, поэтому прежний купон теряет предложение тем же UPDATE;
// такие купоны попадают в coupon.DisplacedCoupons.
func (s *CouponService) attachOfferings(ctx context.Context, tx *sql.Tx, coupon *models.Coupon, offeringIDs []uuid.UUID) error {
	for _, offeringID := range offeringIDs {
		if coupon.HasOffering(offeringID) {
			continue
		}
		prev, err := s.linkOffering(ctx, tx, coupon.ID, offeringID)
		if err != nil {
			return err
		}
		coupon.ApplicableOfferings = append(coupon.ApplicableOfferings, offeringID)
		if prev != nil && *prev != coupon.ID && !containsUUID(coupon.DisplacedCoupons, *prev) {
			coupon.DisplacedCoupons = append(coupon.DisplacedCoupons, *prev)
		}
	}
	return nil
}

// linkOffering привязывает предложение и возвращает купон, к которому оно
// было привязано до этого.
func (s *CouponService) linkOffering(ctx context.Context, q database.Querier, couponID, offeringID uuid.UUID) (*uuid.UUID, error) {
	var prev uuid.NullUUID
	err := q.QueryRowContext(ctx, `
		UPDATE offerings AS o
		SET coupon_id = $1, updated_at = $2
		FROM offerings AS prev
		WHERE o.id = $3 AND prev.id = o.id
		RETURNING prev.coupon_id
	`, couponID, s.now(), offeringID).Scan(&prev)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound(fmt.Sprintf("offering %s not found", offeringID), err)
		}
		return nil, fmt.Errorf("failed to attach offering: %w", err)
	}
	if !prev.Valid {
		return nil, nil
	}
	return &prev.UUID, nil
}

// AddOffering привязывает предложение к купону. Возвращает купон, который
// потерял это предложение, если такой был.
func (s *CouponService) AddOffering(ctx context.Context, couponID, offeringID uuid.UUID) (*uuid.UUID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	coupon, err := s.getCouponRow(ctx, tx, "id = $1", couponID, true)
	if err != nil {
		return nil, err
	}
	if coupon.IsDisabled() {
		return nil, apperror.InvalidState("coupon is disabled", nil)
	}
	prev, err := s.linkOffering(ctx, tx, couponID, offeringID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit offering link: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"coupon_id":   couponID,
		"offering_id": offeringID,
	}).Info("Offering attached to coupon")

	if prev == nil || *prev == couponID {
		return nil, nil
	}
	return prev, nil
}

// RemoveOffering отвязывает предложение от купона.
func (s *CouponService) RemoveOffering(ctx context.Context, couponID, offeringID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE offerings
		SET coupon_id = NULL, updated_at = $1
		WHERE id = $2 AND coupon_id = $3
	`, s.now(), offeringID, couponID)
	if err != nil {
		return fmt.Errorf("failed to detach offering: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("offering is not attached to coupon", nil)
	}

	s.log.WithFields(map[string]interface{}{
		"coupon_id":   couponID,
		"offering_id": offeringID,
	}).Info("Offering detached from coupon")
	return nil
}

// DisableCoupon необратимо деактивирует купон и отвязывает его предложения.
func (s *CouponService) DisableCoupon(ctx context.Context, couponID uuid.UUID) (*models.Coupon, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	coupon, err := s.getCouponRow(ctx, tx, "id = $1", couponID, true)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE offerings SET coupon_id = NULL, updated_at = $1 WHERE coupon_id = $2`, now, couponID); err != nil {
		return nil, fmt.Errorf("failed to detach coupon offerings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE coupons SET max_usage = 0, usage_count = 0, updated_at = $1 WHERE id = $2`, now, couponID); err != nil {
		return nil, fmt.Errorf("failed to disable coupon: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit coupon disable: %w", err)
	}

	coupon.Disable()
	coupon.ApplicableOfferings = nil
	coupon.UpdatedAt = now

	s.log.WithFields(map[string]interface{}{
		"coupon_id": couponID,
		"code":      coupon.Code,
	}).Info("Coupon disabled")
	return coupon, nil
}

// ApplyCoupon применяет купон пользователя к предложению. Отметка
// использования и увеличение счётчика фиксируются одной транзакцией.
func (s *CouponService) ApplyCoupon(ctx context.Context, code string, userID, offeringID uuid.UUID) (snapshot *models.CouponSnapshot, err error) {
	ctx, span := startSpan(ctx, "CouponService.ApplyCoupon",
		attribute.String("coupon.code", code), attribute.String("offering.id", offeringID.String()))
	defer func() { endSpan(span, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.users.GetUser(ctx, tx, userID); err != nil {
		return nil, err
	}
	offering, err := s.catalog.GetOffering(ctx, tx, offeringID)
	if err != nil {
		return nil, err
	}
	coupon, err := s.getCouponRow(ctx, tx, "code = $1", strings.TrimSpace(code), true)
	if err != nil {
		return nil, err
	}
	if offering.CouponID != nil && *offering.CouponID == coupon.ID {
		coupon.ApplicableOfferings = []uuid.UUID{offering.ID}
	}

	if !coupon.IsValidFor(offeringID, s.now()) {
		return nil, apperror.InvalidState("coupon is not valid for this offering", nil)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO coupon_eligible_users (coupon_id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (coupon_id, user_id) DO NOTHING
	`, coupon.ID, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to mark coupon usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apperror.InvalidState("coupon already used by this user", nil)
	}

	usage, err := s.ApplyUsage(ctx, tx, coupon.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit coupon application: %w", err)
	}

	coupon.UsageCount = usage
	addCounter(ctx, couponAppliedCounter, attribute.String("coupon.code", coupon.Code))
	s.log.WithFields(map[string]interface{}{
		"coupon_id":   coupon.ID,
		"code":        coupon.Code,
		"user_id":     userID,
		"offering_id": offeringID,
		"usage_count": usage,
	}).Info("Coupon applied")

	return &models.CouponSnapshot{
		CouponID:        coupon.ID,
		Code:            coupon.Code,
		DiscountPercent: coupon.DiscountPercent,
		OfferingID:      offeringID,
		UserID:          userID,
		RemainingUses:   coupon.RemainingUses(),
		ExpireAt:        coupon.ExpireAt,
	}, nil
}

// ApplyUsage увеличивает счётчик одним условным UPDATE и возвращает новое
// значение. Если лимит исчерпан, строка не обновляется и возвращается InvalidState.
func (s *CouponService) ApplyUsage(ctx context.Context, q database.Querier, couponID uuid.UUID) (int, error) {
	var usage int
	err := q.QueryRowContext(ctx, `
		UPDATE coupons
		SET usage_count = usage_count + 1, updated_at = $2
		WHERE id = $1 AND usage_count < max_usage
		RETURNING usage_count
	`, couponID, s.now()).Scan(&usage)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, models.ErrCouponExhausted
		}
		return 0, fmt.Errorf("failed to apply coupon usage: %w", err)
	}
	return usage, nil
}

// ReleaseUsage снимает отметку использования купона пользователем и
// возвращает id купона, либо nil, если отметки не было. Счётчик
// использований при этом не уменьшается.
func (s *CouponService) ReleaseUsage(ctx context.Context, q database.Querier, code string, userID uuid.UUID) (*uuid.UUID, error) {
	if q == nil {
		q = s.db
	}
	var couponID uuid.UUID
	err := q.QueryRowContext(ctx, `
		DELETE FROM coupon_eligible_users
		WHERE user_id = $1 AND coupon_id = (SELECT id FROM coupons WHERE code = $2)
		RETURNING coupon_id
	`, userID, code).Scan(&couponID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to release coupon usage: %w", err)
	}
	return &couponID, nil
}

// CouponExists проверяет, что купон с кодом существует.
func (s *CouponService) CouponExists(ctx context.Context, q database.Querier, code string) (bool, error) {
	if q == nil {
		q = s.db
	}
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM coupons WHERE code = $1)`, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check coupon: %w", err)
	}
	return exists, nil
}

// ValidateCoupon сообщает, можно ли сейчас применить купон к предложению.
// Неизвестный купон или предложение дают false без ошибки.
func (s *CouponService) ValidateCoupon(ctx context.Context, code string, offeringID uuid.UUID) (bool, error) {
	coupon, err := s.getCouponRow(ctx, s.db, "code = $1", strings.TrimSpace(code), false)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return false, nil
		}
		return false, err
	}

	offering, err := s.catalog.GetOffering(ctx, s.db, offeringID)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return false, nil
		}
		return false, err
	}

	if offering.CouponID == nil || *offering.CouponID != coupon.ID {
		return false, nil
	}
	return coupon.IsActive(s.now()), nil
}

// GetCoupon возвращает купон со связанными предложениями и пользователями.
func (s *CouponService) GetCoupon(ctx context.Context, couponID uuid.UUID) (*models.Coupon, error) {
	coupon, err := s.getCouponRow(ctx, s.db, "id = $1", couponID, false)
	if err != nil {
		return nil, err
	}
	if err := s.loadRelations(ctx, coupon); err != nil {
		return nil, err
	}
	return coupon, nil
}

// GetCouponByCode возвращает купон по коду.
func (s *CouponService) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	coupon, err := s.getCouponRow(ctx, s.db, "code = $1", strings.TrimSpace(code), false)
	if err != nil {
		return nil, err
	}
	if err := s.loadRelations(ctx, coupon); err != nil {
		return nil, err
	}
	return coupon, nil
}

// ListCoupons возвращает список купонов без связей.
func (s *CouponService) ListCoupons(ctx context.Context, limit, offset int) ([]*models.Coupon, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	defer rows.Close()

	var coupons []*models.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coupon: %w", err)
		}
		coupons = append(coupons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate coupons: %w", err)
	}
	return coupons, nil
}

func (s *CouponService) getCouponRow(ctx context.Context, q database.Querier, where string, arg interface{}, forUpdate bool) (*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE ` + where
	if forUpdate {
		query += ` FOR UPDATE`
	}

	coupon, err := scanCoupon(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("coupon not found", err)
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return coupon, nil
}

func (s *CouponService) loadRelations(ctx context.Context, coupon *models.Coupon) error {
	offerings, err := s.queryIDs(ctx, `SELECT id FROM offerings WHERE coupon_id = $1 ORDER BY id`, coupon.ID)
	if err != nil {
		return fmt.Errorf("failed to load coupon offerings: %w", err)
	}
	users, err := s.queryIDs(ctx, `SELECT user_id FROM coupon_eligible_users WHERE coupon_id = $1 ORDER BY created_at, user_id`, coupon.ID)
	if err != nil {
		return fmt.Errorf("failed to load coupon users: %w", err)
	}
	coupon.ApplicableOfferings = offerings
	coupon.EligibleUsers = users
	return nil
}

func (s *CouponService) queryIDs(ctx context.Context, query string, args ...interface{}) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanCoupon(row rowScanner) (*models.Coupon, error) {
	c := &models.Coupon{}
	err := row.Scan(&c.ID, &c.Code, &c.DiscountPercent, &c.MaxUsage, &c.UsageCount,
		&c.ExpireAt, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func validateCouponRequest(req *models.CouponRequest, requireCode bool) error {
	if requireCode && req.Code == "" {
		return fmt.Errorf("code is required")
	}
	if len(req.Code) > maxCouponCodeLength {
		return fmt.Errorf("code must be at most %d characters", maxCouponCodeLength)
	}
	if req.DiscountPercent.IsNegative() || req.DiscountPercent.GreaterThan(hundred) {
		return fmt.Errorf("discount_percent must be between 0 and 100")
	}
	if req.MaxUsage <= 0 {
		return fmt.Errorf("max_usage must be positive")
	}
	return nil
}

func containsUUID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
