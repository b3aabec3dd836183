package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"formation-booking/internal/apperror"
	"formation-booking/internal/config"
	"formation-booking/internal/database"
	"formation-booking/internal/logger"
	"formation-booking/internal/models"

	"github.com/google/uuid"
)

const cartItemColumns = `id, user_id, formation_id, session_event_id, applied_coupon_code, original_price, discounted_price, date_debut, created_at`

// CartService управляет корзиной пользователя. Корзина разделена на
// прямые покупки и сессии-события, каждая часть оформляется отдельно.
type CartService struct {
	db           *database.DB
	catalog      *CatalogService
	coupons      *CouponService
	log          *logger.Logger
	now          func() time.Time
	defaultLimit int
	maxLimit     int
}

// NewCartService создаёт сервис корзины.
func NewCartService(db *database.DB, catalog *CatalogService, coupons *CouponService, log *logger.Logger, cfg *config.CartConfig) *CartService {
	s := &CartService{
		db:           db,
		catalog:      catalog,
		coupons:      coupons,
		log:          log,
		now:          time.Now,
		defaultLimit: 20,
		maxLimit:     100,
	}
	if cfg != nil {
		if cfg.DefaultPageSize > 0 {
			s.defaultLimit = cfg.DefaultPageSize
		}
		if cfg.MaxPageSize > 0 {
			s.maxLimit = cfg.MaxPageSize
		}
	}
	return s
}

// AddItem фиксирует позицию с ценами, рассчитанными вызывающей стороной.
func (s *CartService) AddItem(ctx context.Context, userID uuid.UUID, req *models.AddCartItemRequest) (*models.CartItem, error) {
	if err := validateCartItemRequest(req); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := database.LockUser(ctx, tx, userID); err != nil {
		return nil, err
	}

	var formation, sessionEvent *models.Offering
	if req.FormationID != nil {
		if formation, err = s.resolveOffering(ctx, tx, *req.FormationID, models.OfferingKindFormation); err != nil {
			return nil, err
		}
	}
	if req.SessionEventID != nil {
		if sessionEvent, err = s.resolveOffering(ctx, tx, *req.SessionEventID, models.OfferingKindSessionEvent); err != nil {
			return nil, err
		}
	}

	var couponCode *string
	if req.CouponCode != nil && strings.TrimSpace(*req.CouponCode) != "" {
		code := strings.TrimSpace(*req.CouponCode)
		exists, err := s.coupons.CouponExists(ctx, tx, code)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apperror.NotFound("coupon not found", nil)
		}
		couponCode = &code
	}

	var dateDebut time.Time
	switch {
	case formation != nil && formation.StartDate != nil:
		dateDebut = *formation.StartDate
	case sessionEvent != nil && sessionEvent.StartDate != nil:
		dateDebut = *sessionEvent.StartDate
	default:
		return nil, apperror.Validation("offering has no start date", nil)
	}

	item := &models.CartItem{
		ID:                uuid.New(),
		UserID:            userID,
		FormationID:       req.FormationID,
		SessionEventID:    req.SessionEventID,
		AppliedCouponCode: couponCode,
		OriginalPrice:     *req.OriginalPrice,
		DateDebut:         models.Day(dateDebut),
		CreatedAt:         s.now(),
	}
	if req.DiscountedPrice != nil {
		item.DiscountedPrice.Decimal = *req.DiscountedPrice
		item.DiscountedPrice.Valid = true
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cart_items (`+cartItemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.UserID, item.FormationID, item.SessionEventID, item.AppliedCouponCode,
		item.OriginalPrice, item.DiscountedPrice, item.DateDebut, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add cart item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cart item: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"cart_item_id": item.ID,
		"user_id":      userID,
		"scope":        item.Scope(),
		"coupon":       couponCode != nil,
	}).Info("Cart item added")
	return item, nil
}

// RemoveItem удаляет позицию пользователя. Купон, применённый к позиции,
// снова становится доступен этому пользователю.
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*models.CartRemoval, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := database.LockUser(ctx, tx, userID); err != nil {
		return nil, err
	}

	item, err := scanCartItem(tx.QueryRowContext(ctx,
		`DELETE FROM cart_items WHERE id = $1 AND user_id = $2 RETURNING `+cartItemColumns, itemID, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("cart item not found", err)
		}
		return nil, fmt.Errorf("failed to remove cart item: %w", err)
	}

	removal := &models.CartRemoval{Scope: item.Scope(), Removed: 1, Item: item}
	if item.AppliedCouponCode != nil {
		couponID, err := s.coupons.ReleaseUsage(ctx, tx, *item.AppliedCouponCode, userID)
		if err != nil {
			return nil, err
		}
		if couponID != nil {
			removal.ReleasedCoupons = append(removal.ReleasedCoupons, *couponID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cart item removal: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"cart_item_id": itemID,
		"user_id":      userID,
	}).Info("Cart item removed")
	return removal, nil
}

// ClearCart очищает раздел корзины и освобождает применённые купоны.
func (s *CartService) ClearCart(ctx context.Context, userID uuid.UUID, scope models.CartScope) (*models.CartRemoval, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := database.LockUser(ctx, tx, userID); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND `+scopeCondition(scope)+` RETURNING applied_coupon_code`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	removed := 0
	var codes []string
	for rows.Next() {
		var code sql.NullString
		if err := rows.Scan(&code); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		removed++
		if code.Valid && code.String != "" {
			codes = append(codes, code.String)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate cart items: %w", err)
	}
	rows.Close()

	removal := &models.CartRemoval{Scope: scope, Removed: removed}
	for _, code := range codes {
		couponID, err := s.coupons.ReleaseUsage(ctx, tx, code, userID)
		if err != nil {
			return nil, err
		}
		if couponID != nil {
			removal.ReleasedCoupons = append(removal.ReleasedCoupons, *couponID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cart clear: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"user_id": userID,
		"scope":   scope,
		"removed": removed,
	}).Info("Cart cleared")
	return removal, nil
}

// GetCart возвращает страницу раздела корзины в порядке добавления.
func (s *CartService) GetCart(ctx context.Context, userID uuid.UUID, scope models.CartScope, limit, offset int) (*models.CartPage, error) {
	limit, offset = s.normalizePage(limit, offset)

	items, err := s.queryItems(ctx, s.db, `
		SELECT `+cartItemColumns+`
		FROM cart_items
		WHERE user_id = $1 AND `+scopeCondition(scope)+`
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	return &models.CartPage{
		Scope:  scope,
		Items:  items,
		Total:  models.CartTotal(items),
		Count:  len(items),
		Limit:  limit,
		Offset: offset,
	}, nil
}

// LockedItems возвращает весь раздел корзины под блокировкой строк.
func (s *CartService) LockedItems(ctx context.Context, q database.Querier, userID uuid.UUID, scope models.CartScope) ([]*models.CartItem, error) {
	return s.queryItems(ctx, q, `
		SELECT `+cartItemColumns+`
		FROM cart_items
		WHERE user_id = $1 AND `+scopeCondition(scope)+`
		ORDER BY created_at, id
		FOR UPDATE
	`, userID)
}

func (s *CartService) normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *CartService) resolveOffering(ctx context.Context, q database.Querier, id uuid.UUID, kind models.OfferingKind) (*models.Offering, error) {
	offering, err := s.catalog.GetOffering(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if offering.Kind != kind {
		return nil, apperror.Validation(fmt.Sprintf("offering %s is not a %s", id, kind), nil)
	}
	return offering, nil
}

func (s *CartService) queryItems(ctx context.Context, q database.Querier, query string, args ...interface{}) ([]*models.CartItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cart: %w", err)
	}
	defer rows.Close()

	items := []*models.CartItem{}
	for rows.Next() {
		item, err := scanCartItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cart: %w", err)
	}
	return items, nil
}

func scopeCondition(scope models.CartScope) string {
	if scope == models.CartScopeSessionEvent {
		return "session_event_id IS NOT NULL"
	}
	return "session_event_id IS NULL"
}

func scanCartItem(row rowScanner) (*models.CartItem, error) {
	item := &models.CartItem{}
	err := row.Scan(&item.ID, &item.UserID, &item.FormationID, &item.SessionEventID, &item.AppliedCouponCode,
		&item.OriginalPrice, &item.DiscountedPrice, &item.DateDebut, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func validateCartItemRequest(req *models.AddCartItemRequest) error {
	if req.FormationID == nil && req.SessionEventID == nil {
		return fmt.Errorf("formation_id or session_event_id is required")
	}
	if req.OriginalPrice == nil {
		return fmt.Errorf("original_price is required")
	}
	if req.OriginalPrice.IsNegative() {
		return fmt.Errorf("original_price must not be negative")
	}
	if req.DiscountedPrice != nil {
		if req.DiscountedPrice.IsNegative() {
			return fmt.Errorf("discounted_price must not be negative")
		}
		if req.DiscountedPrice.GreaterThan(*req.OriginalPrice) {
			return fmt.Errorf("discounted_price must not exceed original_price")
		}
	}
	return nil
}
