package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartScope разделяет корзину на прямые покупки и покупки сессий-событий.
// Разделы оформляются независимо.
type CartScope string

const (
	CartScopeDirect       CartScope = "direct"
	CartScopeSessionEvent CartScope = "session_event"
)

// ParseCartScope разбирает раздел корзины; пустая строка означает direct.
func ParseCartScope(s string) (CartScope, error) {
	switch CartScope(s) {
	case "", CartScopeDirect:
		return CartScopeDirect, nil
	case CartScopeSessionEvent:
		return CartScopeSessionEvent, nil
	default:
		return "", fmt.Errorf("invalid cart scope %q", s)
	}
}

// CartItem представляет позицию корзины с ценами, зафиксированными при добавлении
type CartItem struct {
	ID                uuid.UUID           `json:"id" db:"id"`
	UserID            uuid.UUID           `json:"user_id" db:"user_id"`
	FormationID       *uuid.UUID          `json:"formation_id,omitempty" db:"formation_id"`
	SessionEventID    *uuid.UUID          `json:"session_event_id,omitempty" db:"session_event_id"`
	AppliedCouponCode *string             `json:"applied_coupon_code,omitempty" db:"applied_coupon_code"`
	OriginalPrice     decimal.Decimal     `json:"original_price" db:"original_price"`
	DiscountedPrice   decimal.NullDecimal `json:"discounted_price" db:"discounted_price"`
	DateDebut         time.Time           `json:"date_debut" db:"date_debut"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
}

// EffectivePrice возвращает цену со скидкой, если она есть.
func (i *CartItem) EffectivePrice() decimal.Decimal {
	if i.DiscountedPrice.Valid {
		return i.DiscountedPrice.Decimal
	}
	return i.OriginalPrice
}

// Scope определяет раздел корзины по наличию сессии-события.
func (i *CartItem) Scope() CartScope {
	if i.SessionEventID != nil {
		return CartScopeSessionEvent
	}
	return CartScopeDirect
}

// OfferingID возвращает формацию, а при её отсутствии сессию-событие.
func (i *CartItem) OfferingID() uuid.UUID {
	if i.FormationID != nil {
		return *i.FormationID
	}
	if i.SessionEventID != nil {
		return *i.SessionEventID
	}
	return uuid.Nil
}

// CartTotal суммирует эффективные цены позиций.
func CartTotal(items []*CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.EffectivePrice())
	}
	return total
}

// AddCartItemRequest представляет запрос на добавление в корзину.
// Цены вычисляет вызывающая сторона, корзина их только фиксирует.
type AddCartItemRequest struct {
	FormationID     *uuid.UUID       `json:"formation_id,omitempty"`
	SessionEventID  *uuid.UUID       `json:"session_event_id,omitempty"`
	CouponCode      *string          `json:"coupon_code,omitempty"`
	OriginalPrice   *decimal.Decimal `json:"original_price,omitempty"`
	DiscountedPrice *decimal.Decimal `json:"discounted_price,omitempty"`
}

// CartPage представляет страницу корзины с итогом по странице
type CartPage struct {
	Scope  CartScope       `json:"scope"`
	Items  []*CartItem     `json:"items"`
	Total  decimal.Decimal `json:"total"`
	Count  int             `json:"count"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// CartRemoval описывает результат удаления позиций корзины.
// ReleasedCoupons: купоны, снова доступные пользователю.
type CartRemoval struct {
	Scope           CartScope   `json:"scope"`
	Removed         int         `json:"removed"`
	Item            *CartItem   `json:"item,omitempty"`
	ReleasedCoupons []uuid.UUID `json:"released_coupons,omitempty"`
}
