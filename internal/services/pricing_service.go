package services

import (
	"context"
	"strings"
	"time"

	"formation-booking/internal/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// priceScale соответствует NUMERIC(12, 3) в хранилище.
const priceScale = 3

// PricingService рассчитывает цену предложения с учётом купона.
// Корзина принимает уже рассчитанные цены; этот сервис даёт их клиенту.
type PricingService struct {
	catalog *CatalogService
	coupons *CouponService
	now     func() time.Time
}

// NewPricingService создаёт сервис цен.
func NewPricingService(catalog *CatalogService, coupons *CouponService) *PricingService {
	return &PricingService{
		catalog: catalog,
		coupons: coupons,
		now:     time.Now,
	}
}

// Quote описывает цену предложения до и после скидки.
type Quote struct {
	OfferingID      uuid.UUID        `json:"offering_id"`
	CouponCode      *string          `json:"coupon_code,omitempty"`
	OriginalPrice   decimal.Decimal  `json:"original_price"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	DiscountedPrice *decimal.Decimal `json:"discounted_price,omitempty"`
}

// ApplyDiscount уменьшает цену на процент и округляет до трёх знаков.
// Процент за пределами 0..100 приводится к границе.
func ApplyDiscount(price, percent decimal.Decimal) decimal.Decimal {
	if percent.IsNegative() {
		percent = decimal.Zero
	}
	if percent.GreaterThan(hundred) {
		percent = hundred
	}

	factor := hundred.Sub(percent).Div(hundred)
	return price.Mul(factor).Round(priceScale)
}

// QuoteOffering возвращает цену предложения. Без кода купона скидки нет;
// купон, не действующий для предложения, даёт InvalidState.
func (s *PricingService) QuoteOffering(ctx context.Context, offeringID uuid.UUID, code string) (*Quote, error) {
	offering, err := s.catalog.GetOffering(ctx, nil, offeringID)
	if err != nil {
		return nil, err
	}

	quote := &Quote{
		OfferingID:      offering.ID,
		OriginalPrice:   offering.Price,
		DiscountPercent: decimal.Zero,
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return quote, nil
	}

	coupon, err := s.coupons.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !coupon.IsValidFor(offering.ID, s.now()) {
		return nil, apperror.InvalidState("coupon is not valid for this offering", nil)
	}

	discounted := ApplyDiscount(offering.Price, coupon.DiscountPercent)
	quote.CouponCode = &coupon.Code
	quote.DiscountPercent = coupon.DiscountPercent
	quote.DiscountedPrice = &discounted
	return quote, nil
}
