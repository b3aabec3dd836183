package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Coupon представляет купон на скидку.
//
// ApplicableOfferings и Offering.CouponID образуют двустороннюю связь: их
// меняют только AttachOffering и DetachOffering. EligibleUsers хранит
// пользователей, которые уже использовали купон.
type Coupon struct {
	ID                  uuid.UUID       `json:"id" db:"id"`
	Code                string          `json:"code" db:"code"`
	DiscountPercent     decimal.Decimal `json:"discount_percent" db:"discount_percent"`
	MaxUsage            int             `json:"max_usage" db:"max_usage"`
	UsageCount          int             `json:"usage_count" db:"usage_count"`
	ExpireAt            time.Time       `json:"expire_at" db:"expire_at"`
	CreatedBy           *uuid.UUID      `json:"created_by,omitempty" db:"created_by"`
	ApplicableOfferings []uuid.UUID     `json:"applicable_offerings"`
	EligibleUsers       []uuid.UUID     `json:"eligible_users,omitempty"`
	// DisplacedCoupons: купоны, у которых последняя запись забрала предложения.
	DisplacedCoupons    []uuid.UUID     `json:"-"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// IsActive: купон не истёк и лимит использований не исчерпан.
func (c *Coupon) IsActive(today time.Time) bool {
	return DayBefore(today, c.ExpireAt) && c.UsageCount < c.MaxUsage
}

// IsValidFor сообщает, можно ли применить купон к предложению.
func (c *Coupon) IsValidFor(offeringID uuid.UUID, today time.Time) bool {
	return c.IsActive(today) && c.HasOffering(offeringID)
}

// RemainingUses возвращает оставшееся количество использований.
func (c *Coupon) RemainingUses() int {
	if c.UsageCount >= c.MaxUsage {
		return 0
	}
	return c.MaxUsage - c.UsageCount
}

// ApplyUsage увеличивает счётчик на единицу. Хранилище делает то же самое
// условным UPDATE, эта версия нужна для расчётов в памяти.
func (c *Coupon) ApplyUsage() error {
	if c.UsageCount >= c.MaxUsage {
		return ErrCouponExhausted
	}
	c.UsageCount++
	return nil
}

// Disable необратимо деактивирует купон.
func (c *Coupon) Disable() {
	c.MaxUsage = 0
	c.UsageCount = 0
}

// IsDisabled: лимит нулевой бывает только у отключённого купона,
// созданный купон всегда имеет max_usage > 0.
func (c *Coupon) IsDisabled() bool {
	return c.MaxUsage == 0
}

// HasOffering проверяет принадлежность предложения купону.
func (c *Coupon) HasOffering(offeringID uuid.UUID) bool {
	return containsID(c.ApplicableOfferings, offeringID)
}

// AttachOffering связывает предложение с купоном. Если предложение было
// привязано к другому купону prev, оно удаляется из его набора.
func (c *Coupon) AttachOffering(o *Offering, prev *Coupon) {
	if prev != nil && prev.ID != c.ID {
		prev.ApplicableOfferings = removeID(prev.ApplicableOfferings, o.ID)
	}
	id := c.ID
	o.CouponID = &id
	if !c.HasOffering(o.ID) {
		c.ApplicableOfferings = append(c.ApplicableOfferings, o.ID)
	}
}

// DetachOffering разрывает связь с обеих сторон.
func (c *Coupon) DetachOffering(o *Offering) {
	c.ApplicableOfferings = removeID(c.ApplicableOfferings, o.ID)
	if o.CouponID != nil && *o.CouponID == c.ID {
		o.CouponID = nil
	}
}

// HasConsumed сообщает, использовал ли пользователь купон.
func (c *Coupon) HasConsumed(userID uuid.UUID) bool {
	return containsID(c.EligibleUsers, userID)
}

// MarkConsumed добавляет пользователя в набор использовавших.
func (c *Coupon) MarkConsumed(userID uuid.UUID) {
	if !c.HasConsumed(userID) {
		c.EligibleUsers = append(c.EligibleUsers, userID)
	}
}

// UnmarkConsumed снимает отметку использования.
func (c *Coupon) UnmarkConsumed(userID uuid.UUID) {
	c.EligibleUsers = removeID(c.EligibleUsers, userID)
}

// CouponSnapshot возвращается после успешного применения купона.
type CouponSnapshot struct {
	CouponID        uuid.UUID       `json:"coupon_id"`
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	OfferingID      uuid.UUID       `json:"offering_id"`
	UserID          uuid.UUID       `json:"user_id"`
	RemainingUses   int             `json:"remaining_uses"`
	ExpireAt        time.Time       `json:"expire_at"`
}

// CouponRequest используется при создании и обновлении купона.
type CouponRequest struct {
	Code                string          `json:"code"`
	DiscountPercent     decimal.Decimal `json:"discount_percent"`
	MaxUsage            int             `json:"max_usage"`
	ExpireAt            *time.Time      `json:"expire_at,omitempty"`
	ApplicableOfferings []uuid.UUID     `json:"applicable_offerings"`
}

// ApplyCouponRequest описывает запрос на применение купона.
type ApplyCouponRequest struct {
	Code       string    `json:"code"`
	OfferingID uuid.UUID `json:"offering_id"`
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// CouponAttemptStatus описывает счётчик неудачных попыток вызывающего
// применить или проверить купон в текущем окне.
type CouponAttemptStatus struct {
	Failures  int64      `json:"failures"`
	Remaining int64      `json:"remaining"`
	Blocked   bool       `json:"blocked"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}
