package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OfferingKind различает формации и сессии-события
type OfferingKind string

const (
	OfferingKindFormation    OfferingKind = "formation"
	OfferingKindSessionEvent OfferingKind = "session_event"
)

// OfferingStatus представляет производный статус предложения
type OfferingStatus string

const (
	OfferingStatusUpcoming OfferingStatus = "UPCOMING"
	OfferingStatusOngoing  OfferingStatus = "ONGOING"
	OfferingStatusEnded    OfferingStatus = "ENDED"
)

// Offering представляет формацию или сессию-событие из каталога
type Offering struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Kind      OfferingKind    `json:"kind" db:"kind"`
	Title     string          `json:"title" db:"title"`
	Price     decimal.Decimal `json:"price" db:"price"`
	StartDate *time.Time      `json:"start_date,omitempty" db:"start_date"`
	EndDate   *time.Time      `json:"end_date,omitempty" db:"end_date"`
	Status    OfferingStatus  `json:"status" db:"status"`
	CouponID  *uuid.UUID      `json:"coupon_id,omitempty" db:"coupon_id"`
	EventType string          `json:"event_type,omitempty" db:"event_type"`
	Location  string          `json:"location,omitempty" db:"location"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// DeriveOfferingStatus вычисляет статус по датам: UPCOMING до начала,
// ENDED после окончания, иначе ONGOING.
func DeriveOfferingStatus(today, start, end time.Time) OfferingStatus {
	switch {
	case DayBefore(today, start):
		return OfferingStatusUpcoming
	case DayBefore(end, today):
		return OfferingStatusEnded
	default:
		return OfferingStatusOngoing
	}
}

// DerivedStatus возвращает актуальный статус. Без даты начала остаётся
// сохранённый статус, без даты окончания предложение длится один день.
func (o *Offering) DerivedStatus(today time.Time) OfferingStatus {
	if o.StartDate == nil {
		return o.Status
	}
	end := *o.StartDate
	if o.EndDate != nil {
		end = *o.EndDate
	}
	return DeriveOfferingStatus(today, *o.StartDate, end)
}
