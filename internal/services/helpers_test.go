package services

import (
	"testing"
	"time"

	"formation-booking/internal/config"
	"formation-booking/internal/database"
	"formation-booking/internal/logger"
	"formation-booking/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var testNow = time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func newTestLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "debug", Format: "json"})
}

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	return &database.DB{DB: db}, mock
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var offeringColumnNames = []string{"id", "kind", "title", "price", "start_date", "end_date", "status",
	"coupon_id", "event_type", "location", "created_at", "updated_at"}

func offeringRows(offerings ...*models.Offering) *sqlmock.Rows {
	rows := sqlmock.NewRows(offeringColumnNames)
	for _, o := range offerings {
		var couponID interface{}
		if o.CouponID != nil {
			couponID = o.CouponID.String()
		}
		var start, end interface{}
		if o.StartDate != nil {
			start = *o.StartDate
		}
		if o.EndDate != nil {
			end = *o.EndDate
		}
		rows.AddRow(o.ID.String(), string(o.Kind), o.Title, o.Price.String(), start, end, string(o.Status),
			couponID, o.EventType, o.Location, testNow, testNow)
	}
	return rows
}

var couponColumnNames = []string{"id", "code", "discount_percent", "max_usage", "usage_count",
	"expire_at", "created_by", "created_at", "updated_at"}

func couponRows(c *models.Coupon) *sqlmock.Rows {
	return sqlmock.NewRows(couponColumnNames).
		AddRow(c.ID.String(), c.Code, c.DiscountPercent.String(), c.MaxUsage, c.UsageCount,
			c.ExpireAt, nil, testNow, testNow)
}

func userRows(u *models.User) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "full_name", "phone", "created_at"}).
		AddRow(u.ID.String(), u.Email, u.FullName, u.Phone, testNow)
}

var cartColumnNames = []string{"id", "user_id", "formation_id", "session_event_id", "applied_coupon_code",
	"original_price", "discounted_price", "date_debut", "created_at"}

func cartRows(items ...*models.CartItem) *sqlmock.Rows {
	rows := sqlmock.NewRows(cartColumnNames)
	for _, item := range items {
		var formation, event, code, discounted interface{}
		if item.FormationID != nil {
			formation = item.FormationID.String()
		}
		if item.SessionEventID != nil {
			event = item.SessionEventID.String()
		}
		if item.AppliedCouponCode != nil {
			code = *item.AppliedCouponCode
		}
		if item.DiscountedPrice.Valid {
			discounted = item.DiscountedPrice.Decimal.String()
		}
		rows.AddRow(item.ID.String(), item.UserID.String(), formation, event, code,
			item.OriginalPrice.String(), discounted, item.DateDebut, testNow)
	}
	return rows
}

func newTestUser() *models.User {
	return &models.User{ID: uuid.New(), Email: "amira@example.com", FullName: "Amira Ben Salah", Phone: "+21620000000"}
}

type testServices struct {
	users    *UserService
	catalog  *CatalogService
	coupons  *CouponService
	cart     *CartService
	checkout *CheckoutService
}

func newTestServices(db *database.DB, notifier Notifier) *testServices {
	log := newTestLogger()
	users := NewUserService(db, log)
	catalog := NewCatalogService(db, log)
	catalog.now = fixedNow
	coupons := NewCouponService(db, catalog, users, log)
	coupons.now = fixedNow
	cart := NewCartService(db, catalog, coupons, log, &config.CartConfig{DefaultPageSize: 20, MaxPageSize: 50})
	cart.now = fixedNow
	checkout := NewCheckoutService(db, catalog, users, cart, notifier, log, &config.CheckoutConfig{Currency: "DT", DefaultExpiryDays: 7})
	checkout.now = fixedNow

	return &testServices{
		users:    users,
		catalog:  catalog,
		coupons:  coupons,
		cart:     cart,
		checkout: checkout,
	}
}
