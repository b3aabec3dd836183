package handlers

import (
	"context"
	"time"

	"formation-booking/internal/models"
	"formation-booking/internal/services"

	"github.com/google/uuid"
)

// ----- Coupons -----

type CouponService interface {
	CreateOrUpdateCoupon(ctx context.Context, couponID *uuid.UUID, req *models.CouponRequest, actorID *uuid.UUID) (*models.Coupon, error)
	GetCoupon(ctx context.Context, couponID uuid.UUID) (*models.Coupon, error)
	ListCoupons(ctx context.Context, limit, offset int) ([]*models.Coupon, error)
	AddOffering(ctx context.Context, couponID, offeringID uuid.UUID) (*uuid.UUID, error)
	RemoveOffering(ctx context.Context, couponID, offeringID uuid.UUID) error
	DisableCoupon(ctx context.Context, couponID uuid.UUID) (*models.Coupon, error)
	ApplyCoupon(ctx context.Context, code string, userID, offeringID uuid.UUID) (*models.CouponSnapshot, error)
	ValidateCoupon(ctx context.Context, code string, offeringID uuid.UUID) (bool, error)
}

// ----- Catalog -----

type CatalogService interface {
	ListOfferings(ctx context.Context, kind *models.OfferingKind, limit, offset int) ([]*models.Offering, error)
	Participants(ctx context.Context, offeringID uuid.UUID) ([]uuid.UUID, error)
}

type PricingService interface {
	QuoteOffering(ctx context.Context, offeringID uuid.UUID, code string) (*services.Quote, error)
}

// ----- Cart -----

type CartService interface {
	AddItem(ctx context.Context, userID uuid.UUID, req *models.AddCartItemRequest) (*models.CartItem, error)
	RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*models.CartRemoval, error)
	ClearCart(ctx context.Context, userID uuid.UUID, scope models.CartScope) (*models.CartRemoval, error)
	GetCart(ctx context.Context, userID uuid.UUID, scope models.CartScope, limit, offset int) (*models.CartPage, error)
}

// ----- Transactions -----

type CheckoutService interface {
	CreateTransaction(ctx context.Context, userID uuid.UUID, scope models.CartScope) (*models.Transaction, error)
	ConfirmPayment(ctx context.Context, transactionID uuid.UUID, req *models.ConfirmPaymentRequest) (*models.Transaction, error)
	RefundPayment(ctx context.Context, transactionID uuid.UUID, req *models.RefundPaymentRequest) (*models.Transaction, error)
	GetTransaction(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error)
	ListTransactions(ctx context.Context, filter models.TransactionFilter, limit, offset int) ([]*models.Transaction, error)
}

type EventProducer interface {
	PublishTransactionCreated(tx *models.Transaction) error
	PublishTransactionStatusChanged(tx *models.Transaction, oldStatus models.TransactionStatus) error
	PublishCouponEvent(eventType models.EventType, data models.CouponEventData) error
}

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
}

// ----- Jobs & presence -----

type JobRunner interface {
	Jobs() []string
	RunNow(ctx context.Context, name string) error
}

type SessionRegistry interface {
	Register(sessionID string, userID uuid.UUID, roles []string) error
	Remove(sessionID string)
	FindUsersByRoles(roles ...string) []uuid.UUID
	Count() int
}

// ----- Health -----

type DBHealth interface {
	Health() error
}

type RedisHealth interface {
	Health(ctx context.Context) error
}
