package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"formation-booking/internal/config"
	"formation-booking/internal/logger"
	"formation-booking/internal/models"
	"formation-booking/internal/registry"
	"formation-booking/internal/services"

	"github.com/google/uuid"
)

var testUserID = uuid.MustParse("7f9c24e8-3b12-4fef-91e1-9a1b2c3d4e5f")

func newTestLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "error", Format: "json"})
}

type stubCoupons struct {
	coupon    *models.Coupon
	displaced *uuid.UUID
	coupons   []*models.Coupon
	snapshot  *models.CouponSnapshot
	valid     bool
	err       error
	getCalls  int
	lastID    *uuid.UUID
	lastActor *uuid.UUID
}

func (s *stubCoupons) CreateOrUpdateCoupon(_ context.Context, couponID *uuid.UUID, _ *models.CouponRequest, actorID *uuid.UUID) (*models.Coupon, error) {
	s.lastID, s.lastActor = couponID, actorID
	return s.coupon, s.err
}
func (s *stubCoupons) GetCoupon(context.Context, uuid.UUID) (*models.Coupon, error) {
	s.getCalls++
	return s.coupon, s.err
}
func (s *stubCoupons) ListCoupons(context.Context, int, int) ([]*models.Coupon, error) {
	return s.coupons, s.err
}
func (s *stubCoupons) AddOffering(context.Context, uuid.UUID, uuid.UUID) (*uuid.UUID, error) {
	return s.displaced, s.err
}
func (s *stubCoupons) RemoveOffering(context.Context, uuid.UUID, uuid.UUID) error { return s.err }
func (s *stubCoupons) DisableCoupon(context.Context, uuid.UUID) (*models.Coupon, error) {
	return s.coupon, s.err
}
func (s *stubCoupons) ApplyCoupon(context.Context, string, uuid.UUID, uuid.UUID) (*models.CouponSnapshot, error) {
	return s.snapshot, s.err
}
func (s *stubCoupons) ValidateCoupon(context.Context, string, uuid.UUID) (bool, error) {
	return s.valid, s.err
}

type stubCatalog struct {
	offerings    []*models.Offering
	participants []uuid.UUID
	lastKind     *models.OfferingKind
	err          error
}

func (s *stubCatalog) ListOfferings(_ context.Context, kind *models.OfferingKind, _, _ int) ([]*models.Offering, error) {
	s.lastKind = kind
	return s.offerings, s.err
}
func (s *stubCatalog) Participants(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return s.participants, s.err
}

type stubPricing struct {
	quote *services.Quote
	err   error
}

func (s *stubPricing) QuoteOffering(context.Context, uuid.UUID, string) (*services.Quote, error) {
	return s.quote, s.err
}

type stubCart struct {
	item      *models.CartItem
	page      *models.CartPage
	removal   *models.CartRemoval
	lastScope models.CartScope
	err       error
}

func (s *stubCart) AddItem(context.Context, uuid.UUID, *models.AddCartItemRequest) (*models.CartItem, error) {
	return s.item, s.err
}
func (s *stubCart) RemoveItem(context.Context, uuid.UUID, uuid.UUID) (*models.CartRemoval, error) {
	return s.removal, s.err
}
func (s *stubCart) ClearCart(_ context.Context, _ uuid.UUID, scope models.CartScope) (*models.CartRemoval, error) {
	s.lastScope = scope
	return s.removal, s.err
}
func (s *stubCart) GetCart(_ context.Context, _ uuid.UUID, scope models.CartScope, _, _ int) (*models.CartPage, error) {
	s.lastScope = scope
	return s.page, s.err
}

type stubCheckout struct {
	transaction  *models.Transaction
	transactions []*models.Transaction
	lastFilter   models.TransactionFilter
	lastScope    models.CartScope
	getCalls     int
	err          error
}

func (s *stubCheckout) CreateTransaction(_ context.Context, _ uuid.UUID, scope models.CartScope) (*models.Transaction, error) {
	s.lastScope = scope
	return s.transaction, s.err
}
func (s *stubCheckout) ConfirmPayment(context.Context, uuid.UUID, *models.ConfirmPaymentRequest) (*models.Transaction, error) {
	return s.transaction, s.err
}
func (s *stubCheckout) RefundPayment(context.Context, uuid.UUID, *models.RefundPaymentRequest) (*models.Transaction, error) {
	return s.transaction, s.err
}
func (s *stubCheckout) GetTransaction(context.Context, uuid.UUID) (*models.Transaction, error) {
	s.getCalls++
	return s.transaction, s.err
}
func (s *stubCheckout) ListTransactions(_ context.Context, filter models.TransactionFilter, _, _ int) ([]*models.Transaction, error) {
	s.lastFilter = filter
	return s.transactions, s.err
}

type publishedEvent struct {
	eventType models.EventType
	oldStatus models.TransactionStatus
	coupon    models.CouponEventData
}

type stubProducer struct {
	events []publishedEvent
	err    error
}

func (p *stubProducer) PublishTransactionCreated(*models.Transaction) error {
	p.events = append(p.events, publishedEvent{eventType: models.EventTypeTransactionCreated})
	return p.err
}
func (p *stubProducer) PublishTransactionStatusChanged(_ *models.Transaction, old models.TransactionStatus) error {
	p.events = append(p.events, publishedEvent{oldStatus: old})
	return p.err
}
func (p *stubProducer) PublishCouponEvent(eventType models.EventType, data models.CouponEventData) error {
	p.events = append(p.events, publishedEvent{eventType: eventType, coupon: data})
	return p.err
}

// memCache хранит значения в JSON, как Redis клиент
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	return nil
}
func (c *memCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	raw, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return errors.New("cache miss")
	}
	return json.Unmarshal(raw, dest)
}
func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// stubAttempts ведёт счётчики в памяти; enabled=false отключает учёт
type stubAttempts struct {
	enabled  bool
	max      int64
	failures map[string]int64
	resets   []string
	err      error
}

func (s *stubAttempts) Enabled() bool         { return s.enabled }
func (s *stubAttempts) MaxFailures() int64    { return s.max }
func (s *stubAttempts) Window() time.Duration { return 15 * time.Minute }
func (s *stubAttempts) Check(_ context.Context, caller string) (*models.CouponAttemptStatus, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.status(caller), nil
}
func (s *stubAttempts) RecordFailure(_ context.Context, caller string) (*models.CouponAttemptStatus, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.failures == nil {
		s.failures = map[string]int64{}
	}
	s.failures[caller]++
	return s.status(caller), nil
}
func (s *stubAttempts) Reset(_ context.Context, caller string) error {
	s.resets = append(s.resets, caller)
	delete(s.failures, caller)
	return s.err
}
func (s *stubAttempts) status(caller string) *models.CouponAttemptStatus {
	failures := s.failures[caller]
	remaining := s.max - failures
	if remaining < 0 {
		remaining = 0
	}
	return &models.CouponAttemptStatus{Failures: failures, Remaining: remaining, Blocked: failures >= s.max}
}

type stubJobs struct {
	names []string
	ran   []string
	err   error
}

func (s *stubJobs) Jobs() []string { return s.names }
func (s *stubJobs) RunNow(_ context.Context, name string) error {
	s.ran = append(s.ran, name)
	return s.err
}

type testDeps struct {
	coupons  *stubCoupons
	catalog  *stubCatalog
	pricing  *stubPricing
	cart     *stubCart
	checkout *stubCheckout
	producer *stubProducer
	cache    *memCache
	jobs     *stubJobs
	registry *registry.Registry
	attempts *stubAttempts
}

func newTestDeps() *testDeps {
	return &testDeps{
		coupons:  &stubCoupons{},
		catalog:  &stubCatalog{},
		pricing:  &stubPricing{},
		cart:     &stubCart{},
		checkout: &stubCheckout{},
		producer: &stubProducer{},
		cache:    newMemCache(),
		jobs:     &stubJobs{},
		registry: registry.New(),
		attempts: &stubAttempts{},
	}
}

func (d *testDeps) router() http.Handler {
	log := newTestLogger()
	return NewRouter(Handlers{
		Health:       NewHealthHandler(&stubDB{}, &stubRedisHealth{}, nil, func([]string) error { return nil }),
		Catalog:      NewCatalogHandler(d.catalog, d.pricing, log),
		Coupons:      NewCouponHandler(d.coupons, d.producer, d.cache, d.attempts, time.Minute, log),
		Cart:         NewCartHandler(d.cart, d.producer, d.cache, log),
		Transactions: NewTransactionHandler(d.checkout, d.producer, d.cache, time.Minute, log),
		Jobs:         NewJobHandler(d.jobs, log),
		Presence:     NewPresenceHandler(d.registry, log),
		Attempts:     NewCouponAttemptHandler(d.attempts, log),
	}, d.attempts, log)
}

// do выполняет запрос; userID добавляется в X-User-ID, если не nil
func (d *testDeps) do(method, path, body string, userID *uuid.UUID) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != nil {
		req.Header.Set(headerUserID, userID.String())
	}
	rr := httptest.NewRecorder()
	d.router().ServeHTTP(rr, req)
	return rr
}
