package handlers

import (
	"context"
	"net/http"
	"testing"

	"formation-booking/internal/apperror"
	"formation-booking/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func testTransaction(status models.TransactionStatus) *models.Transaction {
	return &models.Transaction{
		ID:         uuid.MustParse("b3a1f1de-4c2a-4e8b-8c1d-2e3f4a5b6c7d"),
		User:       models.UserSnapshot{ID: testUserID, Email: "amira@example.com"},
		Scope:      models.CartScopeDirect,
		TotalPrice: decimal.NewFromInt(450),
		Currency:   "TND",
		Status:     status,
	}
}

func TestTransactionHandler_Create_PublishesAndCaches(t *testing.T) {
	d := newTestDeps()
	tx := testTransaction(models.TransactionStatusPending)
	d.checkout.transaction = tx

	rr := d.do(http.MethodPost, "/api/transactions", `{"scope":"session_event"}`, &testUserID)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if d.checkout.lastScope != models.CartScopeSessionEvent {
		t.Fatalf("unexpected scope %s", d.checkout.lastScope)
	}
	if len(d.producer.events) != 1 || d.producer.events[0].eventType != models.EventTypeTransactionCreated {
		t.Fatalf("expected created event, got %+v", d.producer.events)
	}
	if !d.cache.has(transactionCacheKey(tx.ID)) {
		t.Fatalf("transaction must be cached")
	}
}

func TestTransactionHandler_Create_EmptyBodyMeansDirect(t *testing.T) {
	d := newTestDeps()
	d.checkout.transaction = testTransaction(models.TransactionStatusPending)

	rr := d.do(http.MethodPost, "/api/transactions", "", &testUserID)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if d.checkout.lastScope != models.CartScopeDirect {
		t.Fatalf("unexpected scope %s", d.checkout.lastScope)
	}
}

func TestTransactionHandler_Create_EmptyCart(t *testing.T) {
	d := newTestDeps()
	d.checkout.err = models.ErrEmptyCart

	rr := d.do(http.MethodPost, "/api/transactions", `{"scope":"direct"}`, &testUserID)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if len(d.producer.events) != 0 {
		t.Fatalf("no event expected")
	}
}

func TestTransactionHandler_Get_CachesAfterFirstRead(t *testing.T) {
	d := newTestDeps()
	tx := testTransaction(models.TransactionStatusPending)
	d.checkout.transaction = tx

	for i := 0; i < 2; i++ {
		rr := d.do(http.MethodGet, "/api/transactions/"+tx.ID.String(), "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}
	if d.checkout.getCalls != 1 {
		t.Fatalf("expected one service call, got %d", d.checkout.getCalls)
	}
}

func TestTransactionHandler_Confirm_InvalidatesCache(t *testing.T) {
	d := newTestDeps()
	tx := testTransaction(models.TransactionStatusConfirmed)
	d.checkout.transaction = tx
	_ = d.cache.Set(context.Background(), transactionCacheKey(tx.ID), testTransaction(models.TransactionStatusPending), 0)

	rr := d.do(http.MethodPost, "/api/admin/transactions/"+tx.ID.String()+"/confirm", `{"payment_method":"BANK_TRANSFER"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if d.cache.has(transactionCacheKey(tx.ID)) {
		t.Fatalf("stale transaction must be evicted")
	}
	if len(d.producer.events) != 1 || d.producer.events[0].oldStatus != models.TransactionStatusPending {
		t.Fatalf("expected status change from PENDING, got %+v", d.producer.events)
	}
}

func TestTransactionHandler_Confirm_NotPending(t *testing.T) {
	d := newTestDeps()
	d.checkout.err = apperror.InvalidState("cannot confirm transaction in status EXPIRED", nil)

	rr := d.do(http.MethodPost, "/api/admin/transactions/"+uuid.NewString()+"/confirm", "", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestTransactionHandler_Refund(t *testing.T) {
	d := newTestDeps()
	d.checkout.transaction = testTransaction(models.TransactionStatusRefunded)

	rr := d.do(http.MethodPost, "/api/admin/transactions/"+uuid.NewString()+"/refund", `{"admin_notes":"customer cancelled"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if d.producer.events[0].oldStatus != models.TransactionStatusConfirmed {
		t.Fatalf("expected status change from CONFIRMED")
	}
}

func TestTransactionHandler_List_Filters(t *testing.T) {
	d := newTestDeps()

	rr := d.do(http.MethodGet, "/api/admin/transactions?status=PENDING&user_id="+testUserID.String(), "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	f := d.checkout.lastFilter
	if f.Status == nil || *f.Status != models.TransactionStatusPending || f.UserID == nil || *f.UserID != testUserID {
		t.Fatalf("unexpected filter %+v", f)
	}

	rr = d.do(http.MethodGet, "/api/admin/transactions?status=PAID", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
