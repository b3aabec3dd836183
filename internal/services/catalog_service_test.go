package services

import (
	"context"
	"testing"

	"formation-booking/internal/apperror"
	"formation-booking/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestCatalogService_GetOffering_DerivesStatus(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	svc := newTestServices(db, nil).catalog
	start := day(2025, 6, 9)
	end := day(2025, 6, 12)
	offering := &models.Offering{ID: uuid.New(), Kind: models.OfferingKindFormation, Title: "Kubernetes", Price: decimal.NewFromInt(300),
		StartDate: &start, EndDate: &end, Status: models.OfferingStatusUpcoming}

	mock.ExpectQuery("SELECT (.+) FROM offerings WHERE id = \\$1").
		WithArgs(offering.ID).
		WillReturnRows(offeringRows(offering))

	got, err := svc.GetOffering(context.Background(), nil, offering.ID)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got.Status != models.OfferingStatusOngoing {
		t.Fatalf("expected ONGOING on %v, got %s", testNow, got.Status)
	}
}

func TestCatalogService_GetOffering_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	svc := newTestServices(db, nil).catalog
	mock.ExpectQuery("SELECT (.+) FROM offerings").WillReturnRows(sqlmock.NewRows(offeringColumnNames))

	if _, err := svc.GetOffering(context.Background(), nil, uuid.New()); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogService_ListOfferings_ByKind(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	svc := newTestServices(db, nil).catalog
	kind := models.OfferingKindSessionEvent
	event := &models.Offering{ID: uuid.New(), Kind: kind, Status: models.OfferingStatusEnded}

	mock.ExpectQuery("SELECT (.+) FROM offerings WHERE kind = \\$1 ORDER BY start_date NULLS LAST, id LIMIT \\$2 OFFSET \\$3").
		WithArgs("session_event", 50, 0).
		WillReturnRows(offeringRows(event))

	list, err := svc.ListOfferings(context.Background(), &kind, 0, 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("unexpected result: %v %v", list, err)
	}
}

func TestCatalogService_UpdateOfferingStatus_OnlyWhenChanged(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	svc := newTestServices(db, nil).catalog
	id := uuid.New()

	mock.ExpectExec("UPDATE offerings SET status = \\$1, updated_at = \\$2 WHERE id = \\$3 AND status <> \\$1").
		WithArgs("ENDED", testNow, id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := svc.UpdateOfferingStatus(context.Background(), id, models.OfferingStatusEnded)
	if err != nil || changed {
		t.Fatalf("expected no change, got %v %v", changed, err)
	}
}

func TestCatalogService_EnrollParticipant_Idempotent(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	svc := newTestServices(db, nil).catalog
	offeringID, userID := uuid.New(), uuid.New()

	mock.ExpectExec("INSERT INTO offering_participants (.+) ON CONFLICT \\(offering_id, user_id\\) DO NOTHING").
		WithArgs(offeringID, userID, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO offering_participants").
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := svc.EnrollParticipant(context.Background(), nil, offeringID, userID)
	if err != nil || !first {
		t.Fatalf("expected enrollment, got %v %v", first, err)
	}
	second, err := svc.EnrollParticipant(context.Background(), nil, offeringID, userID)
	if err != nil || second {
		t.Fatalf("repeated enrollment must be a no-op, got %v %v", second, err)
	}
}

func TestCatalogService_UnenrollParticipant_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	svc := newTestServices(db, nil).catalog
	mock.ExpectExec("DELETE FROM offering_participants").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := svc.UnenrollParticipant(context.Background(), uuid.New(), uuid.New()); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogService_Participants(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	svc := newTestServices(db, nil).catalog
	offeringID, userID := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT user_id FROM offering_participants").
		WithArgs(offeringID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(userID.String()))

	users, err := svc.Participants(context.Background(), offeringID)
	if err != nil || len(users) != 1 || users[0] != userID {
		t.Fatalf("unexpected participants: %v %v", users, err)
	}
}
