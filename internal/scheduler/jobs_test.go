package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"formation-booking/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransactions struct {
	pending []*models.Transaction
	fail    map[uuid.UUID]bool
	stale   map[uuid.UUID]bool
	expired map[uuid.UUID]bool
}

func (f *fakeTransactions) ListPendingTransactions(context.Context) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, tx := range f.pending {
		if !f.expired[tx.ID] {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeTransactions) ExpireTransaction(_ context.Context, id uuid.UUID) (bool, error) {
	if f.fail[id] {
		return false, errors.New("row locked")
	}
	if f.stale[id] || f.expired[id] {
		return false, nil
	}
	f.expired[id] = true
	return true, nil
}

type fakeOfferings struct {
	offerings []*models.Offering
	updates   map[uuid.UUID]models.OfferingStatus
}

func (f *fakeOfferings) AllOfferings(context.Context) ([]*models.Offering, error) {
	return f.offerings, nil
}

func (f *fakeOfferings) UpdateOfferingStatus(_ context.Context, id uuid.UUID, status models.OfferingStatus) (bool, error) {
	f.updates[id] = status
	return true, nil
}

type fakeTokens struct{ at time.Time }

func (f *fakeTokens) DeactivateExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	f.at = now
	return 4, nil
}

type fakePublisher struct{ events []models.TransactionStatus }

func (f *fakePublisher) PublishTransactionStatusChanged(tx *models.Transaction, old models.TransactionStatus) error {
	f.events = append(f.events, tx.Status)
	return nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func pendingWithStart(start time.Time) *models.Transaction {
	return &models.Transaction{
		ID:        uuid.New(),
		Status:    models.TransactionStatusPending,
		LineItems: []models.LineItem{{OfferingID: uuid.New(), StartDate: &start}},
	}
}

func newTestJobs(tx TransactionStore, off OfferingStore, tok TokenStore, pub StatusPublisher) *Jobs {
	j := NewJobs(tx, off, tok, pub, time.UTC, newTestLogger())
	j.now = func() time.Time { return time.Date(2025, 6, 10, 0, 0, 5, 0, time.UTC) }
	return j
}

func TestExpireStaleTransactions_ContinuesPastFailures(t *testing.T) {
	started := pendingWithStart(date(2025, 6, 9))
	future := pendingWithStart(date(2025, 6, 20))
	today := pendingWithStart(date(2025, 6, 10))
	broken := pendingWithStart(date(2025, 6, 1))
	raced := pendingWithStart(date(2025, 6, 2))

	store := &fakeTransactions{
		pending: []*models.Transaction{broken, started, future, today, raced},
		fail:    map[uuid.UUID]bool{broken.ID: true},
		stale:   map[uuid.UUID]bool{raced.ID: true},
		expired: map[uuid.UUID]bool{},
	}
	publisher := &fakePublisher{}
	jobs := newTestJobs(store, nil, nil, publisher)

	count, err := jobs.ExpireStaleTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, store.expired[started.ID])
	assert.False(t, store.expired[future.ID])
	assert.False(t, store.expired[today.ID], "start day itself has not passed")
	assert.Equal(t, []models.TransactionStatus{models.TransactionStatusExpired}, publisher.events)

	again, err := jobs.ExpireStaleTransactions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again, "second run is a no-op")
}

func TestExpireStaleTransactions_AnyStartedItemExpiresBundle(t *testing.T) {
	early := date(2025, 6, 1)
	late := date(2025, 9, 1)
	tx := &models.Transaction{
		ID:     uuid.New(),
		Status: models.TransactionStatusPending,
		LineItems: []models.LineItem{
			{OfferingID: uuid.New(), StartDate: &late},
			{OfferingID: uuid.New(), StartDate: &early},
		},
	}
	store := &fakeTransactions{pending: []*models.Transaction{tx}, expired: map[uuid.UUID]bool{}}

	count, err := newTestJobs(store, nil, nil, nil).ExpireStaleTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecomputeOfferingStatus(t *testing.T) {
	past, pastEnd := date(2025, 5, 1), date(2025, 5, 3)
	now, nowEnd := date(2025, 6, 9), date(2025, 6, 11)
	later := date(2025, 7, 1)

	ended := &models.Offering{ID: uuid.New(), Status: models.OfferingStatusOngoing, StartDate: &past, EndDate: &pastEnd}
	ongoing := &models.Offering{ID: uuid.New(), Status: models.OfferingStatusUpcoming, StartDate: &now, EndDate: &nowEnd}
	unchanged := &models.Offering{ID: uuid.New(), Status: models.OfferingStatusUpcoming, StartDate: &later}
	undated := &models.Offering{ID: uuid.New(), Status: models.OfferingStatusUpcoming}

	store := &fakeOfferings{
		offerings: []*models.Offering{ended, ongoing, unchanged, undated},
		updates:   map[uuid.UUID]models.OfferingStatus{},
	}

	count, err := newTestJobs(nil, store, nil, nil).RecomputeOfferingStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, models.OfferingStatusEnded, store.updates[ended.ID])
	assert.Equal(t, models.OfferingStatusOngoing, store.updates[ongoing.ID])
	assert.NotContains(t, store.updates, unchanged.ID)
	assert.NotContains(t, store.updates, undated.ID)
}

func TestSweepResetTokens(t *testing.T) {
	tokens := &fakeTokens{}
	jobs := newTestJobs(nil, nil, tokens, nil)

	count, err := jobs.SweepResetTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
	assert.Equal(t, jobs.now(), tokens.at)
}

func TestRegisterAll(t *testing.T) {
	s := newTestScheduler(t, nil)
	jobs := newTestJobs(&fakeTransactions{expired: map[uuid.UUID]bool{}}, &fakeOfferings{updates: map[uuid.UUID]models.OfferingStatus{}}, &fakeTokens{}, nil)

	require.NoError(t, jobs.RegisterAll(s, "0 0 0 * * ?", "0 1 0 * * ?", "0 0 3 * * ?"))
	assert.Equal(t, []string{JobExpireTransactions, JobOfferingStatus, JobTokenSweep}, s.Jobs())
	require.NoError(t, s.RunNow(context.Background(), JobTokenSweep))
}
