package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
)

func seedRide(t *testing.T, s *MemoryStore, id string, status models.RideStatus) *models.Ride {
	t.Helper()
	ride := &models.Ride{
		ID:      id,
		RiderID: "alice",
		Pickup:  models.Coord{Lat: 34.02, Lon: -6.83},
		Dropoff: models.Coord{Lat: 34.05, Lon: -6.80},
		Kind:    models.BookingImmediate,
		Status:  status,
	}
	require.NoError(t, s.InsertRide(context.Background(), ride))
	return ride
}

func TestGetRideReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	seedRide(t, s, "r1", models.StatusPending)

	a, err := s.GetRide(context.Background(), "r1")
	require.NoError(t, err)
	a.Status = models.StatusCancelled

	b, err := s.GetRide(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, b.Status, "callers must not be able to mutate stored state")
}

func TestGetRideNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetRide(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusUnknownRide(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.UpdateStatus(context.Background(), "missing", models.StatusCancelled, StatusExtra{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusRejectsTerminal(t *testing.T) {
	s := NewMemoryStore()
	seedRide(t, s, "r1", models.StatusCompleted)

	_, err := s.UpdateStatus(context.Background(), "r1", models.StatusCancelled, StatusExtra{})
	require.ErrorIs(t, err, ErrConflict)
}

func TestUpdateStatusAppliesExtras(t *testing.T) {
	s := NewMemoryStore()
	seedRide(t, s, "r1", models.StatusInProgress)

	now := time.Now()
	price := int64(1800)
	updated, err := s.UpdateStatus(context.Background(), "r1", models.StatusCompleted, StatusExtra{
		CompletedAt: &now,
		FinalPrice:  &price,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, updated.Status)
	require.Equal(t, now, *updated.CompletedAt)
	require.Equal(t, price, *updated.FinalPrice)
	require.Nil(t, updated.CancelledAt)
}

func TestConditionalAssignOnlyClaimable(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	for _, status := range []models.RideStatus{models.StatusPending, models.StatusOffered} {
		fresh := NewMemoryStore()
		seedRide(t, fresh, "r1", status)
		got, err := fresh.ConditionalAssign(context.Background(), "r1", "bob", now)
		require.NoError(t, err)
		require.Equal(t, models.StatusAccepted, got.Status)
		require.Equal(t, "bob", got.WorkerID)
		require.Equal(t, now, *got.AcceptedAt)
	}

	for _, status := range []models.RideStatus{models.StatusAccepted, models.StatusInProgress, models.StatusCompleted, models.StatusCancelled} {
		seedRide(t, s, string(status), status)
		_, err := s.ConditionalAssign(context.Background(), string(status), "bob", now)
		require.ErrorIs(t, err, ErrConflict)
	}
}

func TestConditionalAssignSecondClaimLoses(t *testing.T) {
	s := NewMemoryStore()
	seedRide(t, s, "r1", models.StatusOffered)

	_, err := s.ConditionalAssign(context.Background(), "r1", "bob", time.Now())
	require.NoError(t, err)

	_, err = s.ConditionalAssign(context.Background(), "r1", "carol", time.Now())
	require.ErrorIs(t, err, ErrConflict)

	got, err := s.GetRide(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, "bob", got.WorkerID)
}

func TestActiveRidesForWorker(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	active := seedRide(t, s, "r1", models.StatusPending)
	_, err := s.ConditionalAssign(ctx, active.ID, "bob", time.Now())
	require.NoError(t, err)

	done := seedRide(t, s, "r2", models.StatusPending)
	_, err = s.ConditionalAssign(ctx, done.ID, "carol", time.Now())
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, done.ID, models.StatusCompleted, StatusExtra{})
	require.NoError(t, err)

	rides, err := s.ActiveRidesForWorker(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, rides, 1)
	require.Equal(t, "r1", rides[0].ID)

	rides, err = s.ActiveRidesForWorker(ctx, "carol")
	require.NoError(t, err)
	require.Empty(t, rides)
}

func TestOpenRides(t *testing.T) {
	s := NewMemoryStore()
	seedRide(t, s, "pending", models.StatusPending)
	seedRide(t, s, "offered", models.StatusOffered)
	seedRide(t, s, "done", models.StatusCompleted)

	open, err := s.OpenRides(context.Background())
	require.NoError(t, err)
	ids := make([]string, len(open))
	for i, r := range open {
		ids[i] = r.ID
	}
	require.ElementsMatch(t, []string{"pending", "offered"}, ids)
}

func TestHistoryIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.AppendHistory(ctx, models.RideHistoryEntry{RideID: "r1", Status: models.StatusPending}))
	require.NoError(t, s.AppendHistory(ctx, models.RideHistoryEntry{RideID: "r1", Status: models.StatusOffered}))

	entries, err := s.History(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries[0].Status = models.StatusCancelled
	again, err := s.History(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, again[0].Status)
}
