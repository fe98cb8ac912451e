package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	// ErrNotFound means the ride id is unknown.
	ErrNotFound = errors.New("ride not found")
	// ErrConflict means a conditional write matched zero rows: the ride's
	// current state no longer satisfies the write's precondition.
	ErrConflict = errors.New("ride state conflict")
)

// StatusExtra carries the per-status field stamps applied together with a
// status change. Only non-nil fields are written.
type StatusExtra struct {
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	CancelReason string
	FinalPrice   *int64
}

// RideStore defines persistence operations for rides and their history.
//
// UpdateStatus and ConditionalAssign are single conditional writes: they
// apply only when the row's current status satisfies the precondition
// (non-terminal, and claimable respectively) and return ErrConflict when
// it does not. That compare-and-set is the only synchronization between
// racing callers, in-process or across processes sharing the store.
// UpdateStatus reports an unknown id as ErrNotFound; ConditionalAssign
// folds it into ErrConflict and callers disambiguate with GetRide.
type RideStore interface {
	InsertRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	UpdateStatus(ctx context.Context, id string, status models.RideStatus, extra StatusExtra) (*models.Ride, error)
	ConditionalAssign(ctx context.Context, rideID, workerID string, at time.Time) (*models.Ride, error)
	ActiveRidesForWorker(ctx context.Context, workerID string) ([]*models.Ride, error)
	OpenRides(ctx context.Context) ([]*models.Ride, error)
	AppendHistory(ctx context.Context, e models.RideHistoryEntry) error
	History(ctx context.Context, rideID string) ([]models.RideHistoryEntry, error)
}
