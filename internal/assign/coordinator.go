package assign

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

var (
	// ErrWorkerBusy means the claiming worker already has an active ride.
	ErrWorkerBusy = errors.New("worker already has an active ride")
	// ErrRideTaken means the conditional claim matched nothing: another
	// worker won the race or the ride is no longer claimable.
	ErrRideTaken = errors.New("ride already assigned")
)

// Coordinator resolves claim races. The store's conditional assign is the
// sole concurrency mechanism; there is deliberately no in-process lock, as
// correctness must hold across process instances sharing the store.
type Coordinator struct {
	Store    storage.RideStore
	Geo      geo.Directory
	ETA      *eta.Estimator
	Hub      lifecycle.Broadcaster
	Notifier lifecycle.Notifier
	Logger   *slog.Logger
}

// Claim attempts to make workerID the assigned worker of the ride. On
// success it returns the accepted ride and the arrival estimate in minutes.
func (c *Coordinator) Claim(ctx context.Context, rideID, workerID string) (*models.Ride, int, error) {
	// The busy check is a plain read ahead of the conditional assign, so
	// two simultaneous claims by the same worker on different rides can
	// both pass it. Only the per-ride assign below is race-proof; the
	// one-active-ride rule is enforced per request, not transactionally.
	active, err := c.Store.ActiveRidesForWorker(ctx, workerID)
	if err != nil {
		return nil, 0, err
	}
	if len(active) > 0 {
		observability.ClaimsTotal.WithLabelValues("busy").Inc()
		return nil, 0, ErrWorkerBusy
	}

	now := time.Now()
	ride, err := c.Store.ConditionalAssign(ctx, rideID, workerID, now)
	if errors.Is(err, storage.ErrConflict) {
		observability.ClaimsTotal.WithLabelValues("lost").Inc()
		if _, gerr := c.Store.GetRide(ctx, rideID); errors.Is(gerr, storage.ErrNotFound) {
			return nil, 0, gerr
		}
		// Expected outcome of a race, not a fault.
		c.Logger.Info("claim lost", "ride", rideID, "worker", workerID)
		return nil, 0, ErrRideTaken
	}
	if err != nil {
		return nil, 0, err
	}
	observability.ClaimsTotal.WithLabelValues("won").Inc()
	c.Logger.Info("ride claimed", "ride", rideID, "worker", workerID)

	if err := c.Store.AppendHistory(ctx, models.RideHistoryEntry{
		RideID:     ride.ID,
		Status:     models.StatusAccepted,
		ActorID:    workerID,
		RecordedAt: now,
	}); err != nil {
		c.Logger.Error("history append failed", "ride", ride.ID, "error", err)
	}

	minutes := c.arrivalEstimate(ctx, workerID, ride.Pickup)
	profile := c.workerProfile(ctx, workerID)

	if c.Notifier != nil {
		c.Notifier.Notify(ctx, []string{ride.RiderID}, notify.Event{
			Kind:       notify.EventRideAssigned,
			RideID:     ride.ID,
			Status:     ride.Status,
			ETAMinutes: minutes,
			Worker:     profile,
		})
	}
	if c.Hub != nil {
		c.Hub.SendTo(ride.RiderID, hub.Message{Kind: hub.KindRideAssigned, Data: map[string]any{
			"ride_id":        ride.ID,
			"worker_id":      workerID,
			"worker_name":    profile.Name,
			"worker_phone":   profile.Phone,
			"worker_vehicle": profile.Vehicle,
			"eta_minutes":    minutes,
		}})
	}
	return ride, minutes, nil
}

// HasActiveRide reports whether the worker is committed to a ride in an
// active status.
func (c *Coordinator) HasActiveRide(ctx context.Context, workerID string) (bool, error) {
	active, err := c.Store.ActiveRidesForWorker(ctx, workerID)
	if err != nil {
		return false, err
	}
	return len(active) > 0, nil
}

func (c *Coordinator) arrivalEstimate(ctx context.Context, workerID string, pickup models.Coord) int {
	pos, known, err := c.Geo.WorkerPosition(ctx, workerID)
	if err != nil {
		c.Logger.Warn("worker position lookup failed", "worker", workerID, "error", err)
		known = false
	}
	return c.ETA.MinutesToPickup(ctx, pos, pickup, known)
}

func (c *Coordinator) workerProfile(ctx context.Context, workerID string) models.WorkerProfile {
	p, err := c.Geo.Profile(ctx, workerID)
	if err != nil {
		c.Logger.Warn("worker profile lookup failed", "worker", workerID, "error", err)
		return models.WorkerProfile{WorkerID: workerID}
	}
	return p
}
