package match

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// DefaultRadiusMeters is the candidate search radius around the pickup.
const DefaultRadiusMeters = 5000

// Transitioner is the slice of the lifecycle manager the matcher needs.
type Transitioner interface {
	Transition(ctx context.Context, req lifecycle.TransitionRequest) (*models.Ride, error)
}

// Service finds available workers near a ride's pickup and alerts them.
type Service struct {
	Geo          geo.Directory
	Store        storage.RideStore
	Hub          lifecycle.Broadcaster
	Notifier     lifecycle.Notifier
	Lifecycle    Transitioner
	RadiusMeters float64
	Logger       *slog.Logger
}

func (s *Service) radius() float64 {
	if s.RadiusMeters > 0 {
		return s.RadiusMeters
	}
	return DefaultRadiusMeters
}

// MatchAndNotify alerts every available worker within the radius of the
// ride's pickup and moves the ride to offered. Zero candidates is an
// expected outcome: the ride stays pending and no error is raised. Push and
// broadcast delivery are best-effort; the offer transition happens
// regardless of how many candidates were actually reachable.
func (s *Service) MatchAndNotify(ctx context.Context, ride *models.Ride) error {
	cands, err := s.Geo.FindAvailableWithinRadius(ctx, ride.Pickup.Lat, ride.Pickup.Lon, s.radius())
	if err != nil {
		return err
	}
	if len(cands) == 0 {
		observability.EmptyMatches.Inc()
		s.Logger.Info("no candidates in radius", "ride", ride.ID, "radius_m", s.radius())
		return nil
	}

	parties := make([]string, len(cands))
	for i, c := range cands {
		parties[i] = c.WorkerID
	}
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, parties, notify.Event{
			Kind:   notify.EventRideOffer,
			RideID: ride.ID,
			Pickup: ride.Pickup,
		})
	}
	if s.Hub != nil {
		for _, c := range cands {
			s.Hub.SendTo(c.WorkerID, hub.Message{Kind: hub.KindRideOffer, Data: map[string]any{
				"ride_id":            ride.ID,
				"pickup":             ride.Pickup,
				"dropoff":            ride.Dropoff,
				"estimated_price":    ride.EstimatedPrice,
				"distance_to_pickup": c.Distance,
			}})
		}
	}

	_, err = s.Lifecycle.Transition(ctx, lifecycle.TransitionRequest{
		RideID: ride.ID,
		To:     models.StatusOffered,
		Actor:  "system",
	})
	if errors.Is(err, lifecycle.ErrRideClosed) {
		// Cancelled between creation and matching; nothing left to offer.
		s.Logger.Info("ride closed before offer", "ride", ride.ID)
		return nil
	}
	if err != nil {
		return err
	}
	observability.OffersTotal.Inc()
	s.Logger.Info("ride offered", "ride", ride.ID, "candidates", len(cands))
	return nil
}

// OpenRidesNear returns pending/offered rides whose pickup lies within the
// match radius of the worker's current position.
func (s *Service) OpenRidesNear(ctx context.Context, workerID string) ([]*models.Ride, error) {
	pos, known, err := s.Geo.WorkerPosition(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, nil
	}
	open, err := s.Store.OpenRides(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Ride, 0, len(open))
	for _, r := range open {
		if geo.Haversine(pos.Lat, pos.Lon, r.Pickup.Lat, r.Pickup.Lon) <= s.radius() {
			out = append(out, r)
		}
	}
	return out, nil
}
