package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// ErrRideClosed means the ride already reached a terminal state; its
// persisted state was left untouched.
var ErrRideClosed = errors.New("ride already closed")

// ValidationError lists the missing or malformed booking fields.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid booking: " + strings.Join(e.Fields, ", ")
}

// Broadcaster is the realtime side channel toward connected parties.
type Broadcaster interface {
	SendTo(partyID string, msg hub.Message)
}

// Notifier is the push side channel. The bool only reports whether anything
// was handed to the gateway; callers ignore it.
type Notifier interface {
	Notify(ctx context.Context, partyIDs []string, ev notify.Event) bool
}

// Matcher is triggered asynchronously after a ride is created.
type Matcher interface {
	MatchAndNotify(ctx context.Context, ride *models.Ride) error
}

// statusEffects maps a status to the field stamps applied when entering it.
// Adding a status means adding a table entry, not new branching.
var statusEffects = map[models.RideStatus]func(x *storage.StatusExtra, now time.Time){
	models.StatusInProgress: func(x *storage.StatusExtra, now time.Time) { x.StartedAt = &now },
	models.StatusCompleted:  func(x *storage.StatusExtra, now time.Time) { x.CompletedAt = &now },
	models.StatusCancelled:  func(x *storage.StatusExtra, now time.Time) { x.CancelledAt = &now },
}

var knownStatuses = map[models.RideStatus]bool{
	models.StatusPending:       true,
	models.StatusOffered:       true,
	models.StatusAccepted:      true,
	models.StatusDriverArrived: true,
	models.StatusInProgress:    true,
	models.StatusCompleted:     true,
	models.StatusCancelled:     true,
}

// Manager owns the ride state machine. Every transition is persisted and
// logged to the history table; broadcast and push notifications are
// best-effort side effects that never influence the outcome.
type Manager struct {
	Store    storage.RideStore
	Hub      Broadcaster
	Notifier Notifier
	Matcher  Matcher
	Logger   *slog.Logger
}

// Create validates the booking, persists the ride in pending and kicks off
// matching in the background. The caller gets the pending ride immediately;
// the matcher's later transition to offered is not awaited.
func (m *Manager) Create(ctx context.Context, req models.BookingRequest) (*models.Ride, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	kind := req.Kind
	if kind == "" {
		kind = models.BookingImmediate
	}
	now := time.Now()
	ride := &models.Ride{
		ID:               uuid.NewString(),
		RiderID:          req.RiderID,
		Pickup:           req.Pickup,
		Dropoff:          req.Dropoff,
		Kind:             kind,
		ScheduledAt:      req.ScheduledAt,
		RiderContact:     req.RiderContact,
		RecipientContact: req.RecipientContact,
		Notes:            req.Notes,
		Status:           models.StatusPending,
		EstimatedPrice:   req.EstimatedPrice,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.Store.InsertRide(ctx, ride); err != nil {
		return nil, err
	}
	observability.RidesCreated.Inc()
	m.Logger.Info("ride created", "ride", ride.ID, "rider", ride.RiderID, "kind", kind)

	if m.Matcher != nil {
		// Detached from the request context: the creation call returns
		// before matching finishes.
		bg := context.WithoutCancel(ctx)
		r := *ride
		go func() {
			if err := m.Matcher.MatchAndNotify(bg, &r); err != nil {
				m.Logger.Error("matching failed", "ride", r.ID, "error", err)
			}
		}()
	}
	return ride, nil
}

// TransitionRequest describes one requested status change.
type TransitionRequest struct {
	RideID     string
	To         models.RideStatus
	Actor      string
	Note       string
	FinalPrice *int64
}

// Transition moves the ride to the requested status. Beyond "not already
// terminal" the from→to edge is not validated; callers are responsible for
// requesting legal transitions.
func (m *Manager) Transition(ctx context.Context, req TransitionRequest) (*models.Ride, error) {
	if !knownStatuses[req.To] {
		return nil, &ValidationError{Fields: []string{"status"}}
	}
	current, err := m.Store.GetRide(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, ErrRideClosed
	}

	now := time.Now()
	var extra storage.StatusExtra
	if effect, ok := statusEffects[req.To]; ok {
		effect(&extra, now)
	}
	if req.To == models.StatusCancelled {
		extra.CancelReason = req.Note
	}
	if req.To == models.StatusCompleted {
		extra.FinalPrice = req.FinalPrice
	}

	updated, err := m.Store.UpdateStatus(ctx, req.RideID, req.To, extra)
	if errors.Is(err, storage.ErrConflict) {
		// Lost a race against a concurrent terminal transition.
		return nil, ErrRideClosed
	}
	if err != nil {
		return nil, err
	}

	if err := m.Store.AppendHistory(ctx, models.RideHistoryEntry{
		RideID:     updated.ID,
		Status:     updated.Status,
		ActorID:    req.Actor,
		Note:       req.Note,
		RecordedAt: now,
	}); err != nil {
		m.Logger.Error("history append failed", "ride", updated.ID, "error", err)
	}
	observability.TransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
	m.Logger.Info("ride transitioned", "ride", updated.ID, "status", updated.Status, "actor", req.Actor)

	m.broadcast(updated)
	if m.Notifier != nil {
		m.Notifier.Notify(ctx, []string{updated.RiderID}, notify.Event{
			Kind:   notify.EventStatusUpdate,
			RideID: updated.ID,
			Status: updated.Status,
		})
	}
	return updated, nil
}

func (m *Manager) broadcast(r *models.Ride) {
	if m.Hub == nil {
		return
	}
	msg := hub.Message{Kind: hub.KindStatusUpdate, Data: map[string]any{
		"ride_id":   r.ID,
		"status":    r.Status,
		"worker_id": r.WorkerID,
	}}
	m.Hub.SendTo(r.RiderID, msg)
	if r.WorkerID != "" {
		m.Hub.SendTo(r.WorkerID, msg)
	}
}

// Cancel is sugar for a transition to cancelled carrying the reason.
func (m *Manager) Cancel(ctx context.Context, rideID, actor, reason string) (*models.Ride, error) {
	return m.Transition(ctx, TransitionRequest{
		RideID: rideID,
		To:     models.StatusCancelled,
		Actor:  actor,
		Note:   reason,
	})
}

func (m *Manager) Get(ctx context.Context, rideID string) (*models.Ride, error) {
	return m.Store.GetRide(ctx, rideID)
}

func (m *Manager) History(ctx context.Context, rideID string) ([]models.RideHistoryEntry, error) {
	if _, err := m.Store.GetRide(ctx, rideID); err != nil {
		return nil, err
	}
	return m.Store.History(ctx, rideID)
}

func validate(req models.BookingRequest) error {
	var missing []string
	if req.RiderID == "" {
		missing = append(missing, "rider_id")
	}
	if req.Pickup.Zero() {
		missing = append(missing, "pickup")
	}
	if req.Dropoff.Zero() {
		missing = append(missing, "dropoff")
	}
	switch req.Kind {
	case "", models.BookingImmediate:
	case models.BookingScheduled:
		if req.ScheduledAt == nil {
			missing = append(missing, "scheduled_at")
		}
	default:
		missing = append(missing, "kind")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}
