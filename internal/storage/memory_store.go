package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore keeps rides in process memory. It backs redis/postgres-less
// local runs and tests; the conditional writes hold the same exactly-one
// semantics as the SQL versions, guarded by the store mutex.
type MemoryStore struct {
	mu      sync.RWMutex
	rides   map[string]*models.Ride
	history map[string][]models.RideHistoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:   make(map[string]*models.Ride),
		history: make(map[string][]models.RideHistoryEntry),
	}
}

func (m *MemoryStore) InsertRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.RideStatus, extra StatusExtra) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status.Terminal() {
		return nil, ErrConflict
	}
	r.Status = status
	if extra.StartedAt != nil {
		r.StartedAt = extra.StartedAt
	}
	if extra.CompletedAt != nil {
		r.CompletedAt = extra.CompletedAt
	}
	if extra.CancelledAt != nil {
		r.CancelledAt = extra.CancelledAt
	}
	if extra.CancelReason != "" {
		r.CancelReason = extra.CancelReason
	}
	if extra.FinalPrice != nil {
		r.FinalPrice = extra.FinalPrice
	}
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ConditionalAssign(ctx context.Context, rideID, workerID string, at time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok || !r.Status.Claimable() {
		return nil, ErrConflict
	}
	r.WorkerID = workerID
	r.Status = models.StatusAccepted
	t := at
	r.AcceptedAt = &t
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ActiveRidesForWorker(ctx context.Context, workerID string) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.WorkerID == workerID && r.Status.Active() {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) OpenRides(ctx context.Context) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status.Claimable() {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendHistory(ctx context.Context, e models.RideHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[e.RideID] = append(m.history[e.RideID], e)
	return nil
}

func (m *MemoryStore) History(ctx context.Context, rideID string) ([]models.RideHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.history[rideID]
	out := make([]models.RideHistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}
