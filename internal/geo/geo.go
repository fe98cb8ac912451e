package geo

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrUnavailable wraps backend failures so callers can treat "the directory
// is unreachable" uniformly regardless of implementation.
var ErrUnavailable = errors.New("geo directory unavailable")

// Directory is the worker-position store consumed by the matcher and the
// assignment coordinator.
type Directory interface {
	FindAvailableWithinRadius(ctx context.Context, lat, lon, radiusMeters float64) ([]models.Candidate, error)
	UpsertLocation(ctx context.Context, loc models.WorkerLocation) error
	SetAvailability(ctx context.Context, workerID string, available bool) error
	WorkerPosition(ctx context.Context, workerID string) (models.Coord, bool, error)
	SetProfile(ctx context.Context, p models.WorkerProfile) error
	Profile(ctx context.Context, workerID string) (models.WorkerProfile, error)
}

// Index is the in-memory Directory used for redis-less runs and tests.
type Index struct {
	mu       sync.RWMutex
	workers  map[string]models.WorkerLocation
	profiles map[string]models.WorkerProfile
}

func NewIndex() *Index {
	return &Index{
		workers:  make(map[string]models.WorkerLocation),
		profiles: make(map[string]models.WorkerProfile),
	}
}

func (g *Index) UpsertLocation(ctx context.Context, loc models.WorkerLocation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	loc.Updated = time.Now()
	g.workers[loc.WorkerID] = loc
	return nil
}

func (g *Index) SetAvailability(ctx context.Context, workerID string, available bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w := g.workers[workerID]
	w.WorkerID = workerID
	w.Available = available
	w.Updated = time.Now()
	g.workers[workerID] = w
	return nil
}

// naive scan; in prod deployments the Redis implementation carries the load
func (g *Index) FindAvailableWithinRadius(ctx context.Context, lat, lon, radiusMeters float64) ([]models.Candidate, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Candidate, 0, len(g.workers))
	for _, w := range g.workers {
		if !w.Available {
			continue
		}
		dist := Haversine(lat, lon, w.Loc.Lat, w.Loc.Lon)
		if dist > radiusMeters {
			continue
		}
		out = append(out, models.Candidate{WorkerID: w.WorkerID, Loc: w.Loc, Distance: dist, Updated: w.Updated})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

func (g *Index) WorkerPosition(ctx context.Context, workerID string) (models.Coord, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	w, ok := g.workers[workerID]
	if !ok {
		return models.Coord{}, false, nil
	}
	return w.Loc, true, nil
}

func (g *Index) SetProfile(ctx context.Context, p models.WorkerProfile) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.profiles[p.WorkerID] = p
	return nil
}

func (g *Index) Profile(ctx context.Context, workerID string) (models.WorkerProfile, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.profiles[workerID]
	if !ok {
		return models.WorkerProfile{WorkerID: workerID}, nil
	}
	return p, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
