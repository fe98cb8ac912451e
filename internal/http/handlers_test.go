package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/assign"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/match"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/storage"
)

type testEnv struct {
	server *Server
	store  *storage.MemoryStore
	geo    *geo.Index
	book   *notify.MemoryAddressBook
}

// newTestEnv wires the services the way cmd/server does, on in-memory
// backends.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	dir := geo.NewIndex()
	book := notify.NewMemoryAddressBook()
	h := hub.New(logger)

	manager := &lifecycle.Manager{Store: store, Hub: h, Logger: logger}
	matcher := &match.Service{Geo: dir, Store: store, Hub: h, Lifecycle: manager, Logger: logger}
	manager.Matcher = matcher
	coordinator := &assign.Coordinator{
		Store:  store,
		Geo:    dir,
		ETA:    &eta.Estimator{SpeedMps: 8, FallbackMinutes: 5},
		Hub:    h,
		Logger: logger,
	}

	server := NewServer(Deps{
		Lifecycle:   manager,
		Coordinator: coordinator,
		Matcher:     matcher,
		Store:       store,
		Geo:         dir,
		Book:        book,
		Hub:         h,
		Logger:      logger,
	})
	return &testEnv{server: server, store: store, geo: dir, book: book}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decodeRide(t *testing.T, rec *httptest.ResponseRecorder) models.Ride {
	t.Helper()
	var ride models.Ride
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ride))
	return ride
}

func bookingBody() map[string]any {
	return map[string]any{
		"rider_id": "alice",
		"pickup":   map[string]any{"lat": 34.020, "lon": -6.830},
		"dropoff":  map[string]any{"lat": 34.050, "lon": -6.800},
		"kind":     "immediate",
	}
}

func (e *testEnv) addDriver(t *testing.T, id string, lat, lon float64) {
	t.Helper()
	rec := e.do(t, "POST", "/internal/driver/locations", map[string]any{
		"worker_id": id,
		"loc":       map[string]any{"lat": lat, "lon": lon},
		"available": true,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func (e *testEnv) rideStatus(t *testing.T, id string) models.RideStatus {
	t.Helper()
	ride, err := e.store.GetRide(context.Background(), id)
	require.NoError(t, err)
	return ride.Status
}

func TestRideLifecycleEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.addDriver(t, "bob", 34.021, -6.831)
	env.addDriver(t, "carol", 34.025, -6.828)

	rec := env.do(t, "POST", "/api/v1/rides", bookingBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	ride := decodeRide(t, rec)
	require.Equal(t, models.StatusPending, ride.Status)

	// matching runs detached from the creation request
	require.Eventually(t, func() bool {
		return env.rideStatus(t, ride.ID) == models.StatusOffered
	}, 2*time.Second, 10*time.Millisecond)

	// first claim wins
	rec = env.do(t, "POST", "/api/v1/rides/"+ride.ID+"/claim", map[string]any{"worker_id": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	var claim struct {
		Ride       models.Ride `json:"ride"`
		ETAMinutes int         `json:"eta_minutes"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&claim))
	require.Equal(t, models.StatusAccepted, claim.Ride.Status)
	require.Equal(t, "bob", claim.Ride.WorkerID)
	require.GreaterOrEqual(t, claim.ETAMinutes, 1)

	// second claim loses
	rec = env.do(t, "POST", "/api/v1/rides/"+ride.ID+"/claim", map[string]any{"worker_id": "carol"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, "POST", "/api/v1/rides/"+ride.ID+"/status", map[string]any{"status": "in_progress", "actor": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, decodeRide(t, rec).StartedAt)

	rec = env.do(t, "POST", "/api/v1/rides/"+ride.ID+"/status", map[string]any{"status": "completed", "actor": "bob", "final_price": 2500})
	require.Equal(t, http.StatusOK, rec.Code)
	done := decodeRide(t, rec)
	require.NotNil(t, done.CompletedAt)
	require.Equal(t, int64(2500), *done.FinalPrice)

	// terminal rides reject further transitions
	rec = env.do(t, "POST", "/api/v1/rides/"+ride.ID+"/cancel", map[string]any{"actor": "alice", "reason": "too late"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, "GET", "/api/v1/rides/"+ride.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		Entries []models.RideHistoryEntry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hist))
	statuses := make([]models.RideStatus, len(hist.Entries))
	for i, e := range hist.Entries {
		statuses[i] = e.Status
	}
	require.Equal(t, []models.RideStatus{
		models.StatusOffered,
		models.StatusAccepted,
		models.StatusInProgress,
		models.StatusCompleted,
	}, statuses)
}

func TestCreateRideValidationFields(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/v1/rides", map[string]any{"kind": "immediate"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error  string   `json:"error"`
		Fields []string `json:"fields"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.ElementsMatch(t, []string{"rider_id", "pickup", "dropoff"}, body.Fields)
}

func TestGetRideNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/v1/rides/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClaimRequiresWorkerID(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/v1/rides/ghost/claim", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClaimByBusyWorker(t *testing.T) {
	env := newTestEnv(t)
	env.addDriver(t, "bob", 34.021, -6.831)

	rec := env.do(t, "POST", "/api/v1/rides", bookingBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeRide(t, rec)
	require.Eventually(t, func() bool {
		return env.rideStatus(t, first.ID) == models.StatusOffered
	}, 2*time.Second, 10*time.Millisecond)

	rec = env.do(t, "POST", "/api/v1/rides/"+first.ID+"/claim", map[string]any{"worker_id": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "POST", "/api/v1/rides", bookingBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decodeRide(t, rec)
	require.Eventually(t, func() bool {
		return env.rideStatus(t, second.ID) == models.StatusOffered
	}, 2*time.Second, 10*time.Millisecond)

	rec = env.do(t, "POST", "/api/v1/rides/"+second.ID+"/claim", map[string]any{"worker_id": "bob"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestNearbyRidesForIdleDriver(t *testing.T) {
	env := newTestEnv(t)
	env.addDriver(t, "bob", 34.021, -6.831)

	rec := env.do(t, "POST", "/api/v1/rides", bookingBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	ride := decodeRide(t, rec)

	require.Eventually(t, func() bool {
		return env.rideStatus(t, ride.ID) == models.StatusOffered
	}, 2*time.Second, 10*time.Millisecond)

	rec = env.do(t, "GET", "/api/v1/drivers/bob/rides/nearby", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Rides []models.Ride `json:"rides"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Rides, 1)
	require.Equal(t, ride.ID, body.Rides[0].ID)
}

func TestNearbyRidesRejectedWhileBusy(t *testing.T) {
	env := newTestEnv(t)
	env.addDriver(t, "bob", 34.021, -6.831)

	rec := env.do(t, "POST", "/api/v1/rides", bookingBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	ride := decodeRide(t, rec)
	require.Eventually(t, func() bool {
		return env.rideStatus(t, ride.ID) == models.StatusOffered
	}, 2*time.Second, 10*time.Millisecond)

	rec = env.do(t, "POST", "/api/v1/rides/"+ride.ID+"/claim", map[string]any{"worker_id": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/api/v1/drivers/bob/rides/nearby", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestAvailabilityToggleAffectsMatching(t *testing.T) {
	env := newTestEnv(t)
	env.addDriver(t, "bob", 34.021, -6.831)

	rec := env.do(t, "PUT", "/api/v1/drivers/bob/availability", map[string]any{"available": false})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, "POST", "/api/v1/rides", bookingBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	ride := decodeRide(t, rec)

	// no candidates: the ride has to stay pending
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, models.StatusPending, env.rideStatus(t, ride.ID))
}

func TestPushTokenRegistration(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/parties/alice/push-tokens", map[string]any{"address": "tok-1"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	addrs, err := env.book.Addresses(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"tok-1"}, addrs)

	rec = env.do(t, "DELETE", "/api/v1/parties/alice/push-tokens", map[string]any{"address": "tok-1"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	addrs, err = env.book.Addresses(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, addrs)

	rec = env.do(t, "POST", "/api/v1/parties/alice/push-tokens", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDriverProfileUpdate(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "PUT", "/api/v1/drivers/bob/profile", map[string]any{
		"name": "Bob", "phone": "+212600000000", "vehicle": "Dacia Logan",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	p, err := env.geo.Profile(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, "Bob", p.Name)
	require.Equal(t, "bob", p.WorkerID)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownStatusRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/v1/rides", bookingBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	ride := decodeRide(t, rec)

	rec = env.do(t, "POST", "/api/v1/rides/"+ride.ID+"/status", map[string]any{"status": "teleported", "actor": "bob"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
