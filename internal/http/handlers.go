package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/assign"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/match"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/storage"
)

// Deps carries the wired services into the HTTP server.
type Deps struct {
	Lifecycle   *lifecycle.Manager
	Coordinator *assign.Coordinator
	Matcher     *match.Service
	Store       storage.RideStore
	Geo         geo.Directory
	Book        notify.AddressBook
	Hub         *hub.Hub
	Kafka       *ingest.KafkaProducer // optional
	Logger      *slog.Logger
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, logger: deps.Logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}/history", s.handleRideHistory).Methods("GET")
	api.HandleFunc("/rides/{id}/status", s.handleUpdateStatus).Methods("POST")
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods("POST")
	api.HandleFunc("/rides/{id}/claim", s.handleClaimRide).Methods("POST")
	api.HandleFunc("/drivers/{id}/availability", s.handleAvailability).Methods("PUT")
	api.HandleFunc("/drivers/{id}/profile", s.handleProfile).Methods("PUT")
	api.HandleFunc("/drivers/{id}/rides/active", s.handleActiveRides).Methods("GET")
	api.HandleFunc("/drivers/{id}/rides/nearby", s.handleNearbyRides).Methods("GET")
	api.HandleFunc("/parties/{id}/push-tokens", s.handleRegisterToken).Methods("POST")
	api.HandleFunc("/parties/{id}/push-tokens", s.handleRemoveToken).Methods("DELETE")

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/ws/{party_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req models.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ride, err := s.deps.Lifecycle.Create(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.deps.Lifecycle.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRideHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Lifecycle.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status     string `json:"status"`
		Actor      string `json:"actor"`
		Note       string `json:"note"`
		FinalPrice *int64 `json:"final_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ride, err := s.deps.Lifecycle.Transition(r.Context(), lifecycle.TransitionRequest{
		RideID:     mux.Vars(r)["id"],
		To:         models.RideStatus(body.Status),
		Actor:      body.Actor,
		Note:       body.Note,
		FinalPrice: body.FinalPrice,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ride, err := s.deps.Lifecycle.Cancel(r.Context(), mux.Vars(r)["id"], body.Actor, body.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleClaimRide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkerID string `json:"worker_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}
	ride, minutes, err := s.deps.Coordinator.Claim(r.Context(), mux.Vars(r)["id"], body.WorkerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": ride, "eta_minutes": minutes})
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.WorkerLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if loc.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}
	// publish to kafka if configured; the consumer folds it into the directory
	if s.deps.Kafka != nil {
		if err := s.deps.Kafka.PublishLocation(r.Context(), loc); err != nil {
			s.logger.Warn("kafka publish failed", "worker", loc.WorkerID, "error", err)
		}
	} else if err := s.deps.Geo.UpsertLocation(r.Context(), loc); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.relayLocation(r, loc)
	w.WriteHeader(http.StatusNoContent)
}

// relayLocation forwards a worker's position to the rider of their active
// ride over the hub.
func (s *Server) relayLocation(r *http.Request, loc models.WorkerLocation) {
	active, err := s.deps.Store.ActiveRidesForWorker(r.Context(), loc.WorkerID)
	if err != nil {
		s.logger.Warn("active ride lookup failed", "worker", loc.WorkerID, "error", err)
		return
	}
	for _, ride := range active {
		s.deps.Hub.SendTo(ride.RiderID, hub.Message{Kind: hub.KindLocationUpdate, Data: map[string]any{
			"ride_id":   ride.ID,
			"worker_id": loc.WorkerID,
			"lat":       loc.Loc.Lat,
			"lon":       loc.Loc.Lon,
			"heading":   loc.Heading,
			"speed":     loc.Speed,
		}})
	}
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Geo.SetAvailability(r.Context(), mux.Vars(r)["id"], body.Available); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var p models.WorkerProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p.WorkerID = mux.Vars(r)["id"]
	if err := s.deps.Geo.SetProfile(r.Context(), p); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActiveRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.deps.Store.ActiveRidesForWorker(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

func (s *Server) handleNearbyRides(w http.ResponseWriter, r *http.Request) {
	workerID := mux.Vars(r)["id"]
	busy, err := s.deps.Coordinator.HasActiveRide(r.Context(), workerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if busy {
		writeError(w, http.StatusConflict, "worker already has an active ride")
		return
	}
	rides, err := s.deps.Matcher.OpenRidesNear(r.Context(), workerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

func (s *Server) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	s.handleToken(w, r, s.deps.Book.Register)
}

func (s *Server) handleRemoveToken(w http.ResponseWriter, r *http.Request) {
	s.handleToken(w, r, s.deps.Book.Remove)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, partyID, address string) error) {
	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	if err := op(r.Context(), mux.Vars(r)["id"], body.Address); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	partyID := mux.Vars(r)["party_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	s.deps.Hub.Attach(partyID, conn)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var verr *lifecycle.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error(), "fields": verr.Fields})
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "ride not found")
	case errors.Is(err, lifecycle.ErrRideClosed):
		writeError(w, http.StatusConflict, "ride already closed")
	case errors.Is(err, assign.ErrWorkerBusy):
		writeError(w, http.StatusConflict, "worker already has an active ride")
	case errors.Is(err, assign.ErrRideTaken):
		writeError(w, http.StatusConflict, "ride already assigned")
	case errors.Is(err, geo.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "geo directory unavailable")
	default:
		s.logger.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
