package hub

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/observability"
)

// Message is the envelope pushed to connected parties.
type Message struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// Push kinds delivered over live sessions.
const (
	KindRideOffer      = "ride:offer"
	KindRideAssigned   = "ride:assigned"
	KindStatusUpdate   = "ride:status-update"
	KindLocationUpdate = "driver:location-update"
)

// Session wraps one websocket connection. Writes are serialized; gorilla
// connections do not allow concurrent writers.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) Send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *Session) Close() error { return s.conn.Close() }

// Hub keys live sessions by party identity. A party may hold several
// concurrent sessions (several devices). The registry is process-local;
// a multi-instance deployment needs sticky routing in front of it.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]bool
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]map[*Session]bool),
		logger:   logger,
	}
}

func (h *Hub) Register(partyID string, conn *websocket.Conn) *Session {
	s := &Session{conn: conn}
	h.mu.Lock()
	set, ok := h.sessions[partyID]
	if !ok {
		set = make(map[*Session]bool)
		h.sessions[partyID] = set
	}
	set[s] = true
	h.mu.Unlock()
	observability.LiveSessions.Inc()
	h.logger.Debug("session registered", "party", partyID)
	return s
}

// Unregister is idempotent: removing an already-absent session is a no-op.
func (h *Hub) Unregister(partyID string, s *Session) {
	h.mu.Lock()
	set, ok := h.sessions[partyID]
	removed := false
	if ok {
		if _, present := set[s]; present {
			delete(set, s)
			removed = true
		}
		if len(set) == 0 {
			delete(h.sessions, partyID)
		}
	}
	h.mu.Unlock()
	if removed {
		observability.LiveSessions.Dec()
		h.logger.Debug("session unregistered", "party", partyID)
	}
}

// Attach registers the connection and pumps inbound frames until the peer
// goes away, then tears the session down. Inbound payloads are discarded;
// the hub is push-only.
func (h *Hub) Attach(partyID string, conn *websocket.Conn) {
	s := h.Register(partyID, conn)
	go func() {
		defer func() {
			h.Unregister(partyID, s)
			_ = s.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// SendTo writes the message to every live session of the party. Fire and
// forget: a party with no sessions simply misses the update and reconciles
// via a read on reconnect. Per-session write failures are logged and
// swallowed.
func (h *Hub) SendTo(partyID string, msg Message) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions[partyID]))
	for s := range h.sessions[partyID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	for _, s := range targets {
		if err := s.Send(msg); err != nil {
			h.logger.Warn("ws send failed", "party", partyID, "kind", msg.Kind, "error", err)
		}
	}
}

// SendToAll delivers an operational broadcast to every live session.
func (h *Hub) SendToAll(msg Message) {
	h.mu.RLock()
	targets := make([]*Session, 0)
	for _, set := range h.sessions {
		for s := range set {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range targets {
		if err := s.Send(msg); err != nil {
			h.logger.Warn("ws broadcast send failed", "kind", msg.Kind, "error", err)
		}
	}
}

// SessionCount reports the number of live sessions for a party.
func (h *Hub) SessionCount(partyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[partyID])
}
