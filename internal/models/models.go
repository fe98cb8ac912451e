package models

import "time"

type Coord struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Label string  `json:"label,omitempty"`
}

// Zero reports whether the coordinate was left unset. (0,0) is open ocean,
// so treating it as "missing" is acceptable for a city dispatch service.
func (c Coord) Zero() bool { return c.Lat == 0 && c.Lon == 0 }

type BookingKind string

const (
	BookingImmediate BookingKind = "immediate"
	BookingScheduled BookingKind = "scheduled"
)

type RideStatus string

const (
	StatusPending       RideStatus = "pending"
	StatusOffered       RideStatus = "offered"
	StatusAccepted      RideStatus = "accepted"
	StatusDriverArrived RideStatus = "driver_arrived"
	StatusInProgress    RideStatus = "in_progress"
	StatusCompleted     RideStatus = "completed"
	StatusCancelled     RideStatus = "cancelled"
)

// Terminal reports whether no further transitions are accepted from s.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active statuses mean a worker is committed to the ride.
func (s RideStatus) Active() bool {
	return s == StatusAccepted || s == StatusDriverArrived || s == StatusInProgress
}

// Claimable statuses are the ones a worker may still win.
func (s RideStatus) Claimable() bool {
	return s == StatusPending || s == StatusOffered
}

type Contact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Ride struct {
	ID               string      `json:"id"`
	RiderID          string      `json:"rider_id"`
	WorkerID         string      `json:"worker_id,omitempty"`
	Pickup           Coord       `json:"pickup"`
	Dropoff          Coord       `json:"dropoff"`
	Kind             BookingKind `json:"kind"`
	ScheduledAt      *time.Time  `json:"scheduled_at,omitempty"`
	RiderContact     Contact     `json:"rider_contact"`
	RecipientContact *Contact    `json:"recipient_contact,omitempty"` // delivery bookings only
	Notes            string      `json:"notes,omitempty"`
	Status           RideStatus  `json:"status"`
	EstimatedPrice   int64       `json:"estimated_price"` // minor currency units
	FinalPrice       *int64      `json:"final_price,omitempty"`
	AcceptedAt       *time.Time  `json:"accepted_at,omitempty"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	CancelledAt      *time.Time  `json:"cancelled_at,omitempty"`
	CancelReason     string      `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// BookingRequest is the creation payload for a ride.
type BookingRequest struct {
	RiderID          string      `json:"rider_id"`
	Pickup           Coord       `json:"pickup"`
	Dropoff          Coord       `json:"dropoff"`
	Kind             BookingKind `json:"kind"`
	ScheduledAt      *time.Time  `json:"scheduled_at,omitempty"`
	RiderContact     Contact     `json:"rider_contact"`
	RecipientContact *Contact    `json:"recipient_contact,omitempty"`
	Notes            string      `json:"notes,omitempty"`
	EstimatedPrice   int64       `json:"estimated_price"`
}

// RideHistoryEntry is one append-only row of the transition log.
type RideHistoryEntry struct {
	RideID     string     `json:"ride_id"`
	Status     RideStatus `json:"status"`
	ActorID    string     `json:"actor_id"`
	Note       string     `json:"note,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// WorkerLocation is the last reported position of a worker. One row per
// worker; every report replaces the previous one.
type WorkerLocation struct {
	WorkerID  string    `json:"worker_id"`
	Loc       Coord     `json:"loc"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Available bool      `json:"available"`
	Updated   time.Time `json:"updated"`
}

// Candidate is a worker returned by a radius search, with its distance to
// the query point in meters.
type Candidate struct {
	WorkerID string    `json:"worker_id"`
	Loc      Coord     `json:"loc"`
	Distance float64   `json:"distance_meters"`
	Updated  time.Time `json:"updated"`
}

// WorkerProfile is the display/contact info attached to assignment
// notifications toward the rider.
type WorkerProfile struct {
	WorkerID string `json:"worker_id"`
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Vehicle  string `json:"vehicle,omitempty"`
}
