package notify

import (
	"fmt"
	"strconv"

	"github.com/example/ride-dispatch/internal/models"
)

// EventKind is the closed set of domain events the dispatcher can render.
type EventKind string

const (
	EventRideOffer    EventKind = "ride-offer"
	EventRideAssigned EventKind = "ride-assigned"
	EventStatusUpdate EventKind = "ride-status-update"
)

// Event is a domain event to be rendered into a push message.
type Event struct {
	Kind       EventKind
	RideID     string
	Status     models.RideStatus
	Pickup     models.Coord
	ETAMinutes int
	Worker     models.WorkerProfile
}

// Render builds the user-facing title/body pair and the structured data
// payload delivered alongside it.
func (e Event) Render() (title, body string, data map[string]string) {
	data = map[string]string{
		"kind":    string(e.Kind),
		"ride_id": e.RideID,
	}
	switch e.Kind {
	case EventRideOffer:
		title = "New ride available"
		body = "A ride near you is waiting for a driver"
		if e.Pickup.Label != "" {
			body = fmt.Sprintf("Pickup at %s", e.Pickup.Label)
		}
		data["pickup_lat"] = fmt.Sprintf("%.6f", e.Pickup.Lat)
		data["pickup_lon"] = fmt.Sprintf("%.6f", e.Pickup.Lon)
	case EventRideAssigned:
		title = "Driver assigned"
		name := e.Worker.Name
		if name == "" {
			name = "Your driver"
		}
		body = fmt.Sprintf("%s is on the way, about %d min out", name, e.ETAMinutes)
		data["worker_id"] = e.Worker.WorkerID
		data["eta_minutes"] = strconv.Itoa(e.ETAMinutes)
		if e.Worker.Phone != "" {
			data["worker_phone"] = e.Worker.Phone
		}
		if e.Worker.Vehicle != "" {
			data["worker_vehicle"] = e.Worker.Vehicle
		}
	case EventStatusUpdate:
		title = "Ride update"
		body = statusLine(e.Status)
		data["status"] = string(e.Status)
	default:
		title = "Ride update"
		body = "Your ride was updated"
	}
	return title, body, data
}

func statusLine(s models.RideStatus) string {
	switch s {
	case models.StatusDriverArrived:
		return "Your driver has arrived"
	case models.StatusInProgress:
		return "Your ride has started"
	case models.StatusCompleted:
		return "Your ride is complete"
	case models.StatusCancelled:
		return "Your ride was cancelled"
	default:
		return fmt.Sprintf("Your ride is now %s", s)
	}
}
