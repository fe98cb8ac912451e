package notify

import (
	"context"
	"log/slog"

	"github.com/example/ride-dispatch/internal/observability"
)

// Dispatcher converts domain events into push messages and forwards them to
// the external gateway. It is strictly best-effort: every failure is logged
// and absorbed here, and the return value only reports whether anything was
// actually handed to the gateway. Ride state correctness never depends on it.
type Dispatcher struct {
	book    AddressBook
	gateway Gateway
	logger  *slog.Logger
}

func NewDispatcher(book AddressBook, gateway Gateway, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{book: book, gateway: gateway, logger: logger}
}

// Notify renders the event once and submits it to every registered address
// of every listed party as a single batch. Parties without addresses are
// skipped. Returns false when nothing was delivered.
func (d *Dispatcher) Notify(ctx context.Context, partyIDs []string, ev Event) bool {
	title, body, data := ev.Render()
	var msgs []GatewayMessage
	for _, party := range partyIDs {
		addrs, err := d.book.Addresses(ctx, party)
		if err != nil {
			d.logger.Warn("push address lookup failed", "party", party, "error", err)
			continue
		}
		for _, a := range addrs {
			msgs = append(msgs, GatewayMessage{Address: a, Title: title, Body: body, Data: data})
		}
	}
	if len(msgs) == 0 {
		observability.PushBatches.WithLabelValues("empty").Inc()
		return false
	}
	results, err := d.gateway.SendBatch(ctx, msgs)
	if err != nil {
		observability.PushBatches.WithLabelValues("error").Inc()
		d.logger.Warn("push batch failed", "kind", ev.Kind, "ride", ev.RideID, "size", len(msgs), "error", err)
		return false
	}
	accepted := 0
	for _, r := range results {
		if r.Accepted {
			accepted++
			continue
		}
		observability.PushRejected.Inc()
		// Expired/malformed addresses are left for housekeeping to prune.
		d.logger.Info("push address rejected", "kind", ev.Kind, "ride", ev.RideID, "address", r.Address, "reason", r.Error)
	}
	if accepted == 0 {
		observability.PushBatches.WithLabelValues("rejected").Inc()
		return false
	}
	observability.PushBatches.WithLabelValues("ok").Inc()
	return true
}
