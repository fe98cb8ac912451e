package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

const rideColumns = `id, rider_id, worker_id, pickup_lat, pickup_lon, pickup_label,
	dropoff_lat, dropoff_lon, dropoff_label, kind, scheduled_at,
	rider_name, rider_phone, recipient_name, recipient_phone, notes,
	status, estimated_price, final_price,
	accepted_at, started_at, completed_at, cancelled_at, cancel_reason,
	created_at, updated_at`

func (p *PostgresStore) InsertRide(ctx context.Context, r *models.Ride) error {
	var recName, recPhone sql.NullString
	if r.RecipientContact != nil {
		recName = sql.NullString{String: r.RecipientContact.Name, Valid: true}
		recPhone = sql.NullString{String: r.RecipientContact.Phone, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(
		id, rider_id, pickup_lat, pickup_lon, pickup_label,
		dropoff_lat, dropoff_lon, dropoff_label, kind, scheduled_at,
		rider_name, rider_phone, recipient_name, recipient_phone, notes,
		status, estimated_price, created_at, updated_at
	) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		r.ID, r.RiderID, r.Pickup.Lat, r.Pickup.Lon, r.Pickup.Label,
		r.Dropoff.Lat, r.Dropoff.Lon, r.Dropoff.Label, string(r.Kind), r.ScheduledAt,
		r.RiderContact.Name, r.RiderContact.Phone, recName, recPhone, r.Notes,
		string(r.Status), r.EstimatedPrice, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// UpdateStatus applies a status change only while the ride is not already
// terminal. Timestamp stamps arrive precomputed in extra so the decision of
// which fields a status touches lives in one place (the lifecycle table),
// not in SQL branching.
func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.RideStatus, extra StatusExtra) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE rides SET
		status=$2,
		started_at=COALESCE($3, started_at),
		completed_at=COALESCE($4, completed_at),
		cancelled_at=COALESCE($5, cancelled_at),
		cancel_reason=CASE WHEN $6 <> '' THEN $6 ELSE cancel_reason END,
		final_price=COALESCE($7, final_price),
		updated_at=now()
	WHERE id=$1 AND status NOT IN ('completed','cancelled')
	RETURNING `+rideColumns,
		id, string(status), extra.StartedAt, extra.CompletedAt, extra.CancelledAt,
		extra.CancelReason, extra.FinalPrice)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		// zero rows is either a missing ride or a terminal one
		var exists bool
		if qerr := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rides WHERE id=$1)`, id).Scan(&exists); qerr != nil {
			return nil, qerr
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	return r, err
}

// ConditionalAssign is the claim CAS: exactly one of N racing claimants gets
// a row back, everyone else sees ErrConflict.
func (p *PostgresStore) ConditionalAssign(ctx context.Context, rideID, workerID string, at time.Time) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE rides SET
		worker_id=$2, status='accepted', accepted_at=$3, updated_at=now()
	WHERE id=$1 AND status IN ('pending','offered')
	RETURNING `+rideColumns,
		rideID, workerID, at)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConflict
	}
	return r, err
}

func (p *PostgresStore) ActiveRidesForWorker(ctx context.Context, workerID string) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE worker_id=$1 AND status IN ('accepted','driver_arrived','in_progress')
		ORDER BY created_at`, workerID)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

func (p *PostgresStore) OpenRides(ctx context.Context) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE status IN ('pending','offered') ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

func (p *PostgresStore) AppendHistory(ctx context.Context, e models.RideHistoryEntry) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_history(ride_id, status, actor_id, note, recorded_at)
		VALUES($1,$2,$3,$4,$5)`,
		e.RideID, string(e.Status), e.ActorID, e.Note, e.RecordedAt)
	return err
}

func (p *PostgresStore) History(ctx context.Context, rideID string) ([]models.RideHistoryEntry, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT ride_id, status, actor_id, note, recorded_at
		FROM ride_history WHERE ride_id=$1 ORDER BY recorded_at, id`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RideHistoryEntry
	for rows.Next() {
		var e models.RideHistoryEntry
		var status string
		if err := rows.Scan(&e.RideID, &status, &e.ActorID, &e.Note, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.Status = models.RideStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var workerID, pickupLabel, dropoffLabel, recName, recPhone, cancelReason sql.NullString
	var kind, status string
	var scheduledAt, acceptedAt, startedAt, completedAt, cancelledAt sql.NullTime
	var finalPrice sql.NullInt64
	err := row.Scan(
		&r.ID, &r.RiderID, &workerID, &r.Pickup.Lat, &r.Pickup.Lon, &pickupLabel,
		&r.Dropoff.Lat, &r.Dropoff.Lon, &dropoffLabel, &kind, &scheduledAt,
		&r.RiderContact.Name, &r.RiderContact.Phone, &recName, &recPhone, &r.Notes,
		&status, &r.EstimatedPrice, &finalPrice,
		&acceptedAt, &startedAt, &completedAt, &cancelledAt, &cancelReason,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.WorkerID = workerID.String
	r.Pickup.Label = pickupLabel.String
	r.Dropoff.Label = dropoffLabel.String
	r.Kind = models.BookingKind(kind)
	r.Status = models.RideStatus(status)
	r.CancelReason = cancelReason.String
	if recName.Valid || recPhone.Valid {
		r.RecipientContact = &models.Contact{Name: recName.String, Phone: recPhone.String}
	}
	r.ScheduledAt = nullTimePtr(scheduledAt)
	r.AcceptedAt = nullTimePtr(acceptedAt)
	r.StartedAt = nullTimePtr(startedAt)
	r.CompletedAt = nullTimePtr(completedAt)
	r.CancelledAt = nullTimePtr(cancelledAt)
	if finalPrice.Valid {
		v := finalPrice.Int64
		r.FinalPrice = &v
	}
	return &r, nil
}

func collectRides(rows *sql.Rows) ([]*models.Ride, error) {
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
