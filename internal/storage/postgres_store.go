package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-lifecycle/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS ride_archive (
	id                       TEXT PRIMARY KEY,
	client_id                TEXT NOT NULL,
	driver_id                TEXT NOT NULL DEFAULT '',
	start_address            TEXT NOT NULL,
	end_address              TEXT NOT NULL,
	price                    DOUBLE PRECISION NOT NULL,
	status                   SMALLINT NOT NULL,
	created_at               TIMESTAMPTZ,
	estimated_driver_arrival TIMESTAMPTZ,
	estimated_ride_end       TIMESTAMPTZ,
	session_id               TEXT NOT NULL,
	role                     TEXT NOT NULL,
	phase                    TEXT NOT NULL,
	updated_at               TIMESTAMPTZ NOT NULL
)`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate creates the archive table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *PostgresStore) Upsert(ctx context.Context, ev models.LifecycleEvent) error {
	if ev.Ride == nil || ev.Ride.ID == "" {
		return ErrNoRide
	}
	r := ev.Ride
	_, err := p.db.ExecContext(ctx, `
INSERT INTO ride_archive(id, client_id, driver_id, start_address, end_address, price, status, created_at,
	estimated_driver_arrival, estimated_ride_end, session_id, role, phase, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
	driver_id = EXCLUDED.driver_id,
	status = EXCLUDED.status,
	estimated_driver_arrival = EXCLUDED.estimated_driver_arrival,
	estimated_ride_end = EXCLUDED.estimated_ride_end,
	session_id = EXCLUDED.session_id,
	role = EXCLUDED.role,
	phase = EXCLUDED.phase,
	updated_at = EXCLUDED.updated_at
WHERE ride_archive.updated_at <= EXCLUDED.updated_at`,
		r.ID, r.ClientID, r.DriverID, r.StartAddress, r.EndAddress, r.Price, int(r.Status), nullTime(r.CreatedAt),
		nullTime(r.EstimatedDriverArrival), nullTimePtr(r.EstimatedRideEnd), ev.SessionID, string(ev.Role), ev.Phase, ev.At)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, rideID string) (ArchivedRide, bool, error) {
	var (
		a                       ArchivedRide
		status                  int
		role                    string
		created, arrival, endAt sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `
SELECT id, client_id, driver_id, start_address, end_address, price, status, created_at,
	estimated_driver_arrival, estimated_ride_end, session_id, role, phase, updated_at
FROM ride_archive WHERE id = $1`, rideID).Scan(
		&a.Ride.ID, &a.Ride.ClientID, &a.Ride.DriverID, &a.Ride.StartAddress, &a.Ride.EndAddress, &a.Ride.Price,
		&status, &created, &arrival, &endAt, &a.SessionID, &role, &a.Phase, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ArchivedRide{}, false, nil
	}
	if err != nil {
		return ArchivedRide{}, false, err
	}
	a.Ride.Status = models.RideStatus(status)
	a.Role = models.Role(role)
	a.Ride.CreatedAt = created.Time
	a.Ride.EstimatedDriverArrival = arrival.Time
	if endAt.Valid {
		t := endAt.Time
		a.Ride.EstimatedRideEnd = &t
	}
	return a, true, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

func nullTime(t time.Time) sql.NullTime { return sql.NullTime{Time: t, Valid: !t.IsZero()} }

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return nullTime(*t)
}
