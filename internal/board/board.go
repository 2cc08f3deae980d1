// Package board lists unassigned rides to a driver and turns a successful
// accept into a driver session.
package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/ride-lifecycle/internal/identity"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/rideapi"
	"github.com/example/ride-lifecycle/internal/session"
)

type Board struct {
	deps    session.Deps
	drivers rideapi.DriverAPI
	who     identity.Identity
	log     *slog.Logger

	// opMu serializes accepts from the same driver.
	opMu sync.Mutex

	mu      sync.Mutex
	mounted bool
	gate    models.DriverGateStatus
	rides   []models.RideRecord
}

// New builds a board for the driver identified by who. Driver sessions
// created by Accept share deps.
func New(deps session.Deps, drivers rideapi.DriverAPI, who identity.Identity) *Board {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Board{
		deps:    deps,
		drivers: drivers,
		who:     who,
		log:     log.With(slog.String("driver_id", who.DriverID)),
		gate:    models.DriverNotVerified,
	}
}

// Mount loads the driver's verification state and the first page of open
// rides. Only the first call fetches the gate; a failed fetch leaves the
// driver ineligible.
func (b *Board) Mount(ctx context.Context) ([]models.RideRecord, error) {
	if !b.who.IsDriver() {
		return nil, models.ErrNotPermitted
	}
	b.mu.Lock()
	mounted := b.mounted
	b.mounted = true
	b.mu.Unlock()

	if !mounted {
		gate, err := b.drivers.GetStatus(ctx, b.who.DriverID)
		if err != nil {
			b.log.Warn("driver status unavailable, treating as not verified",
				slog.Any("error", &models.TransientFetchError{Op: "driver_status", Err: err}))
			gate = models.DriverNotVerified
		}
		b.mu.Lock()
		b.gate = gate
		b.mu.Unlock()
	}
	return b.ListOpenRides(ctx), nil
}

// Gate returns the driver's cached verification state.
func (b *Board) Gate() models.DriverGateStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gate
}

// ListOpenRides refetches the unassigned rides. A failed refetch keeps and
// returns the previous list.
func (b *Board) ListOpenRides(ctx context.Context) []models.RideRecord {
	rides, err := b.deps.Rides.ListOpen(ctx)
	if err != nil {
		b.log.Debug("open rides refresh failed", slog.Any("error", &models.TransientFetchError{Op: "list_open", Err: err}))
		return b.Rides()
	}
	open := make([]models.RideRecord, 0, len(rides))
	for _, r := range rides {
		if r.Status == models.RideCreated && r.DriverID == "" {
			open = append(open, r)
		}
	}
	b.mu.Lock()
	b.rides = open
	b.mu.Unlock()
	return cloneAll(open)
}

// Rides returns the last fetched list.
func (b *Board) Rides() []models.RideRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneAll(b.rides)
}

// Accept claims rideID for this driver. Ineligible drivers are rejected
// without calling the backend. Whatever the outcome of the backend call the
// list is refreshed; a session exists only if the accept succeeded.
func (b *Board) Accept(ctx context.Context, rideID string) (*session.Machine, error) {
	if !b.who.IsDriver() {
		return nil, models.ErrNotPermitted
	}
	if gate := b.Gate(); !gate.CanAccept() {
		observability.BoardAccepts.WithLabelValues("not_eligible").Inc()
		return nil, fmt.Errorf("%w: status %s", models.ErrDriverNotEligible, gate)
	}
	b.opMu.Lock()
	defer b.opMu.Unlock()

	open, _ := b.find(rideID)
	rec, err := b.deps.Rides.UpdateStatus(ctx, rideID, models.RideAccepted)
	if err == nil && rec.DriverID != "" && rec.DriverID != b.who.DriverID {
		err = fmt.Errorf("%w: taken by %s", models.ErrRaceLost, rec.DriverID)
	}
	if err != nil {
		result := "error"
		if errors.Is(err, models.ErrRaceLost) {
			result = "race_lost"
		}
		observability.BoardAccepts.WithLabelValues(result).Inc()
		b.log.Info("accept failed", slog.String("ride_id", rideID), slog.Any("error", err))
		b.ListOpenRides(ctx)
		return nil, &models.ActionError{Op: "accept", Err: err}
	}
	if rec.ID == "" {
		rec.ID = rideID
	}
	if open.ID == "" {
		open = rec
		open.Status = models.RideCreated
	}

	m := session.NewDriver(b.deps, open)
	if err := m.Accepted(rec); err != nil {
		m.Stop()
		observability.BoardAccepts.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.BoardAccepts.WithLabelValues("ok").Inc()
	b.log.Info("ride accepted", slog.String("ride_id", rideID), slog.String("session_id", m.ID()))
	b.ListOpenRides(ctx)
	return m, nil
}

func (b *Board) find(rideID string) (models.RideRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.rides {
		if r.ID == rideID {
			return r.Clone(), true
		}
	}
	return models.RideRecord{}, false
}

func cloneAll(rs []models.RideRecord) []models.RideRecord {
	out := make([]models.RideRecord, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out
}
