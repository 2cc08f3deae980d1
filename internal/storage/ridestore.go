package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

var ErrNoRide = errors.New("event carries no ride")

// ArchivedRide is the last known state of a ride as seen by the engine.
type ArchivedRide struct {
	Ride      models.RideRecord
	SessionID string
	Role      models.Role
	Phase     string
	UpdatedAt time.Time
}

// RideStore archives lifecycle events. Upsert ignores events older than
// the stored one so replays and reordering cannot move a ride backwards.
type RideStore interface {
	Upsert(ctx context.Context, ev models.LifecycleEvent) error
	Get(ctx context.Context, rideID string) (ArchivedRide, bool, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]ArchivedRide
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]ArchivedRide)}
}

func (m *MemoryStore) Upsert(_ context.Context, ev models.LifecycleEvent) error {
	if ev.Ride == nil || ev.Ride.ID == "" {
		return ErrNoRide
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rides[ev.Ride.ID]; ok && cur.UpdatedAt.After(ev.At) {
		return nil
	}
	m.rides[ev.Ride.ID] = ArchivedRide{
		Ride:      ev.Ride.Clone(),
		SessionID: ev.SessionID,
		Role:      ev.Role,
		Phase:     ev.Phase,
		UpdatedAt: ev.At,
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, rideID string) (ArchivedRide, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[rideID]
	return r, ok, nil
}
