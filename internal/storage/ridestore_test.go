package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

func TestMemoryStoreKeepsNewestEvent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	accepted := models.LifecycleEvent{SessionID: "s1", Role: models.RoleClient, Phase: "accepted", At: t0.Add(time.Minute),
		Ride: &models.RideRecord{ID: "r1", DriverID: "D1", Status: models.RideAccepted}}
	created := models.LifecycleEvent{SessionID: "s1", Role: models.RoleClient, Phase: "created", At: t0,
		Ride: &models.RideRecord{ID: "r1", Status: models.RideCreated}}

	if err := s.Upsert(ctx, accepted); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, created); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, ok, err := s.Get(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Phase != "accepted" || got.Ride.DriverID != "D1" {
		t.Fatalf("stale event overwrote archive: %+v", got)
	}
}

func TestUpsertWithoutRide(t *testing.T) {
	s := NewMemoryStore()
	err := s.Upsert(context.Background(), models.LifecycleEvent{SessionID: "s1", Phase: "idle"})
	if !errors.Is(err, ErrNoRide) {
		t.Fatalf("expected ErrNoRide, got %v", err)
	}
}

func TestNullTime(t *testing.T) {
	if nullTime(time.Time{}).Valid {
		t.Fatal("zero time must be NULL")
	}
	if nullTimePtr(nil).Valid {
		t.Fatal("nil time must be NULL")
	}
	now := time.Now()
	if v := nullTimePtr(&now); !v.Valid || !v.Time.Equal(now) {
		t.Fatal("expected a valid time")
	}
}
