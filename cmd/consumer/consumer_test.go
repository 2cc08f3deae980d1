package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/storage"
)

// flakyStore fails the first fail upserts before delegating to a memory store.
type flakyStore struct {
	*storage.MemoryStore
	fail  int
	calls int
}

func (f *flakyStore) Upsert(ctx context.Context, ev models.LifecycleEvent) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("db down")
	}
	return f.MemoryStore.Upsert(ctx, ev)
}

func event() models.LifecycleEvent {
	return models.LifecycleEvent{
		SessionID: "s1",
		Role:      models.RoleClient,
		Phase:     "accepted",
		At:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Ride:      &models.RideRecord{ID: "r1", Status: models.RideAccepted},
	}
}

func TestSaveWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &flakyStore{MemoryStore: storage.NewMemoryStore(), fail: 2}
	start := time.Now()
	if err := saveWithRetry(context.Background(), f, event(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("expected doubling backoff between attempts")
	}
	got, ok, err := f.Get(context.Background(), "r1")
	if err != nil || !ok || got.Phase != "accepted" {
		t.Fatalf("expected archived ride, got %+v ok=%v err=%v", got, ok, err)
	}
}

func TestSaveWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &flakyStore{MemoryStore: storage.NewMemoryStore(), fail: 5}
	if err := saveWithRetry(context.Background(), f, event(), 3, 5*time.Millisecond); err == nil {
		t.Fatal("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
}

func TestSaveWithRetry_NoRideIsNotRetried(t *testing.T) {
	f := &flakyStore{MemoryStore: storage.NewMemoryStore()}
	ev := event()
	ev.Ride = nil
	if err := saveWithRetry(context.Background(), f, ev, 3, time.Second); !errors.Is(err, storage.ErrNoRide) {
		t.Fatalf("expected ErrNoRide, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", f.calls)
	}
}

func TestSaveWithRetry_StopsOnCancel(t *testing.T) {
	f := &flakyStore{MemoryStore: storage.NewMemoryStore(), fail: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := saveWithRetry(ctx, f, event(), 3, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
