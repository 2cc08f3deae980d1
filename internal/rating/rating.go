// Package rating hands a completed ride over to the driver rating endpoint,
// accepting at most one submission per ride.
package rating

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
)

const (
	MinValue = 1
	MaxValue = 5
)

// Rater submits a rating to the backend.
type Rater interface {
	Rate(ctx context.Context, rideID string, value int) error
}

// ClaimStore records which rides already have a rating in flight or done.
// Claim returns false if the ride is already claimed.
type ClaimStore interface {
	Claim(ctx context.Context, rideID string) (bool, error)
	Release(ctx context.Context, rideID string) error
}

type Handoff struct {
	rater  Rater
	claims ClaimStore
	log    *slog.Logger
}

func NewHandoff(rater Rater, claims ClaimStore, logger *slog.Logger) *Handoff {
	if claims == nil {
		claims = NewMemoryClaims()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handoff{rater: rater, claims: claims, log: logger}
}

// Submit rates the driver of rideID. It returns false with a nil error when
// the ride was already rated. A failed Rate call releases the claim so the
// rider can try again.
func (h *Handoff) Submit(ctx context.Context, rideID string, value int) (bool, error) {
	if value < MinValue || value > MaxValue {
		observability.RatingsSubmitted.WithLabelValues("invalid").Inc()
		return false, models.ErrInvalidRating
	}
	ok, err := h.claims.Claim(ctx, rideID)
	if err != nil {
		observability.RatingsSubmitted.WithLabelValues("error").Inc()
		return false, &models.ActionError{Op: "rate", Err: fmt.Errorf("claim: %w", err)}
	}
	if !ok {
		observability.RatingsSubmitted.WithLabelValues("duplicate").Inc()
		return false, nil
	}
	if err := h.rater.Rate(ctx, rideID, value); err != nil {
		if rerr := h.claims.Release(context.WithoutCancel(ctx), rideID); rerr != nil {
			h.log.Warn("rating claim release failed", slog.String("ride_id", rideID), slog.Any("error", rerr))
		}
		observability.RatingsSubmitted.WithLabelValues("error").Inc()
		return false, &models.ActionError{Op: "rate", Err: err}
	}
	observability.RatingsSubmitted.WithLabelValues("ok").Inc()
	h.log.Info("ride rated", slog.String("ride_id", rideID), slog.Int("value", value))
	return true, nil
}

// MemoryClaims is a process-local ClaimStore.
type MemoryClaims struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{held: make(map[string]struct{})}
}

func (m *MemoryClaims) Claim(_ context.Context, rideID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[rideID]; ok {
		return false, nil
	}
	m.held[rideID] = struct{}{}
	return true, nil
}

func (m *MemoryClaims) Release(_ context.Context, rideID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, rideID)
	return nil
}
