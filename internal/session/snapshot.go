package session

import (
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

// Snapshot is an immutable view of a session. Seq increases with every
// published snapshot of the same session.
type Snapshot struct {
	SessionID         string               `json:"session_id"`
	Role              models.Role          `json:"role"`
	Phase             Phase                `json:"phase"`
	Quote             *models.Quote        `json:"quote,omitempty"`
	Ride              *models.RideRecord   `json:"ride,omitempty"`
	ArrivalRemaining  *time.Duration       `json:"arrival_remaining,omitempty"`
	DurationRemaining *time.Duration       `json:"duration_remaining,omitempty"`
	ArrivalActive     bool                 `json:"arrival_active"`
	DurationActive    bool                 `json:"duration_active"`
	RatingTarget      *models.RatingTarget `json:"rating_target,omitempty"`
	Seq               uint64               `json:"seq"`
	Err               string               `json:"error,omitempty"`
}

func copyDuration(d *time.Duration) *time.Duration {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
