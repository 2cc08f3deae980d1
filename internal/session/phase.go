package session

import "fmt"

// Phase is a step of the ride lifecycle. Phases only move forward.
type Phase int

const (
	Idle Phase = iota
	Estimated
	Created
	WaitingForAcceptance
	Accepted
	ArrivalElapsed
	InProgress
	Completed
	RatingPending
	Closed
)

var phaseNames = [...]string{
	Idle:                 "idle",
	Estimated:            "estimated",
	Created:              "created",
	WaitingForAcceptance: "waiting_for_acceptance",
	Accepted:             "accepted",
	ArrivalElapsed:       "arrival_elapsed",
	InProgress:           "in_progress",
	Completed:            "completed",
	RatingPending:        "rating_pending",
	Closed:               "closed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Ordinal is the phase's position in the lifecycle.
func (p Phase) Ordinal() int { return int(p) }

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool { return p == Closed }
