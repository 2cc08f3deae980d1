package models

import (
	"errors"
	"fmt"
)

var (
	// ErrRaceLost is returned when another driver accepted the ride first.
	ErrRaceLost = errors.New("ride already taken by another driver")

	// ErrInvariant marks a programming error inside the engine.
	ErrInvariant = errors.New("engine invariant violated")

	// ErrSessionClosed is returned by any operation on a closed session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrInvalidPhase is returned when an operation does not apply to the current phase.
	ErrInvalidPhase = errors.New("operation not valid in current phase")

	// ErrNotPermitted is returned when the session's role cannot perform the operation.
	ErrNotPermitted = errors.New("operation not permitted for role")

	// ErrDriverNotEligible is returned when an unverified or banned driver tries to accept.
	ErrDriverNotEligible = errors.New("driver is not eligible to accept rides")

	ErrInvalidRating = errors.New("rating must be an integer between 1 and 5")

	ErrInvalidEstimate = errors.New("start and end address are required")

	// ErrRideFinished is reported when a ride completes on the server before
	// any driver accepted it.
	ErrRideFinished = errors.New("ride finished before a driver accepted it")

	// ErrNothingToResume is returned when no active ride can be re-attached.
	ErrNothingToResume = errors.New("no active ride to resume")
)

// TransientFetchError wraps a failed polling tick or list refresh.
// These are swallowed by the engine and retried on the next cycle.
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string { return fmt.Sprintf("%s: transient: %v", e.Op, e.Err) }
func (e *TransientFetchError) Unwrap() error { return e.Err }

// ActionError wraps a failed user-initiated call (estimate, create, accept, update, rate).
type ActionError struct {
	Op  string
	Err error
}

func (e *ActionError) Error() string { return fmt.Sprintf("%s failed: %v", e.Op, e.Err) }
func (e *ActionError) Unwrap() error { return e.Err }

// IsRaceLost reports whether err is an accept that lost to another driver.
func IsRaceLost(err error) bool { return errors.Is(err, ErrRaceLost) }
