package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RideStatus mirrors the backend's numeric ride status.
type RideStatus int

const (
	RideCreated RideStatus = iota
	RideAccepted
	RideCompleted
)

func (s RideStatus) String() string {
	switch s {
	case RideCreated:
		return "created"
	case RideAccepted:
		return "accepted"
	case RideCompleted:
		return "completed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// DriverGateStatus is the verification state of a driver account.
type DriverGateStatus int

const (
	DriverNotVerified DriverGateStatus = iota
	DriverVerified
	DriverBanned
)

func (s DriverGateStatus) String() string {
	switch s {
	case DriverNotVerified:
		return "not_verified"
	case DriverVerified:
		return "verified"
	case DriverBanned:
		return "banned"
	default:
		return fmt.Sprintf("driver_status(%d)", int(s))
	}
}

// CanAccept reports whether a driver in this state may take rides.
func (s DriverGateStatus) CanAccept() bool { return s == DriverVerified }

type Role string

const (
	RoleClient Role = "CLIENT"
	RoleDriver Role = "DRIVER"
	RoleAdmin  Role = "ADMIN"
)

type RideEstimate struct {
	StartAddress string `json:"start_address" validate:"required"`
	EndAddress   string `json:"end_address" validate:"required"`
}

type Quote struct {
	Price      float64 `json:"price"`
	ETASeconds int     `json:"eta_seconds"`
}

// RideRecord is the engine's cached copy of a backend ride.
// Timestamps are absolute; remaining durations are always derived, never stored.
type RideRecord struct {
	ID                     string     `json:"id"`
	CreatedAt              time.Time  `json:"created_at"`
	ClientID               string     `json:"client_id"`
	DriverID               string     `json:"driver_id,omitempty"`
	StartAddress           string     `json:"start_address"`
	EndAddress             string     `json:"end_address"`
	Price                  float64    `json:"price"`
	Status                 RideStatus `json:"status"`
	EstimatedDriverArrival time.Time  `json:"estimated_driver_arrival"`
	EstimatedRideEnd       *time.Time `json:"estimated_ride_end,omitempty"`
}

// Clone returns a deep copy so snapshots handed to observers never alias engine state.
func (r RideRecord) Clone() RideRecord {
	if r.EstimatedRideEnd != nil {
		end := *r.EstimatedRideEnd
		r.EstimatedRideEnd = &end
	}
	return r
}

// RatingTarget is created once per ride when it completes.
type RatingTarget struct {
	RideID string `json:"ride_id"`
	Value  *int   `json:"value,omitempty"`
}

// LifecycleEvent is what the engine host publishes on every phase change.
type LifecycleEvent struct {
	SessionID string      `json:"session_id"`
	Role      Role        `json:"role"`
	Phase     string      `json:"phase"`
	At        time.Time   `json:"at"`
	Ride      *RideRecord `json:"ride,omitempty"`
}

func (e LifecycleEvent) Marshal() ([]byte, error) { return json.Marshal(e) }
