package session

import "github.com/example/ride-lifecycle/internal/models"

// Capability is an action a role may take on its session.
type Capability uint8

const (
	CapEstimate Capability = 1 << iota
	CapPoll
	CapAccept
	CapReportCompletion
	CapRate
)

func (c Capability) Has(o Capability) bool { return c&o == o }

const (
	riderCaps  = CapEstimate | CapPoll | CapReportCompletion | CapRate
	driverCaps = CapAccept
)

// NewRider starts an idle rider session.
func NewRider(deps Deps) *Machine {
	return newMachine(models.RoleClient, riderCaps, Idle, deps, nil)
}

// NewDriver starts a driver session on an open ride. The session waits in
// Created until Accepted is called with the backend's accept response.
// Drivers neither report completion nor rate; their session closes when
// the ride duration elapses.
func NewDriver(deps Deps, ride models.RideRecord) *Machine {
	return newMachine(models.RoleDriver, driverCaps, Created, deps, &ride)
}
