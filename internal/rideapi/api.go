// Package rideapi defines the backend collaborators of the ride engine and
// a REST client for them.
package rideapi

import (
	"context"

	"github.com/example/ride-lifecycle/internal/models"
)

// RideAPI is the backend surface for ride records.
type RideAPI interface {
	Estimate(ctx context.Context, est models.RideEstimate) (models.Quote, error)
	Create(ctx context.Context, est models.RideEstimate, quote models.Quote) (models.RideRecord, error)
	GetStatus(ctx context.Context, rideID string) (models.RideRecord, error)
	UpdateStatus(ctx context.Context, rideID string, status models.RideStatus) (models.RideRecord, error)
	// ListOpen returns rides that no driver has accepted yet.
	ListOpen(ctx context.Context) ([]models.RideRecord, error)
	// ListMine returns the caller's own rides.
	ListMine(ctx context.Context) ([]models.RideRecord, error)
}

// DriverAPI is the backend surface for driver accounts.
type DriverAPI interface {
	GetStatus(ctx context.Context, driverID string) (models.DriverGateStatus, error)
	Rate(ctx context.Context, rideID string, value int) error
}
