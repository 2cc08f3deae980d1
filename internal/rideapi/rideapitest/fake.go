// Package rideapitest provides in-memory fakes of the ride backend.
package rideapitest

import (
	"context"
	"sync"

	"github.com/example/ride-lifecycle/internal/models"
)

// Rides is a scriptable RideAPI. Zero-value hooks fall back to canned data.
type Rides struct {
	mu sync.Mutex

	Quote   models.Quote
	Created models.RideRecord
	Status  models.RideRecord
	Open    []models.RideRecord
	Mine    []models.RideRecord

	EstimateErr error
	CreateErr   error
	StatusErr   error
	ListErr     error

	// UpdateFn overrides UpdateStatus when set.
	UpdateFn func(rideID string, status models.RideStatus) (models.RideRecord, error)

	EstimateCalls int
	CreateCalls   int
	StatusCalls   int
	ListCalls     int
	Updates       []Update
}

type Update struct {
	RideID string
	Status models.RideStatus
}

func (f *Rides) Estimate(ctx context.Context, est models.RideEstimate) (models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EstimateCalls++
	if f.EstimateErr != nil {
		return models.Quote{}, f.EstimateErr
	}
	return f.Quote, nil
}

func (f *Rides) Create(ctx context.Context, est models.RideEstimate, q models.Quote) (models.RideRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls++
	if f.CreateErr != nil {
		return models.RideRecord{}, f.CreateErr
	}
	rec := f.Created.Clone()
	rec.StartAddress, rec.EndAddress, rec.Price = est.StartAddress, est.EndAddress, q.Price
	return rec, nil
}

func (f *Rides) GetStatus(ctx context.Context, rideID string) (models.RideRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusCalls++
	if f.StatusErr != nil {
		return models.RideRecord{}, f.StatusErr
	}
	rec := f.Status.Clone()
	rec.ID = rideID
	return rec, nil
}

func (f *Rides) UpdateStatus(ctx context.Context, rideID string, status models.RideStatus) (models.RideRecord, error) {
	f.mu.Lock()
	f.Updates = append(f.Updates, Update{RideID: rideID, Status: status})
	fn := f.UpdateFn
	f.mu.Unlock()
	if fn != nil {
		return fn(rideID, status)
	}
	return models.RideRecord{ID: rideID, Status: status}, nil
}

func (f *Rides) ListOpen(ctx context.Context) ([]models.RideRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return append([]models.RideRecord(nil), f.Open...), nil
}

func (f *Rides) ListMine(ctx context.Context) ([]models.RideRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return append([]models.RideRecord(nil), f.Mine...), nil
}

// Set mutates the fake under its lock.
func (f *Rides) Set(fn func(f *Rides)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// UpdateCount returns how many UpdateStatus calls were made.
func (f *Rides) UpdateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Updates)
}

// Drivers is a scriptable DriverAPI.
type Drivers struct {
	mu        sync.Mutex
	Gate      models.DriverGateStatus
	GateErr   error
	RateErr   error
	GateCalls int
	Ratings   map[string]int
}

func (d *Drivers) GetStatus(ctx context.Context, driverID string) (models.DriverGateStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.GateCalls++
	if d.GateErr != nil {
		return models.DriverNotVerified, d.GateErr
	}
	return d.Gate, nil
}

func (d *Drivers) Rate(ctx context.Context, rideID string, value int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.RateErr != nil {
		return d.RateErr
	}
	if d.Ratings == nil {
		d.Ratings = make(map[string]int)
	}
	d.Ratings[rideID] = value
	return nil
}

func (d *Drivers) Set(fn func(d *Drivers)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}
