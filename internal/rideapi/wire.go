package rideapi

import (
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

// The backend speaks PascalCase on requests and camelCase on responses.

type estimateRequest struct {
	StartAddress string `json:"StartAddress"`
	EndAddress   string `json:"EndAddress"`
}

type estimateResponse struct {
	PriceEstimate                 float64 `json:"priceEstimate"`
	EstimatedDriverArrivalSeconds int     `json:"estimatedDriverArrivalSeconds"`
}

type createRequest struct {
	StartAddress                  string  `json:"StartAddress"`
	EndAddress                    string  `json:"EndAddress"`
	Price                         float64 `json:"Price"`
	EstimatedDriverArrivalSeconds int     `json:"EstimatedDriverArrivalSeconds"`
}

type updateRequest struct {
	RideID string `json:"RideId"`
	Status int    `json:"Status"`
}

type rateRequest struct {
	RideID string `json:"RideId"`
	Value  int    `json:"Value"`
}

// rideResponse timestamps are epoch milliseconds.
type rideResponse struct {
	ID                     string  `json:"id"`
	CreatedAtTimestamp     int64   `json:"createdAtTimestamp"`
	ClientID               string  `json:"clientId"`
	DriverID               string  `json:"driverId"`
	StartAddress           string  `json:"startAddress"`
	EndAddress             string  `json:"endAddress"`
	Price                  float64 `json:"price"`
	Status                 int     `json:"status"`
	EstimatedDriverArrival int64   `json:"estimatedDriverArrival"`
	EstimatedRideEnd       *int64  `json:"estimatedRideEnd"`
}

func (r rideResponse) record() models.RideRecord {
	rec := models.RideRecord{
		ID:                     r.ID,
		CreatedAt:              fromMillis(r.CreatedAtTimestamp),
		ClientID:               r.ClientID,
		DriverID:               r.DriverID,
		StartAddress:           r.StartAddress,
		EndAddress:             r.EndAddress,
		Price:                  r.Price,
		Status:                 models.RideStatus(r.Status),
		EstimatedDriverArrival: fromMillis(r.EstimatedDriverArrival),
	}
	if r.EstimatedRideEnd != nil {
		end := fromMillis(*r.EstimatedRideEnd)
		rec.EstimatedRideEnd = &end
	}
	return rec
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
