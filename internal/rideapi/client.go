package rideapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
)

// StatusError is a non-2xx backend response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.Status, e.Body)
}

// Client talks to the ride backend over REST on behalf of one caller.
// It implements both RideAPI and DriverAPI; see Drivers.
type Client struct {
	Endpoint string
	Client   *http.Client
	token    string
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: timeout}}
}

// WithToken returns a copy of c that authenticates as the bearer of token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) Estimate(ctx context.Context, est models.RideEstimate) (models.Quote, error) {
	var out estimateResponse
	err := c.do(ctx, "estimate", http.MethodPost, "/ride/estimate-ride", estimateRequest{StartAddress: est.StartAddress, EndAddress: est.EndAddress}, &out)
	if err != nil {
		return models.Quote{}, err
	}
	return models.Quote{Price: out.PriceEstimate, ETASeconds: out.EstimatedDriverArrivalSeconds}, nil
}

func (c *Client) Create(ctx context.Context, est models.RideEstimate, quote models.Quote) (models.RideRecord, error) {
	var out rideResponse
	err := c.do(ctx, "create", http.MethodPost, "/ride/create-ride", createRequest{
		StartAddress:                  est.StartAddress,
		EndAddress:                    est.EndAddress,
		Price:                         quote.Price,
		EstimatedDriverArrivalSeconds: quote.ETASeconds,
	}, &out)
	if err != nil {
		return models.RideRecord{}, err
	}
	return out.record(), nil
}

func (c *Client) GetStatus(ctx context.Context, rideID string) (models.RideRecord, error) {
	var out rideResponse
	if err := c.do(ctx, "get_ride", http.MethodGet, "/ride/get-ride/"+url.PathEscape(rideID), nil, &out); err != nil {
		return models.RideRecord{}, err
	}
	return out.record(), nil
}

// UpdateStatus maps a 409 Conflict to models.ErrRaceLost.
func (c *Client) UpdateStatus(ctx context.Context, rideID string, status models.RideStatus) (models.RideRecord, error) {
	var out rideResponse
	err := c.do(ctx, "update_status", http.MethodPatch, "/ride/update-ride-status", updateRequest{RideID: rideID, Status: int(status)}, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusConflict {
			return models.RideRecord{}, fmt.Errorf("%w: %s", models.ErrRaceLost, se.Body)
		}
		return models.RideRecord{}, err
	}
	return out.record(), nil
}

func (c *Client) ListOpen(ctx context.Context) ([]models.RideRecord, error) {
	return c.list(ctx, "list_open", "/ride/get-new-rides")
}

func (c *Client) ListMine(ctx context.Context) ([]models.RideRecord, error) {
	return c.list(ctx, "list_mine", "/ride/get-user-rides")
}

func (c *Client) list(ctx context.Context, op, path string) ([]models.RideRecord, error) {
	var out []rideResponse
	if err := c.do(ctx, op, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	recs := make([]models.RideRecord, 0, len(out))
	for _, r := range out {
		recs = append(recs, r.record())
	}
	return recs, nil
}

// Drivers returns the DriverAPI view of the client. Both interfaces name a
// GetStatus method, so one type cannot satisfy both.
func (c *Client) Drivers() DriverAPI { return driverClient{c} }

type driverClient struct{ c *Client }

func (d driverClient) GetStatus(ctx context.Context, driverID string) (models.DriverGateStatus, error) {
	var raw json.RawMessage
	if err := d.c.do(ctx, "driver_status", http.MethodGet, "/driver/driver-status/"+url.PathEscape(driverID), nil, &raw); err != nil {
		return models.DriverNotVerified, err
	}
	// the backend answers with a bare number, older builds wrap it
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return models.DriverGateStatus(n), nil
	}
	var wrapped struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return models.DriverNotVerified, fmt.Errorf("driver_status: decode: %w", err)
	}
	return models.DriverGateStatus(wrapped.Status), nil
}

func (d driverClient) Rate(ctx context.Context, rideID string, value int) error {
	return d.c.do(ctx, "rate", http.MethodPost, "/driver/rate-driver", rateRequest{RideID: rideID, Value: value}, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	start := time.Now()
	status := "error"
	defer func() {
		observability.BackendRequestDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	}()

	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Endpoint+path, rdr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}
