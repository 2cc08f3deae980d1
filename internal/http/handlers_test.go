package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-lifecycle/internal/clock/clocktest"
	"github.com/example/ride-lifecycle/internal/identity"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/rideapi"
	"github.com/example/ride-lifecycle/internal/rideapi/rideapitest"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	rides   *rideapitest.Rides
	drivers *rideapitest.Drivers
}

func (b fakeBackend) For(identity.Identity) (rideapi.RideAPI, rideapi.DriverAPI) {
	return b.rides, b.drivers
}

type wireSession struct {
	Session struct {
		SessionID string `json:"session_id"`
		Phase     string `json:"phase"`
		Ride      *struct {
			ID string `json:"id"`
		} `json:"ride"`
	} `json:"session"`
}

func newTestServer(t *testing.T) (*Server, fakeBackend, *clocktest.Clock) {
	t.Helper()
	clk := clocktest.New(epoch)
	be := fakeBackend{
		rides: &rideapitest.Rides{
			Quote:   models.Quote{Price: 12.5, ETASeconds: 240},
			Created: models.RideRecord{ID: "r1", ClientID: "u1", Status: models.RideCreated, CreatedAt: epoch},
			Status:  models.RideRecord{Status: models.RideCreated},
			Open: []models.RideRecord{
				{ID: "r7", ClientID: "c2", Status: models.RideCreated, EstimatedDriverArrival: epoch.Add(5 * time.Minute)},
			},
		},
		drivers: &rideapitest.Drivers{Gate: models.DriverVerified},
	}
	s := NewServer(Options{
		Backend: be,
		Clock:   clk,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Strict:  true,
	})
	t.Cleanup(s.Shutdown)
	return s, be, clk
}

func token(t *testing.T, role, user, group string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, identity.Claims{Role: role, NameID: user, GroupSID: group}).
		SignedString([]byte("test"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func do(t *testing.T, s *Server, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) wireSession {
	t.Helper()
	var out wireSession
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out["error"]
}

var route = map[string]string{"start_address": "1 Main St", "end_address": "9 Elm St"}

func TestRiderCreateAndConfirm(t *testing.T) {
	s, be, clk := newTestServer(t)
	rider := token(t, "CLIENT", "u1", "")

	rec := do(t, s, http.MethodPost, "/api/v1/rider/sessions", rider, route)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	created := decodeSession(t, rec)
	if created.Session.Phase != "estimated" {
		t.Fatalf("expected estimated, got %s", created.Session.Phase)
	}
	id := created.Session.SessionID

	rec = do(t, s, http.MethodPost, "/api/v1/rider/sessions/"+id+"/confirm", rider, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	confirmed := decodeSession(t, rec)
	if confirmed.Session.Ride == nil || confirmed.Session.Ride.ID != "r1" {
		t.Fatalf("expected ride r1, got %+v", confirmed.Session)
	}
	if clk.Pending() == 0 {
		t.Fatal("expected the status poller to be armed")
	}

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/"+id, rider, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	if be.rides.CreateCalls != 1 {
		t.Fatalf("expected one create call, got %d", be.rides.CreateCalls)
	}

	rec = do(t, s, http.MethodDelete, "/api/v1/sessions/"+id, rider, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("stop: expected 204, got %d", rec.Code)
	}
	if clk.Pending() != 0 {
		t.Fatal("stopping the session must disarm every timer")
	}
	rec = do(t, s, http.MethodGet, "/api/v1/sessions/"+id, rider, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("closed session should be gone, got %d", rec.Code)
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/v1/rider/sessions", "", route)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHealthzNeedsNoToken(t *testing.T) {
	s, _, _ := newTestServer(t)
	if rec := do(t, s, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestValidationFailure(t *testing.T) {
	s, be, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/v1/rider/sessions", token(t, "CLIENT", "u1", ""),
		map[string]string{"start_address": "1 Main St"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if be.rides.EstimateCalls != 0 {
		t.Fatal("invalid body must not reach the backend")
	}
}

func TestDriverCannotCreateRiderSession(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/v1/rider/sessions", token(t, "DRIVER", "u9", "D1"), route)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "not_permitted" {
		t.Fatalf("expected 403 not_permitted, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRiderCannotUseBoard(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/v1/driver/board", token(t, "CLIENT", "u1", ""), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestUnverifiedDriverCannotAccept(t *testing.T) {
	s, be, _ := newTestServer(t)
	be.drivers.Set(func(d *rideapitest.Drivers) { d.Gate = models.DriverNotVerified })
	rec := do(t, s, http.MethodPost, "/api/v1/driver/board/r7/accept", token(t, "DRIVER", "u9", "D1"), nil)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "driver_not_eligible" {
		t.Fatalf("expected 403 driver_not_eligible, got %d %s", rec.Code, rec.Body.String())
	}
	if be.rides.UpdateCount() != 0 {
		t.Fatal("ineligible driver must not call the backend")
	}
}

func TestBoardAndAccept(t *testing.T) {
	s, be, _ := newTestServer(t)
	drv := token(t, "DRIVER", "u9", "D1")

	rec := do(t, s, http.MethodGet, "/api/v1/driver/board", drv, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("board: expected 200, got %d", rec.Code)
	}
	var board struct {
		Rides []models.RideRecord `json:"rides"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &board); err != nil || len(board.Rides) != 1 {
		t.Fatalf("expected one open ride, got %s", rec.Body.String())
	}

	end := epoch.Add(20 * time.Minute)
	be.rides.Set(func(f *rideapitest.Rides) {
		f.UpdateFn = func(id string, _ models.RideStatus) (models.RideRecord, error) {
			return models.RideRecord{
				ID: id, DriverID: "D1", Status: models.RideAccepted,
				EstimatedDriverArrival: epoch.Add(5 * time.Minute), EstimatedRideEnd: &end,
			}, nil
		}
	})
	rec = do(t, s, http.MethodPost, "/api/v1/driver/board/r7/accept", drv, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("accept: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	if got := decodeSession(t, rec); got.Session.Phase != "accepted" {
		t.Fatalf("expected accepted, got %s", got.Session.Phase)
	}
}

func TestLostRaceIsConflict(t *testing.T) {
	s, be, _ := newTestServer(t)
	drv := token(t, "DRIVER", "u9", "D1")
	be.rides.Set(func(f *rideapitest.Rides) {
		f.UpdateFn = func(string, models.RideStatus) (models.RideRecord, error) {
			return models.RideRecord{}, models.ErrRaceLost
		}
	})
	rec := do(t, s, http.MethodPost, "/api/v1/driver/board/r7/accept", drv, nil)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "race_lost" {
		t.Fatalf("expected 409 race_lost, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSessionsAreScopedToOwner(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/v1/rider/sessions", token(t, "CLIENT", "u1", ""), route)
	id := decodeSession(t, rec).Session.SessionID

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/"+id, token(t, "CLIENT", "u2", ""), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's session, got %d", rec.Code)
	}
}

func TestResumeWithNothingInFlight(t *testing.T) {
	s, be, _ := newTestServer(t)
	be.rides.Set(func(f *rideapitest.Rides) {
		f.Mine = []models.RideRecord{{ID: "old", Status: models.RideCompleted}}
	})
	rec := do(t, s, http.MethodPost, "/api/v1/rider/sessions/resume", token(t, "CLIENT", "u1", ""), nil)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "nothing_to_resume" {
		t.Fatalf("expected 404 nothing_to_resume, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestResumeReusesLiveSession(t *testing.T) {
	s, be, _ := newTestServer(t)
	rider := token(t, "CLIENT", "u1", "")
	be.rides.Set(func(f *rideapitest.Rides) {
		f.Mine = []models.RideRecord{
			{ID: "r0", Status: models.RideCompleted, CreatedAt: epoch.Add(-time.Hour)},
			{ID: "r1", Status: models.RideCreated, CreatedAt: epoch},
		}
	})
	first := do(t, s, http.MethodPost, "/api/v1/rider/sessions/resume", rider, nil)
	if first.Code != http.StatusCreated {
		t.Fatalf("resume: expected 201, got %d %s", first.Code, first.Body.String())
	}
	again := do(t, s, http.MethodPost, "/api/v1/rider/sessions/resume", rider, nil)
	if again.Code != http.StatusOK {
		t.Fatalf("second resume: expected 200, got %d", again.Code)
	}
	if decodeSession(t, first).Session.SessionID != decodeSession(t, again).Session.SessionID {
		t.Fatal("expected the live session to be reused")
	}
}

func TestIdleBoardsAreEvicted(t *testing.T) {
	s, _, clk := newTestServer(t)
	if rec := do(t, s, http.MethodGet, "/api/v1/driver/board", token(t, "DRIVER", "u8", "D8"), nil); rec.Code != http.StatusOK {
		t.Fatalf("board: expected 200, got %d", rec.Code)
	}
	clk.Advance(boardIdleTTL + time.Second)
	if rec := do(t, s, http.MethodGet, "/api/v1/driver/board", token(t, "DRIVER", "u9", "D9"), nil); rec.Code != http.StatusOK {
		t.Fatalf("board: expected 200, got %d", rec.Code)
	}

	s.mu.Lock()
	_, stale := s.boards["D8"]
	n := len(s.boards)
	s.mu.Unlock()
	if stale || n != 1 {
		t.Fatalf("expected only the fresh board to remain, stale=%v boards=%d", stale, n)
	}

	s.Shutdown()
	s.mu.Lock()
	n = len(s.boards)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected shutdown to drop all boards, got %d", n)
	}
}
