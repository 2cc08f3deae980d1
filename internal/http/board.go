package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ride-lifecycle/internal/board"
	"github.com/example/ride-lifecycle/internal/identity"
	"github.com/example/ride-lifecycle/internal/models"
)

type boardResponse struct {
	Gate  string              `json:"driver_status"`
	Rides []models.RideRecord `json:"rides"`
}

// boardIdleTTL is how long an unused driver board is kept.
const boardIdleTTL = 30 * time.Minute

// boardFor returns the driver's board, building a new one when the driver
// shows up with a different token. Boards idle for boardIdleTTL are dropped.
func (s *Server) boardFor(id identity.Identity) (*board.Board, bool) {
	now := s.opts.Clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictIdleBoardsLocked(now)
	if e, ok := s.boards[id.DriverID]; ok && e.token == id.Token {
		e.lastUsed = now
		s.boards[id.DriverID] = e
		return e.b, false
	}
	deps := s.depsFor(id)
	_, drivers := s.opts.Backend.For(id)
	b := board.New(deps, drivers, id)
	s.boards[id.DriverID] = boardEntry{b: b, token: id.Token, lastUsed: now}
	return b, true
}

func (s *Server) evictIdleBoardsLocked(now time.Time) {
	for driverID, e := range s.boards {
		if now.Sub(e.lastUsed) > boardIdleTTL {
			delete(s.boards, driverID)
		}
	}
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	if !id.IsDriver() {
		writeError(w, models.ErrNotPermitted)
		return
	}
	b, fresh := s.boardFor(id)
	var rides []models.RideRecord
	if fresh {
		var err error
		if rides, err = b.Mount(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	} else {
		rides = b.ListOpenRides(r.Context())
	}
	writeJSON(w, http.StatusOK, boardResponse{Gate: b.Gate().String(), Rides: rides})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	if !id.IsDriver() {
		writeError(w, models.ErrNotPermitted)
		return
	}
	b, fresh := s.boardFor(id)
	if fresh {
		if _, err := b.Mount(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	}
	m, err := b.Accept(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	s.track(id.UserID, m)
	writeJSON(w, http.StatusCreated, sessionResponse{Session: m.Snapshot()})
}
