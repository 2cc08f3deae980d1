package httpapi

import (
	"net/http"
	"sort"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/session"
)

type estimateBody struct {
	StartAddress string `json:"start_address" validate:"required"`
	EndAddress   string `json:"end_address" validate:"required"`
}

func (b estimateBody) estimate() models.RideEstimate {
	return models.RideEstimate{StartAddress: b.StartAddress, EndAddress: b.EndAddress}
}

type ratingBody struct {
	Value *int `json:"value" validate:"required"`
}

type sessionResponse struct {
	Session session.Snapshot `json:"session"`
}

func (s *Server) handleCreateRiderSession(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	if id.Role != models.RoleClient {
		writeError(w, models.ErrNotPermitted)
		return
	}
	var body estimateBody
	if !s.decode(w, r, &body) {
		return
	}
	m := session.NewRider(s.depsFor(id))
	s.track(id.UserID, m)
	if _, err := m.Estimate(r.Context(), body.estimate()); err != nil {
		m.Stop()
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Session: m.Snapshot()})
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	m, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var body estimateBody
	if !s.decode(w, r, &body) {
		return
	}
	if _, err := m.Estimate(r.Context(), body.estimate()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: m.Snapshot()})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	m, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if _, err := m.Confirm(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: m.Snapshot()})
}

// handleResume re-attaches to the caller's newest unfinished ride. An
// existing live session for that ride is returned as is.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	if id.Role != models.RoleClient {
		writeError(w, models.ErrNotPermitted)
		return
	}
	deps := s.depsFor(id)
	rides, err := deps.Rides.ListMine(r.Context())
	if err != nil {
		writeError(w, &models.ActionError{Op: "list_mine", Err: err})
		return
	}
	active := make([]models.RideRecord, 0, len(rides))
	for _, rec := range rides {
		if rec.Status != models.RideCompleted {
			active = append(active, rec)
		}
	}
	if len(active) == 0 {
		writeError(w, models.ErrNothingToResume)
		return
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })
	rec := active[0]

	if m, ok := s.sessions.ActiveForRide(id.UserID, models.RoleClient, rec.ID); ok {
		writeJSON(w, http.StatusOK, sessionResponse{Session: m.Snapshot()})
		return
	}
	m := session.NewRider(deps)
	s.track(id.UserID, m)
	if err := m.Resume(r.Context(), rec); err != nil {
		m.Stop()
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Session: m.Snapshot()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	m, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: m.Snapshot()})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	m, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	m.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	m, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var body ratingBody
	if !s.decode(w, r, &body) {
		return
	}
	if err := m.SubmitRating(r.Context(), *body.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: m.Snapshot()})
}

func (s *Server) handleDismissRating(w http.ResponseWriter, r *http.Request) {
	m, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := m.DismissRating(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: m.Snapshot()})
}
