package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/example/ride-lifecycle/internal/board"
	"github.com/example/ride-lifecycle/internal/clock"
	"github.com/example/ride-lifecycle/internal/dispatch"
	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/identity"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/rating"
	"github.com/example/ride-lifecycle/internal/rideapi"
	"github.com/example/ride-lifecycle/internal/session"
)

// Backend hands out backend clients that act on behalf of one caller.
type Backend interface {
	For(id identity.Identity) (rideapi.RideAPI, rideapi.DriverAPI)
}

// ClientBackend authenticates a shared REST client with the caller's token.
type ClientBackend struct{ Client *rideapi.Client }

func (b ClientBackend) For(id identity.Identity) (rideapi.RideAPI, rideapi.DriverAPI) {
	c := b.Client.WithToken(id.Token)
	return c, c.Drivers()
}

type Options struct {
	Backend        Backend
	Claims         rating.ClaimStore
	Publisher      events.Publisher
	Clock          clock.Clock
	Logger         *slog.Logger
	PollInterval   time.Duration
	TickResolution time.Duration
	Strict         bool
	CORSOrigins    []string
	// Ready reports whether optional dependencies are reachable.
	Ready func(ctx context.Context) error
}

type Server struct {
	opts     Options
	logger   *slog.Logger
	inv      *session.Invariants
	sessions *session.Registry
	ws       *dispatch.WSRegistry
	validate *validator.Validate
	mux      *mux.Router
	handler  http.Handler

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	boards map[string]boardEntry
}

type boardEntry struct {
	b        *board.Board
	token    string
	lastUsed time.Time
}

func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Claims == nil {
		opts.Claims = rating.NewMemoryClaims()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:     opts,
		logger:   opts.Logger,
		inv:      &session.Invariants{Strict: opts.Strict, Log: opts.Logger},
		sessions: session.NewRegistry(),
		ws:       dispatch.NewWSRegistry(),
		validate: validator.New(),
		mux:      mux.NewRouter(),
		ctx:      ctx,
		cancel:   cancel,
		boards:   make(map[string]boardEntry),
	}
	s.registerMiddleware()
	s.routes()
	s.handler = cors.New(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
	}).Handler(s.mux)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/rider/sessions", s.handleCreateRiderSession).Methods(http.MethodPost)
	api.HandleFunc("/rider/sessions/resume", s.handleResume).Methods(http.MethodPost)
	api.HandleFunc("/rider/sessions/{id}/estimate", s.handleEstimate).Methods(http.MethodPost)
	api.HandleFunc("/rider/sessions/{id}/confirm", s.handleConfirm).Methods(http.MethodPost)
	api.HandleFunc("/driver/board", s.handleBoard).Methods(http.MethodGet)
	api.HandleFunc("/driver/board/{ride_id}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleStopSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/rating", s.handleRate).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/rating/dismiss", s.handleDismissRating).Methods(http.MethodPost)

	wsr := s.mux.PathPrefix("/ws").Subrouter()
	wsr.Use(s.authMiddleware)
	wsr.HandleFunc("/sessions/{id}", s.handleWS).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

// Shutdown stops every live session, closes all snapshot streams and
// drops the driver boards.
func (s *Server) Shutdown() {
	s.cancel()
	s.sessions.StopAll()
	s.ws.CloseAll()
	s.mu.Lock()
	clear(s.boards)
	s.mu.Unlock()
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// depsFor wires a session's collaborators for the caller.
func (s *Server) depsFor(id identity.Identity) session.Deps {
	rides, drivers := s.opts.Backend.For(id)
	return session.Deps{
		Rides:          rides,
		Rating:         rating.NewHandoff(drivers, s.opts.Claims, s.logger),
		Clock:          s.opts.Clock,
		Logger:         s.logger,
		PollInterval:   s.opts.PollInterval,
		TickResolution: s.opts.TickResolution,
		Invariants:     s.inv,
	}
}

// track registers m for its owner and starts publishing its phase changes.
func (s *Server) track(owner string, m *session.Machine) {
	s.sessions.Add(owner, m)
	if s.opts.Publisher != nil {
		events.Attach(m, s.opts.Publisher, s.opts.Clock, s.logger)
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Machine, identity.Identity, bool) {
	id := identityFromContext(r.Context())
	m, ok := s.sessions.Get(id.UserID, mux.Vars(r)["id"])
	if !ok {
		writeJSONError(w, http.StatusNotFound, "session_not_found", "no such session")
		return nil, id, false
	}
	return m, id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var ae *models.ActionError
	switch {
	case errors.Is(err, models.ErrRaceLost):
		writeJSONError(w, http.StatusConflict, "race_lost", err.Error())
	case errors.Is(err, models.ErrSessionClosed):
		writeJSONError(w, http.StatusConflict, "session_closed", err.Error())
	case errors.Is(err, models.ErrInvalidPhase):
		writeJSONError(w, http.StatusConflict, "invalid_phase", err.Error())
	case errors.Is(err, models.ErrDriverNotEligible):
		writeJSONError(w, http.StatusForbidden, "driver_not_eligible", err.Error())
	case errors.Is(err, models.ErrNotPermitted):
		writeJSONError(w, http.StatusForbidden, "not_permitted", err.Error())
	case errors.Is(err, models.ErrInvalidEstimate), errors.Is(err, models.ErrInvalidRating):
		writeJSONError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, models.ErrNothingToResume):
		writeJSONError(w, http.StatusNotFound, "nothing_to_resume", err.Error())
	case errors.As(err, &ae):
		writeJSONError(w, http.StatusBadGateway, "backend_failed", err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func newID() string { return uuid.NewString() }
