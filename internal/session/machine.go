// Package session drives a single ride from quote to rating.
//
// A Machine owns every lifecycle transition. The status poller and the two
// countdowns are workers it starts and stops; their callbacks are accepted
// only while the worker is still the one the machine has installed, so a
// late callback from a stopped worker is a no-op.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-lifecycle/internal/clock"
	"github.com/example/ride-lifecycle/internal/countdown"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/observe"
	"github.com/example/ride-lifecycle/internal/poller"
	"github.com/example/ride-lifecycle/internal/rating"
	"github.com/example/ride-lifecycle/internal/rideapi"
)

// Deps are the collaborators of a session.
type Deps struct {
	Rides          rideapi.RideAPI
	Rating         *rating.Handoff
	Clock          clock.Clock
	Logger         *slog.Logger
	PollInterval   time.Duration
	TickResolution time.Duration
	Invariants     *Invariants
}

type Machine struct {
	id   string
	role models.Role
	caps Capability
	deps Deps
	log  *slog.Logger
	inv  *Invariants
	cell *observe.Cell[Snapshot]

	ctx    context.Context
	cancel context.CancelFunc

	// opMu serializes user actions that call the backend.
	opMu sync.Mutex

	mu                sync.Mutex
	phase             Phase
	estimate          *models.RideEstimate
	quote             *models.Quote
	ride              *models.RideRecord
	arrivalRemaining  *time.Duration
	durationRemaining *time.Duration
	arrivalActive     bool
	durationActive    bool
	ratingTarget      *models.RatingTarget
	lastErr           string
	seq               uint64
	poller            *poller.Poller
	arrival           *countdown.Countdown
	duration          *countdown.Countdown

	// snapshots waiting for delivery, in order
	pending  []Snapshot
	draining bool
}

func newMachine(role models.Role, caps Capability, entry Phase, deps Deps, ride *models.RideRecord) *Machine {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = poller.DefaultInterval
	}
	if deps.TickResolution <= 0 {
		deps.TickResolution = countdown.DefaultResolution
	}
	id := uuid.NewString()
	log := deps.Logger.With(slog.String("session_id", id), slog.String("role", string(role)))
	inv := deps.Invariants
	if inv == nil {
		inv = &Invariants{Log: log}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		id:     id,
		role:   role,
		caps:   caps,
		deps:   deps,
		log:    log,
		inv:    inv,
		ctx:    ctx,
		cancel: cancel,
		phase:  entry,
	}
	if ride != nil {
		r := ride.Clone()
		m.ride = &r
		m.log = m.log.With(slog.String("ride_id", r.ID))
	}
	m.cell = observe.NewCell(m.snapshotLocked())
	observability.SessionsActive.Inc()
	observability.PhaseTransitions.WithLabelValues(string(role), entry.String()).Inc()
	return m
}

func (m *Machine) ID() string        { return m.id }
func (m *Machine) Role() models.Role { return m.role }

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe delivers every published snapshot to fn, in order. fn runs
// outside the machine's lock and may call any Machine method.
func (m *Machine) Subscribe(fn func(Snapshot)) (cancel func()) {
	return m.cell.Subscribe(fn)
}

// Estimate requests a quote for est. It may be repeated while the ride has
// not been confirmed.
func (m *Machine) Estimate(ctx context.Context, est models.RideEstimate) (models.Quote, error) {
	if !m.caps.Has(CapEstimate) {
		return models.Quote{}, models.ErrNotPermitted
	}
	est.StartAddress = strings.TrimSpace(est.StartAddress)
	est.EndAddress = strings.TrimSpace(est.EndAddress)
	if est.StartAddress == "" || est.EndAddress == "" {
		return models.Quote{}, models.ErrInvalidEstimate
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if err := m.requireLocked(Idle, Estimated); err != nil {
		m.mu.Unlock()
		return models.Quote{}, err
	}
	m.mu.Unlock()

	callCtx, done := m.callContext(ctx)
	q, err := m.deps.Rides.Estimate(callCtx, est)
	done()

	m.mu.Lock()
	if m.phase == Closed {
		m.mu.Unlock()
		return models.Quote{}, models.ErrSessionClosed
	}
	if err != nil {
		aerr := &models.ActionError{Op: "estimate", Err: err}
		m.failLocked(aerr)
		m.mu.Unlock()
		m.flush()
		return models.Quote{}, aerr
	}
	m.estimate = &est
	m.quote = &q
	m.lastErr = ""
	m.transitionLocked(Estimated)
	m.mu.Unlock()
	m.flush()
	return q, nil
}

// Confirm creates the ride from the last quote and starts watching for a
// driver.
func (m *Machine) Confirm(ctx context.Context) (models.RideRecord, error) {
	if !m.caps.Has(CapEstimate) {
		return models.RideRecord{}, models.ErrNotPermitted
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if err := m.requireLocked(Estimated); err != nil {
		m.mu.Unlock()
		return models.RideRecord{}, err
	}
	est, q := *m.estimate, *m.quote
	m.mu.Unlock()

	callCtx, done := m.callContext(ctx)
	rec, err := m.deps.Rides.Create(callCtx, est, q)
	done()

	m.mu.Lock()
	if m.phase == Closed {
		m.mu.Unlock()
		return models.RideRecord{}, models.ErrSessionClosed
	}
	if err != nil {
		aerr := &models.ActionError{Op: "create", Err: err}
		m.failLocked(aerr)
		m.mu.Unlock()
		m.flush()
		return models.RideRecord{}, aerr
	}
	m.lastErr = ""
	m.setRideLocked(rec)
	m.transitionLocked(Created)
	p := m.beginPollingLocked()
	m.mu.Unlock()
	m.flush()

	m.startPoller(p, rec.ID)
	return rec.Clone(), nil
}

// Resume re-attaches a fresh rider session to a ride that is already in
// flight, recomputing the countdowns from the ride's absolute timestamps.
func (m *Machine) Resume(_ context.Context, rec models.RideRecord) error {
	if !m.caps.Has(CapPoll) {
		return models.ErrNotPermitted
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if err := m.requireLocked(Idle); err != nil {
		m.mu.Unlock()
		return err
	}
	switch rec.Status {
	case models.RideCreated:
		m.setRideLocked(rec)
		m.transitionLocked(Created)
		p := m.beginPollingLocked()
		m.mu.Unlock()
		m.flush()
		m.startPoller(p, rec.ID)
		return nil
	case models.RideAccepted:
		m.setRideLocked(rec)
		m.transitionLocked(Created)
		c, target := m.enterAcceptedLocked(rec)
		m.mu.Unlock()
		m.flush()
		m.startArrival(c, target)
		return nil
	default:
		m.mu.Unlock()
		return models.ErrNothingToResume
	}
}

// Accepted moves a driver session into Accepted using the record returned
// by a successful accept.
func (m *Machine) Accepted(rec models.RideRecord) error {
	if !m.caps.Has(CapAccept) {
		return models.ErrNotPermitted
	}
	m.mu.Lock()
	if err := m.requireLocked(Created); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.ride != nil && m.ride.ID != rec.ID {
		m.mu.Unlock()
		return m.inv.Violation("accepted record does not match session ride", slog.String("ride_id", rec.ID))
	}
	m.setRideLocked(rec)
	c, target := m.enterAcceptedLocked(rec)
	m.mu.Unlock()
	m.flush()
	m.startArrival(c, target)
	return nil
}

// SubmitRating rates the driver and closes the session. On failure the
// session stays in RatingPending so the rider can retry or dismiss.
func (m *Machine) SubmitRating(ctx context.Context, value int) error {
	if !m.caps.Has(CapRate) || m.deps.Rating == nil {
		return models.ErrNotPermitted
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if err := m.requireLocked(RatingPending); err != nil {
		m.mu.Unlock()
		return err
	}
	rideID := m.ratingTarget.RideID
	m.mu.Unlock()

	callCtx, done := m.callContext(ctx)
	sent, err := m.deps.Rating.Submit(callCtx, rideID, value)
	done()

	m.mu.Lock()
	if m.phase != RatingPending {
		m.mu.Unlock()
		return models.ErrSessionClosed
	}
	if err != nil {
		m.failLocked(err)
		m.mu.Unlock()
		m.flush()
		return err
	}
	// a ride rated elsewhere closes without claiming this value was sent
	if sent {
		v := value
		m.ratingTarget.Value = &v
	} else {
		m.log.Info("ride already rated", slog.String("ride_id", rideID))
	}
	m.lastErr = ""
	m.closeLocked()
	m.mu.Unlock()
	m.flush()
	return nil
}

// DismissRating closes the session without rating.
func (m *Machine) DismissRating() error {
	m.mu.Lock()
	if err := m.requireLocked(RatingPending); err != nil {
		m.mu.Unlock()
		return err
	}
	m.closeLocked()
	m.mu.Unlock()
	m.flush()
	return nil
}

// Stop closes the session from any phase, stopping the poller and both
// countdowns. It is idempotent and safe to call from a subscriber.
func (m *Machine) Stop() {
	m.mu.Lock()
	if m.phase == Closed {
		m.mu.Unlock()
		return
	}
	m.closeLocked()
	m.mu.Unlock()
	m.flush()
}

func (m *Machine) requireLocked(allowed ...Phase) error {
	if m.phase == Closed {
		return models.ErrSessionClosed
	}
	for _, p := range allowed {
		if m.phase == p {
			return nil
		}
	}
	return models.ErrInvalidPhase
}

// callContext derives a context for a backend call that is also cancelled
// when the session stops.
func (m *Machine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	return cctx, func() {
		stop()
		cancel()
	}
}

func (m *Machine) setRideLocked(rec models.RideRecord) {
	if m.ride == nil || m.ride.ID != rec.ID {
		m.log = m.log.With(slog.String("ride_id", rec.ID))
	}
	r := rec.Clone()
	m.ride = &r
}

func (m *Machine) failLocked(err error) {
	m.lastErr = err.Error()
	m.log.Warn("session action failed", slog.String("phase", m.phase.String()), slog.Any("error", err))
	m.emitLocked()
}

// transitionLocked moves to next and queues a snapshot. Staying in
// Estimated is a re-quote; any other non-forward move is a violation.
func (m *Machine) transitionLocked(next Phase) bool {
	if next < m.phase || (next == m.phase && next != Estimated) {
		m.inv.Violation("phase moved backwards",
			slog.String("from", m.phase.String()), slog.String("to", next.String()))
		return false
	}
	if next != m.phase {
		m.log.Info("phase changed", slog.String("from", m.phase.String()), slog.String("to", next.String()))
		observability.PhaseTransitions.WithLabelValues(string(m.role), next.String()).Inc()
	}
	m.phase = next
	m.emitLocked()
	return true
}

// closeLocked tears down every worker before discarding state.
func (m *Machine) closeLocked() {
	if m.poller != nil {
		m.poller.Stop()
		m.poller = nil
	}
	if m.arrival != nil {
		m.arrival.Stop()
		m.arrival = nil
	}
	if m.duration != nil {
		m.duration.Stop()
		m.duration = nil
	}
	m.arrivalActive = false
	m.durationActive = false
	m.cancel()
	m.transitionLocked(Closed)
	observability.SessionsActive.Dec()
}

func (m *Machine) beginPollingLocked() *poller.Poller {
	if !m.caps.Has(CapPoll) {
		return nil
	}
	p := poller.New(m.deps.Rides, m.deps.Clock, m.log)
	m.poller = p
	m.transitionLocked(WaitingForAcceptance)
	return p
}

func (m *Machine) startPoller(p *poller.Poller, rideID string) {
	if p == nil {
		return
	}
	err := p.Start(m.ctx, rideID, m.deps.PollInterval,
		func(rec models.RideRecord) { m.onPollUpdate(p, rec) },
		func(rec models.RideRecord) { m.onPollAccepted(p, rec) })
	if err != nil && !errors.Is(err, poller.ErrStopped) {
		m.inv.Violation("poller start failed", slog.Any("error", err))
	}
}

func (m *Machine) onPollUpdate(p *poller.Poller, rec models.RideRecord) {
	m.mu.Lock()
	if m.poller != p || m.phase != WaitingForAcceptance {
		m.mu.Unlock()
		return
	}
	switch rec.Status {
	case models.RideCreated:
		m.setRideLocked(rec)
		m.mu.Unlock()
		return
	case models.RideCompleted:
		// nobody accepted the ride; there is no driver to wait for or rate
		m.poller = nil
		m.setRideLocked(rec)
		m.lastErr = models.ErrRideFinished.Error()
		m.log.Warn("ride finished while waiting for a driver")
		m.closeLocked()
		m.mu.Unlock()
		m.flush()
	default:
		m.mu.Unlock()
	}
}

func (m *Machine) onPollAccepted(p *poller.Poller, rec models.RideRecord) {
	m.mu.Lock()
	if m.poller != p || m.phase != WaitingForAcceptance {
		m.mu.Unlock()
		return
	}
	m.poller = nil
	m.setRideLocked(rec)
	c, target := m.enterAcceptedLocked(rec)
	m.mu.Unlock()
	m.flush()
	m.startArrival(c, target)
}

// enterAcceptedLocked records the accepted ride, fixes the static ride
// duration and installs the arrival countdown. The caller starts it after
// releasing the lock because a past target elapses inside Start.
func (m *Machine) enterAcceptedLocked(rec models.RideRecord) (*countdown.Countdown, time.Time) {
	now := m.deps.Clock.Now()
	arrivalAt := rec.EstimatedDriverArrival
	if rec.EstimatedRideEnd == nil {
		m.inv.Violation("accepted ride has no estimated end")
		end := arrivalAt
		m.ride.EstimatedRideEnd = &end
	}
	if m.ride.Status == models.RideCreated {
		m.ride.Status = models.RideAccepted
	}
	m.transitionLocked(Accepted)

	arrival := clampPositive(arrivalAt.Sub(now))
	start := arrivalAt
	if now.After(start) {
		start = now
	}
	ride := clampPositive(m.ride.EstimatedRideEnd.Sub(start))
	m.arrivalRemaining = &arrival
	m.durationRemaining = &ride

	c := countdown.New(m.deps.Clock)
	m.arrival = c
	m.arrivalActive = true
	m.emitLocked()
	return c, arrivalAt
}

func (m *Machine) startArrival(c *countdown.Countdown, target time.Time) {
	err := c.Start(target, m.deps.TickResolution,
		func(rem time.Duration) { m.onArrivalTick(c, rem) },
		func() { m.onArrivalElapsed(c) })
	if err != nil && !errors.Is(err, countdown.ErrStopped) {
		m.inv.Violation("arrival countdown start failed", slog.Any("error", err))
	}
}

func (m *Machine) onArrivalTick(c *countdown.Countdown, rem time.Duration) {
	m.mu.Lock()
	if m.arrival != c {
		m.mu.Unlock()
		return
	}
	m.arrivalRemaining = &rem
	m.emitLocked()
	m.mu.Unlock()
	m.flush()
}

func (m *Machine) onArrivalElapsed(c *countdown.Countdown) {
	m.mu.Lock()
	if m.arrival != c {
		m.mu.Unlock()
		return
	}
	m.arrival = nil
	m.arrivalActive = false
	zero := time.Duration(0)
	m.arrivalRemaining = &zero
	m.transitionLocked(ArrivalElapsed)

	d := countdown.New(m.deps.Clock)
	m.duration = d
	m.durationActive = true
	target := *m.ride.EstimatedRideEnd
	m.transitionLocked(InProgress)
	m.mu.Unlock()
	m.flush()

	err := d.Start(target, m.deps.TickResolution,
		func(rem time.Duration) { m.onDurationTick(d, rem) },
		func() { m.onDurationElapsed(d) })
	if err != nil && !errors.Is(err, countdown.ErrStopped) {
		m.inv.Violation("duration countdown start failed", slog.Any("error", err))
	}
}

func (m *Machine) onDurationTick(d *countdown.Countdown, rem time.Duration) {
	m.mu.Lock()
	if m.duration != d {
		m.mu.Unlock()
		return
	}
	m.durationRemaining = &rem
	m.emitLocked()
	m.mu.Unlock()
	m.flush()
}

func (m *Machine) onDurationElapsed(d *countdown.Countdown) {
	m.mu.Lock()
	if m.duration != d {
		m.mu.Unlock()
		return
	}
	m.duration = nil
	m.durationActive = false
	zero := time.Duration(0)
	m.durationRemaining = &zero
	m.transitionLocked(Completed)
	if !m.caps.Has(CapReportCompletion) {
		m.closeLocked()
		m.mu.Unlock()
		m.flush()
		return
	}
	rideID := m.ride.ID
	ctx, log := m.ctx, m.log
	m.mu.Unlock()
	m.flush()

	m.reportCompletion(ctx, log, rideID)

	m.mu.Lock()
	if m.phase != Completed {
		m.mu.Unlock()
		return
	}
	if m.inv.Check(m.ratingTarget == nil, "rating target created twice", slog.String("ride_id", rideID)) {
		m.ratingTarget = &models.RatingTarget{RideID: rideID}
	}
	m.transitionLocked(RatingPending)
	m.mu.Unlock()
	m.flush()
}

// reportCompletion tells the backend the ride is over. The outcome never
// changes the local lifecycle.
func (m *Machine) reportCompletion(ctx context.Context, log *slog.Logger, rideID string) {
	rec, err := m.deps.Rides.UpdateStatus(ctx, rideID, models.RideCompleted)
	if err != nil {
		observability.CompletionReports.WithLabelValues("error").Inc()
		log.Warn("completion report failed", slog.Any("error", &models.ActionError{Op: "update_status", Err: err}))
		return
	}
	observability.CompletionReports.WithLabelValues("ok").Inc()
	m.mu.Lock()
	if m.ride != nil && rec.ID == m.ride.ID {
		m.ride.Status = rec.Status
	}
	m.mu.Unlock()
}

func clampPositive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		SessionID:         m.id,
		Role:              m.role,
		Phase:             m.phase,
		ArrivalRemaining:  copyDuration(m.arrivalRemaining),
		DurationRemaining: copyDuration(m.durationRemaining),
		ArrivalActive:     m.arrivalActive,
		DurationActive:    m.durationActive,
		Seq:               m.seq,
		Err:               m.lastErr,
	}
	if m.quote != nil {
		q := *m.quote
		s.Quote = &q
	}
	if m.ride != nil {
		r := m.ride.Clone()
		s.Ride = &r
	}
	if m.ratingTarget != nil {
		t := *m.ratingTarget
		if t.Value != nil {
			v := *t.Value
			t.Value = &v
		}
		s.RatingTarget = &t
	}
	return s
}

// emitLocked checks the clock invariants and queues a snapshot for
// delivery by flush.
func (m *Machine) emitLocked() {
	m.inv.Check(!(m.arrivalActive && m.durationActive), "both countdowns active")
	m.inv.Check(m.durationRemaining == nil || (m.ride != nil && m.ride.Status != models.RideCreated),
		"ride duration known before acceptance")
	m.seq++
	m.pending = append(m.pending, m.snapshotLocked())
}

// flush delivers queued snapshots in order. Only one goroutine delivers at
// a time; a publish from inside a subscriber is queued and delivered by the
// goroutine already draining.
func (m *Machine) flush() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.pending) > 0 {
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		for _, s := range batch {
			m.cell.Publish(s)
		}
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}
