// Package poller watches a ride's server-side status until a driver accepts
// it or the ride is finished.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/clock"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
)

// DefaultInterval is the period between status fetches.
const DefaultInterval = 5 * time.Second

var (
	ErrAlreadyStarted = errors.New("poller already started")
	ErrStopped        = errors.New("poller stopped")
)

// Fetcher loads the current record for a ride.
type Fetcher interface {
	GetStatus(ctx context.Context, rideID string) (models.RideRecord, error)
}

// Poller issues one fetch per interval. The next fetch is scheduled only
// after the previous one returns, so fetches never overlap.
type Poller struct {
	fetcher Fetcher
	clk     clock.Clock
	log     *slog.Logger

	mu         sync.Mutex
	started    bool
	stopped    bool
	ctx        context.Context
	cancel     context.CancelFunc
	timer      clock.Timer
	rideID     string
	interval   time.Duration
	onUpdate   func(models.RideRecord)
	onAccepted func(models.RideRecord)
}

func New(fetcher Fetcher, clk clock.Clock, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{fetcher: fetcher, clk: clk, log: logger}
}

// Start schedules the first fetch one interval from now. onUpdate runs
// after every successful fetch; onAccepted runs once, after which the
// poller stops itself. A completed ride also stops the poller, after a
// final onUpdate.
func (p *Poller) Start(ctx context.Context, rideID string, interval time.Duration, onUpdate, onAccepted func(models.RideRecord)) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.rideID = rideID
	p.interval = interval
	p.onUpdate = onUpdate
	p.onAccepted = onAccepted
	p.log = p.log.With(slog.String("ride_id", rideID))
	p.timer = p.clk.AfterFunc(interval, p.tick)
	return nil
}

func (p *Poller) tick() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	ctx, rideID := p.ctx, p.rideID
	p.mu.Unlock()

	rec, err := p.fetcher.GetStatus(ctx, rideID)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		observability.PollTicks.WithLabelValues("discarded").Inc()
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			p.stopLocked()
			p.mu.Unlock()
			return
		}
		ferr := &models.TransientFetchError{Op: "get_status", Err: err}
		p.log.Debug("poll failed", slog.Any("error", ferr))
		observability.PollTicks.WithLabelValues("error").Inc()
		p.timer = p.clk.AfterFunc(p.interval, p.tick)
		p.mu.Unlock()
		return
	}
	onUpdate, onAccepted := p.onUpdate, p.onAccepted
	accepted := rec.Status == models.RideAccepted
	finished := rec.Status == models.RideCompleted
	if accepted || finished {
		p.stopLocked()
	}
	p.mu.Unlock()

	if finished {
		observability.PollTicks.WithLabelValues("finished").Inc()
		if onUpdate != nil {
			onUpdate(rec.Clone())
		}
		return
	}

	if accepted {
		observability.PollTicks.WithLabelValues("accepted").Inc()
		if onUpdate != nil {
			onUpdate(rec.Clone())
		}
		if onAccepted != nil {
			onAccepted(rec.Clone())
		}
		return
	}

	observability.PollTicks.WithLabelValues("ok").Inc()
	if onUpdate != nil {
		onUpdate(rec.Clone())
	}

	p.mu.Lock()
	if !p.stopped {
		p.timer = p.clk.AfterFunc(p.interval, p.tick)
	}
	p.mu.Unlock()
}

// Stop cancels the pending tick and any in-flight fetch. It never blocks
// on the fetch and may be called from inside a callback.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if p.stopped {
		return
	}
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// Stopped reports whether the poller has been stopped, either explicitly or
// because the ride was accepted.
func (p *Poller) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}
