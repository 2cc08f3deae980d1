// Package countdown implements a fixed-resolution countdown towards an
// absolute deadline.
package countdown

import (
	"errors"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/clock"
)

// DefaultResolution is the tick period used when Start is given zero.
const DefaultResolution = 100 * time.Millisecond

var (
	ErrAlreadyRunning = errors.New("countdown already running")
	ErrStopped        = errors.New("countdown stopped")
)

type state int

const (
	idle state = iota
	running
	elapsed
	stopped
)

// Countdown derives remaining time from a tick counter rather than from
// repeated wall-clock reads: remaining = initial - n*resolution.
// A Countdown is single-use.
type Countdown struct {
	clk clock.Clock

	mu         sync.Mutex
	st         state
	initial    time.Duration
	resolution time.Duration
	ticks      int64
	remaining  time.Duration
	timer      clock.Timer
	onTick     func(time.Duration)
	onElapsed  func()
}

func New(clk clock.Clock) *Countdown {
	return &Countdown{clk: clk}
}

// Start begins counting down to target. onTick receives every positive
// remaining value; onElapsed runs exactly once when remaining reaches zero.
// A target that is already past elapses synchronously before Start returns.
func (c *Countdown) Start(target time.Time, resolution time.Duration, onTick func(time.Duration), onElapsed func()) error {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	c.mu.Lock()
	switch c.st {
	case running:
		c.mu.Unlock()
		return ErrAlreadyRunning
	case elapsed, stopped:
		c.mu.Unlock()
		return ErrStopped
	}
	c.initial = target.Sub(c.clk.Now())
	c.resolution = resolution
	c.onTick = onTick
	c.onElapsed = onElapsed
	if c.initial <= 0 {
		c.remaining = 0
		c.st = elapsed
		c.mu.Unlock()
		if onElapsed != nil {
			onElapsed()
		}
		return nil
	}
	c.remaining = c.initial
	c.st = running
	c.timer = c.clk.AfterFunc(resolution, c.tick)
	c.mu.Unlock()
	return nil
}

func (c *Countdown) tick() {
	c.mu.Lock()
	if c.st != running {
		c.mu.Unlock()
		return
	}
	c.ticks++
	rem := c.initial - time.Duration(c.ticks)*c.resolution
	if rem <= 0 {
		c.remaining = 0
		c.st = elapsed
		c.timer = nil
		fn := c.onElapsed
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
		return
	}
	c.remaining = rem
	fn := c.onTick
	c.mu.Unlock()

	if fn != nil {
		fn(rem)
	}

	// the next tick is armed after delivery so ticks never overlap
	c.mu.Lock()
	if c.st == running {
		c.timer = c.clk.AfterFunc(c.resolution, c.tick)
	}
	c.mu.Unlock()
}

// Stop cancels a running countdown. It reports whether the countdown was
// running. After Stop the countdown cannot be restarted.
func (c *Countdown) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasRunning := c.st == running
	if c.st != elapsed {
		c.st = stopped
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return wasRunning
}

func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st == running
}

// Elapsed reports whether the countdown reached zero.
func (c *Countdown) Elapsed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st == elapsed
}
