package countdown

import (
	"errors"
	"testing"
	"time"

	"github.com/example/ride-lifecycle/internal/clock/clocktest"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestTicksDownAndElapsesOnce(t *testing.T) {
	clk := clocktest.New(epoch)
	c := New(clk)
	var ticks []time.Duration
	elapsedCalls := 0

	if err := c.Start(epoch.Add(time.Second), 250*time.Millisecond, func(d time.Duration) { ticks = append(ticks, d) }, func() { elapsedCalls++ }); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.Remaining() != time.Second {
		t.Fatalf("expected initial remaining 1s, got %v", c.Remaining())
	}

	clk.Advance(2 * time.Second)

	want := []time.Duration{750 * time.Millisecond, 500 * time.Millisecond, 250 * time.Millisecond}
	if len(ticks) != len(want) {
		t.Fatalf("expected %d ticks, got %v", len(want), ticks)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Fatalf("tick %d: expected %v, got %v", i, want[i], ticks[i])
		}
	}
	if elapsedCalls != 1 {
		t.Fatalf("expected onElapsed once, got %d", elapsedCalls)
	}
	if c.Remaining() != 0 || c.Running() || !c.Elapsed() {
		t.Fatalf("expected elapsed countdown at zero")
	}
	if clk.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", clk.Pending())
	}
}

func TestRemainingClampsAtZero(t *testing.T) {
	clk := clocktest.New(epoch)
	c := New(clk)
	var last time.Duration = -1
	done := false
	_ = c.Start(epoch.Add(150*time.Millisecond), 100*time.Millisecond, func(d time.Duration) { last = d }, func() { done = true })

	clk.Advance(time.Second)

	if last != 50*time.Millisecond {
		t.Fatalf("expected last tick 50ms, got %v", last)
	}
	if !done || c.Remaining() != 0 {
		t.Fatalf("expected clamp to zero, remaining=%v", c.Remaining())
	}
}

func TestPastTargetElapsesSynchronously(t *testing.T) {
	clk := clocktest.New(epoch)
	c := New(clk)
	done := false

	if err := c.Start(epoch.Add(-time.Minute), 0, nil, func() { done = true }); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !done {
		t.Fatal("expected onElapsed before Start returned")
	}
	if c.Remaining() != 0 {
		t.Fatalf("expected remaining 0, got %v", c.Remaining())
	}
	if clk.Pending() != 0 {
		t.Fatalf("expected no timers, got %d", clk.Pending())
	}
}

func TestStopCancelsBeforeElapse(t *testing.T) {
	clk := clocktest.New(epoch)
	c := New(clk)
	done := false
	_ = c.Start(epoch.Add(time.Minute), 0, nil, func() { done = true })
	clk.Advance(10 * time.Second)

	if !c.Stop() {
		t.Fatal("expected Stop to report a running countdown")
	}
	if c.Stop() {
		t.Fatal("second Stop should report false")
	}
	clk.Advance(time.Hour)

	if done {
		t.Fatal("onElapsed fired after Stop")
	}
	if clk.Pending() != 0 {
		t.Fatalf("expected no timers, got %d", clk.Pending())
	}
	if got := c.Remaining(); got != 50*time.Second {
		t.Fatalf("expected remaining frozen at 50s, got %v", got)
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	clk := clocktest.New(epoch)
	c := New(clk)
	_ = c.Start(epoch.Add(time.Minute), 0, nil, nil)

	if err := c.Start(epoch.Add(time.Minute), 0, nil, nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	c.Stop()
	if err := c.Start(epoch.Add(time.Minute), 0, nil, nil); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestStopFromTickCallback(t *testing.T) {
	clk := clocktest.New(epoch)
	c := New(clk)
	ticks := 0
	_ = c.Start(epoch.Add(time.Second), 0, func(time.Duration) {
		ticks++
		c.Stop()
	}, nil)

	clk.Advance(time.Second)

	if ticks != 1 {
		t.Fatalf("expected a single tick, got %d", ticks)
	}
	if clk.Pending() != 0 {
		t.Fatalf("expected no timers, got %d", clk.Pending())
	}
}
