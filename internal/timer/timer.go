// Package timer provides the study countdown as an explicit service with an
// injected clock and context cancellation, instead of the ambient mutable
// state a UI timer usually accretes.
package timer

import (
	"context"
	"sync"
	"time"
)

// Config configures a Countdown. Zero values produce sensible defaults.
type Config struct {
	Interval time.Duration    // tick granularity, zero → 1s
	Now      func() time.Time // nil → time.Now
}

// Countdown counts a study period down to zero. Safe for concurrent use:
// the UI goroutine may pause and resume while the run loop ticks.
type Countdown struct {
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	remaining time.Duration
	deadline  time.Time
	paused    bool
	running   bool
}

// New creates a countdown over the given study duration.
func New(total time.Duration, cfg Config) *Countdown {
	interval := cfg.Interval
	if interval == 0 {
		interval = time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Countdown{interval: interval, now: now, remaining: total}
}

// Run starts the countdown and returns a channel carrying the remaining
// duration after every tick. The channel closes when the countdown reaches
// zero or the context is cancelled. Run may only be called once.
func (c *Countdown) Run(ctx context.Context) <-chan time.Duration {
	out := make(chan time.Duration, 1)

	c.mu.Lock()
	c.running = true
	c.deadline = c.now().Add(c.remaining)
	c.mu.Unlock()

	go func() {
		defer close(out)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rem, paused := c.tick()
				if paused {
					continue
				}
				select {
				case out <- rem:
				default: // drop the tick rather than stall the loop
				}
				if rem == 0 {
					return
				}
			}
		}
	}()
	return out
}

// tick advances the countdown against the wall clock.
func (c *Countdown) tick() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return c.remaining, true
	}
	c.remaining = c.deadline.Sub(c.now())
	if c.remaining < 0 {
		c.remaining = 0
	}
	return c.remaining, false
}

// Pause freezes the countdown; the remaining time stops shrinking.
func (c *Countdown) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	if c.running {
		c.remaining = c.deadline.Sub(c.now())
		if c.remaining < 0 {
			c.remaining = 0
		}
	}
	c.paused = true
}

// Resume continues a paused countdown from where it stopped.
func (c *Countdown) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	c.deadline = c.now().Add(c.remaining)
}

// Paused reports whether the countdown is currently paused.
func (c *Countdown) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Remaining returns the time left on the countdown.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || !c.running {
		return c.remaining
	}
	rem := c.deadline.Sub(c.now())
	if rem < 0 {
		rem = 0
	}
	return rem
}
