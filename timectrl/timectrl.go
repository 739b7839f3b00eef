package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is read access to simulated time. Components depend on this
// rather than on a concrete clock so tests can pin time.
type SimClock interface {
	// Now returns the simulated time elapsed since the run started.
	Now() time.Duration
	// Round returns the number of completed rounds.
	Round() int
}

// RoundClock is a discrete simulated clock advancing a fixed step per round.
type RoundClock struct {
	mu    sync.RWMutex
	step  time.Duration
	round int
}

// NewRoundClock builds a clock at round zero.
func NewRoundClock(step time.Duration) *RoundClock {
	return &RoundClock{step: step}
}

// Step returns the simulated time per round.
func (c *RoundClock) Step() time.Duration { return c.step }

// Now implements SimClock.
func (c *RoundClock) Now() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.round) * c.step
}

// Round implements SimClock.
func (c *RoundClock) Round() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.round
}

// Advance completes a round and returns the new round number and time.
func (c *RoundClock) Advance() (int, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.round++
	return c.round, time.Duration(c.round) * c.step
}

// Reset rewinds to round zero.
func (c *RoundClock) Reset() {
	c.mu.Lock()
	c.round = 0
	c.mu.Unlock()
}

// Mode describes how the TimeController paces ticks.
type Mode int

const (
	// RealTime fires one tick per Tick of wall-clock time.
	RealTime Mode = iota
	// Accelerated fires ticks back to back.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "real_time"
}

// TimeController paces simulation rounds and notifies registered listeners
// on every tick. A listener returning false stops the controller.
type TimeController struct {
	mu    sync.RWMutex
	Tick  time.Duration
	Mode  Mode
	ticks int

	listeners []func(ctx context.Context, tick int) bool
}

// NewTimeController constructs a controller.
func NewTimeController(tick time.Duration, mode Mode) *TimeController {
	return &TimeController{Tick: tick, Mode: mode}
}

// Ticks returns how many ticks have fired.
func (tc *TimeController) Ticks() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.ticks
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(ctx context.Context, tick int) bool) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Start runs the controller in a separate goroutine for at most maxTicks
// ticks (unbounded when maxTicks <= 0). It returns a channel that is closed
// when the controller finishes, the context is cancelled, or a listener
// asks to stop.
func (tc *TimeController) Start(ctx context.Context, maxTicks int) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		var tickC <-chan time.Time
		if tc.Mode == RealTime && tc.Tick > 0 {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			tickC = ticker.C
		}

		for n := 0; maxTicks <= 0 || n < maxTicks; n++ {
			if ctx.Err() != nil {
				return
			}
			if tickC != nil {
				select {
				case <-ctx.Done():
					return
				case <-tickC:
				}
			}

			tc.mu.Lock()
			tc.ticks++
			tick := tc.ticks
			listeners := append([]func(context.Context, int) bool(nil), tc.listeners...)
			tc.mu.Unlock()

			keepGoing := true
			for _, fn := range listeners {
				if !fn(ctx, tick) {
					keepGoing = false
				}
			}
			if !keepGoing {
				return
			}
		}
	}()
	return done
}
