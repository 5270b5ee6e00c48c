// Package countdown smooths the auction timer between authoritative pushes.
package countdown

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/linluma/gavel/auction/bus"
	"github.com/linluma/gavel/shared/observable"
)

// Cadence is the local decrement interval
const Cadence = time.Second

// Countdown keeps a display value that snaps to every authoritative tick and
// decrements locally in between. The local value never feeds eligibility.
type Countdown struct {
	clock clock.Clock

	// publish orders display updates; held across compute and notify
	publish sync.Mutex

	mu            sync.Mutex
	authoritative int
	running       bool
	generation    uint64
	ticker        *clock.Ticker
	done          chan struct{}

	display *observable.Value[int]
}

// New creates a stopped countdown
func New(clk clock.Clock) *Countdown {
	if clk == nil {
		clk = clock.New()
	}
	return &Countdown{
		clock:   clk,
		display: observable.New(0),
	}
}

// Sync snaps the display to seconds and restarts the local cadence while running
func (c *Countdown) Sync(seconds int, running bool) {
	if seconds < 0 {
		seconds = 0
	}

	c.publish.Lock()
	defer c.publish.Unlock()

	c.mu.Lock()
	c.stopLocked()
	c.authoritative = seconds
	c.running = running
	if running && seconds > 0 {
		c.startLocked()
	}
	c.mu.Unlock()

	c.display.Set(seconds)
}

// Display returns the smoothed value for presentation
func (c *Countdown) Display() int {
	return c.display.Get()
}

// Authoritative returns the last pushed value
func (c *Countdown) Authoritative() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authoritative
}

// Running reports whether the last sync was for a running auction
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Watch registers fn for every display change
func (c *Countdown) Watch(fn func(int)) bus.Subscription {
	return c.display.Watch(fn)
}

// Stop halts the local cadence, keeping the current display value
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Countdown) startLocked() {
	c.generation++
	gen := c.generation
	ticker := c.clock.Ticker(Cadence)
	done := make(chan struct{})
	c.ticker = ticker
	c.done = done

	go c.run(gen, ticker, done)
}

func (c *Countdown) stopLocked() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	close(c.done)
	c.ticker = nil
	c.done = nil
}

func (c *Countdown) run(gen uint64, ticker *clock.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !c.decrement(gen) {
				return
			}
		}
	}
}

// decrement lowers the display by one. It returns false once the cadence should end.
func (c *Countdown) decrement(gen uint64) bool {
	c.publish.Lock()
	defer c.publish.Unlock()

	c.mu.Lock()
	if gen != c.generation || c.ticker == nil {
		c.mu.Unlock()
		return false
	}
	next := c.display.Get() - 1
	if next < 0 {
		next = 0
	}
	finished := next == 0
	if finished {
		c.stopLocked()
	}
	c.mu.Unlock()

	c.display.Set(next)
	return !finished
}
