// Package display owns the panel power state machine and the backlight
// hardware behind it.
package display

import (
	"log/slog"
	"sync"
	"time"
)

// Power is the logical panel state.
type Power int

const (
	Off Power = iota
	On
)

func (p Power) String() string {
	if p == On {
		return "on"
	}
	return "off"
}

// Transition records a state change the controller committed.
type Transition struct {
	To Power
	At time.Time
}

// Controller is the single authority over display power. Every detector
// verdict flows through OnMotion, so wake and sleep decisions can never
// race each other.
//
// State commits before the backlight write. A failed write is logged and
// counted but the logical state stands, so a flaky sysfs node cannot
// wedge the machine; the next transition retries the hardware.
type Controller struct {
	mu           sync.RWMutex
	sink         PowerSink
	timeout      time.Duration
	state        Power
	lastMotionAt time.Time
	notify       func(Transition)

	powerOns  uint64
	powerOffs uint64
	writeErrs uint64
}

// Stats is a point-in-time snapshot of controller counters.
type Stats struct {
	State        string    `json:"state"`
	LastMotionAt time.Time `json:"last_motion_at"`
	PowerOns     uint64    `json:"power_ons"`
	PowerOffs    uint64    `json:"power_offs"`
	WriteErrors  uint64    `json:"write_errors"`
}

// NewController creates a controller in the given initial state. The
// hardware is not touched until Sync or the first transition.
func NewController(sink PowerSink, timeout time.Duration, initial Power) *Controller {
	return &Controller{
		sink:    sink,
		timeout: timeout,
		state:   initial,
	}
}

// SetNotify registers a callback fired after each committed transition.
// Register before the controller sees traffic.
func (c *Controller) SetNotify(fn func(Transition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
}

// OnMotion feeds one detector verdict into the state machine.
//
// Motion wakes a dark panel immediately and refreshes the inactivity
// clock either way. The sleep check runs on every call, even while the
// panel is up for streaming, so stillness blanks it on schedule. Callbacks
// fire outside the lock in commit order.
func (c *Controller) OnMotion(detected bool, now time.Time) {
	var transitions []Transition

	c.mu.Lock()
	if detected {
		c.lastMotionAt = now
		if c.state == Off {
			c.state = On
			c.powerOns++
			c.applyLocked(true)
			transitions = append(transitions, Transition{To: On, At: now})
		}
	}

	if c.state == On && !c.lastMotionAt.IsZero() && now.Sub(c.lastMotionAt) >= c.timeout {
		c.state = Off
		c.powerOffs++
		c.applyLocked(false)
		transitions = append(transitions, Transition{To: Off, At: now})
	}
	notify := c.notify
	c.mu.Unlock()

	if notify != nil {
		for _, tr := range transitions {
			notify(tr)
		}
	}
}

// Sync pushes the current logical state to the hardware and arms the
// inactivity clock. Called once at startup so a panel left in the wrong
// state by a previous run converges.
func (c *Controller) Sync(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == On {
		c.lastMotionAt = now
	}
	c.applyLocked(c.state == On)
}

// State returns the current logical power state.
func (c *Controller) State() Power {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastMotionAt returns the time of the most recent motion, zero if none.
func (c *Controller) LastMotionAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMotionAt
}

// Stats returns a snapshot of controller counters.
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		State:        c.state.String(),
		LastMotionAt: c.lastMotionAt,
		PowerOns:     c.powerOns,
		PowerOffs:    c.powerOffs,
		WriteErrors:  c.writeErrs,
	}
}

// applyLocked writes the state to the sink. Callers hold c.mu.
func (c *Controller) applyLocked(on bool) {
	if err := c.sink.Apply(on); err != nil {
		c.writeErrs++
		slog.Error("Backlight write failed",
			"on", on,
			"error", err,
			"action", "check backlight sysfs node path and permissions")
		return
	}
	slog.Info("Display power", "state", c.state.String())
}
