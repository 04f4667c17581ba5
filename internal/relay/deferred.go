package relay

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Deferred is an owned one-shot timer. At most one task is pending:
// Start replaces whatever was scheduled before.
type Deferred struct {
	clock clock.Clock

	mu    sync.Mutex
	timer *clock.Timer
	gen   uint64
}

// NewDeferred creates an idle handle.
func NewDeferred(c clock.Clock) *Deferred {
	return &Deferred{clock: c}
}

// Start schedules fn after d, cancelling any pending task.
func (d *Deferred) Start(after time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(after, func() {
		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending task and reports whether there was one.
func (d *Deferred) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	return true
}

// Pending reports whether a task is scheduled.
func (d *Deferred) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
