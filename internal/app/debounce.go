package app

import (
	"sync"
	"time"
)

// rerunDebounceDelay is the quiet period edits must survive before a
// re-run request is actually issued.
const rerunDebounceDelay = 500 * time.Millisecond

// A Debouncer collapses rapid repeated triggers into a single delayed
// invocation of the most recent one.
type Debouncer struct {
	mu    sync.Mutex
	timer *time.Timer
	delay time.Duration
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Debounce schedules fn to run after the delay, cancelling any invocation
// still pending from an earlier call. Only the latest fn ever runs, at most
// once per quiet period. fn's outcome is not inspected.
func (d *Debouncer) Debounce(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Cancel drops any pending invocation.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
