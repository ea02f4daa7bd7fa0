package session

import (
	"errors"
	"sync"
	"time"
)

var (
	errInvalidDebounceDelay  = errors.New("session: debounce delay must be positive")
	errMissingSettleCallback = errors.New("session: settle callback is required")
)

// Debouncer coalesces rapid triggers into a single settlement after the input
// has been quiet for the configured delay. Every Trigger cancels and restarts
// the pending timer, so a burst shorter than the delay settles exactly once.
// Each input channel owns its own Debouncer; instances share nothing.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	settle  func()
	timer   *time.Timer
	stopped bool
}

// NewDebouncer constructs a Debouncer that invokes settle once the trigger
// stream has been quiet for delay.
func NewDebouncer(delay time.Duration, settle func()) (*Debouncer, error) {
	if delay <= 0 {
		return nil, errInvalidDebounceDelay
	}
	if settle == nil {
		return nil, errMissingSettleCallback
	}
	return &Debouncer{
		delay:  delay,
		settle: settle,
	}, nil
}

// Trigger records a new raw input and restarts the quiet-period timer.
// Intermediate triggers inside the window are discarded; only the final
// settlement fires.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

// Stop cancels any pending settlement and discards future triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.settle()
}
