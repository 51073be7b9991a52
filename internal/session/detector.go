package session

import (
	"sync"
	"time"
)

// DefaultDebounceDelay is the quiet period after which a utterance is
// considered finished.
const DefaultDebounceDelay = 800 * time.Millisecond

// SilenceDetector is a single-slot debounce timer. Every Touch cancels the
// pending timer and arms a new one; the callback runs only if no Touch or
// Cancel happened during the quiet period.
type SilenceDetector struct {
	delay time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	seq      uint64
	onSilent func()
}

func NewSilenceDetector(delay time.Duration) *SilenceDetector {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &SilenceDetector{delay: delay}
}

func (d *SilenceDetector) OnSilence(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSilent = callback
}

// Touch records activity and restarts the quiet period.
func (d *SilenceDetector) Touch() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// a Touch or Cancel raced with this firing
		if seq != d.seq {
			d.mu.Unlock()
			return
		}
		callback := d.onSilent
		d.timer = nil
		d.mu.Unlock()

		if callback != nil {
			callback()
		}
	})
}

// Cancel drops the pending timer, if any.
func (d *SilenceDetector) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
}

// Pending reports whether a timer is armed.
func (d *SilenceDetector) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
