package verification

import (
	"sync"
	"time"
)

const (
	// DefaultResendCooldown is how long a user waits before requesting another code.
	DefaultResendCooldown = 120 * time.Second

	tickInterval = time.Second
)

// Ticker is the tick source used by ResendTimer.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

func newStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

// TimerOption configures a ResendTimer.
type TimerOption func(*ResendTimer)

// WithTicker replaces the wall-clock tick source.
func WithTicker(newTicker func(time.Duration) Ticker) TimerOption {
	return func(t *ResendTimer) { t.newTicker = newTicker }
}

// ResendTimer is a one-second resolution countdown gating code resends.
// Each Start cancels the previous run, so at most one countdown is live.
type ResendTimer struct {
	mu        sync.Mutex
	duration  time.Duration
	newTicker func(time.Duration) Ticker
	remaining time.Duration
	running   bool
	gen       uint64
	stop      chan struct{}

	onTick   func(remaining time.Duration)
	onExpire func()
}

// NewResendTimer creates a stopped timer. Zero duration means DefaultResendCooldown.
func NewResendTimer(duration time.Duration, opts ...TimerOption) *ResendTimer {
	if duration <= 0 {
		duration = DefaultResendCooldown
	}
	t := &ResendTimer{
		duration:  duration,
		newTicker: newStdTicker,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Notify registers the tick and expiry callbacks. Callbacks run on the
// timer goroutine without any timer lock held.
func (t *ResendTimer) Notify(onTick func(time.Duration), onExpire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = onTick
	t.onExpire = onExpire
}

// Start resets the countdown to the full duration and begins ticking.
func (t *ResendTimer) Start() {
	t.mu.Lock()
	t.cancelLocked()
	t.gen++
	gen := t.gen
	t.remaining = t.duration
	t.running = true
	stop := make(chan struct{})
	t.stop = stop
	ticker := t.newTicker(tickInterval)
	t.mu.Unlock()

	go t.run(gen, ticker, stop)
}

// Cancel stops the countdown without emitting further signals.
func (t *ResendTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// Running reports whether the countdown is in progress.
func (t *ResendTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Remaining returns the time left; zero when not running.
func (t *ResendTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	return t.remaining
}

// Duration returns the full countdown length.
func (t *ResendTimer) Duration() time.Duration {
	return t.duration
}

func (t *ResendTimer) cancelLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.gen++
	t.running = false
	t.remaining = 0
}

func (t *ResendTimer) run(gen uint64, ticker Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			remaining, expired, ok := t.advance(gen)
			if !ok {
				return
			}
			t.mu.Lock()
			onTick, onExpire := t.onTick, t.onExpire
			t.mu.Unlock()

			if onTick != nil {
				onTick(remaining)
			}
			if expired {
				if onExpire != nil {
					onExpire()
				}
				return
			}
		}
	}
}

// advance applies one tick for run gen. ok is false when the run was
// cancelled or superseded.
func (t *ResendTimer) advance(gen uint64) (remaining time.Duration, expired, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || !t.running {
		return 0, false, false
	}
	t.remaining -= tickInterval
	if t.remaining <= 0 {
		t.remaining = 0
		t.running = false
		t.stop = nil
		return 0, true, true
	}
	return t.remaining, false, true
}
