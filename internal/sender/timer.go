package sender

import (
	"sync"
	"time"
)

// retransTimer is the sender's single retransmission timer: a deadline
// plus a generation counter, per spec §9's Design Notes. Every arm
// bumps the generation; an expiry callback carrying a stale generation
// is discarded. This sidesteps time.Timer.Stop()/drain races entirely
// since a rearm never needs to cancel the previous AfterFunc, only
// invalidate its effect.
type retransTimer struct {
	mu         sync.Mutex
	generation uint64
	armed      bool
	events     chan uint64
}

func newRetransTimer() *retransTimer {
	return &retransTimer{events: make(chan uint64, 1)}
}

// arm (re)starts the timer for d from now.
func (t *retransTimer) arm(d time.Duration) {
	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.armed = true
	t.mu.Unlock()

	time.AfterFunc(d, func() {
		t.mu.Lock()
		fire := t.armed && t.generation == gen
		t.mu.Unlock()
		if fire {
			t.events <- gen
		}
	})
}

// disarm invalidates any pending expiry without needing to stop it.
func (t *retransTimer) disarm() {
	t.mu.Lock()
	t.generation++
	t.armed = false
	t.mu.Unlock()
}

// isArmed reports whether the timer currently holds a live deadline.
func (t *retransTimer) isArmed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// accept reports whether a generation read from events is still
// current, i.e. not superseded by a later arm/disarm.
func (t *retransTimer) accept(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed && t.generation == gen
}
