// Package syncbarrier gates set-completion broadcasts for two-person
// strict-sync sessions so both participants advance together, falling
// back to an unsynchronized release if a peer stalls.
package syncbarrier

import (
	"sync"
	"time"
)

// StrictTimeout is the fallback window after which a barrier releases
// even if not every participant has completed the set.
const StrictTimeout = 60 * time.Second

// Barrier coordinates one session's set-completion gating. Soft-mode
// sessions and sessions with more than two participants never block:
// Complete always reports ready=true for them.
type Barrier struct {
	mu        sync.Mutex
	strict    bool
	timeout   time.Duration
	expected  map[string]struct{} // participant IDs required to complete
	done      map[string]struct{}
	timer     *time.Timer
	exercise  int
	set       int
	released  bool
	onRelease func()
}

// New constructs a Barrier. expected is the roster required to
// complete the current set; Complete only gates a strict barrier whose
// roster is exactly two participants and reports ready for any other.
// timeout falls back to StrictTimeout when zero.
func New(strict bool, expected []string, timeout time.Duration) *Barrier {
	if timeout <= 0 {
		timeout = StrictTimeout
	}
	b := &Barrier{
		strict:   strict,
		timeout:  timeout,
		expected: toSet(expected),
		done:     make(map[string]struct{}),
	}
	return b
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// Reset clears completion state for a new exercise/set, cancelling any
// pending timeout. Called on exercise_advanced.
func (b *Barrier) Reset(expected []string, exerciseIdx, setIdx int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.expected = toSet(expected)
	b.done = make(map[string]struct{})
	b.released = false
	b.exercise = exerciseIdx
	b.set = setIdx
}

// OnRelease registers the callback invoked when the barrier opens,
// either because every expected participant completed the set or the
// strict timeout elapsed. Invoked at most once per Reset cycle.
func (b *Barrier) OnRelease(fn func()) {
	b.mu.Lock()
	b.onRelease = fn
	b.mu.Unlock()
}

// Complete records that userID finished the current set and reports
// whether the barrier is now open (all expected participants done, or
// not in strict mode).
func (b *Barrier) Complete(userID string, exerciseIdx, setIdx int) (ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.strict || len(b.expected) != 2 {
		return true
	}
	if exerciseIdx != b.exercise || setIdx != b.set {
		if exerciseIdx < b.exercise || (exerciseIdx == b.exercise && setIdx < b.set) {
			// A stale completion for a set the barrier already moved past.
			return true
		}
		// First completion reported for a later set: start a new round.
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		b.done = make(map[string]struct{})
		b.exercise, b.set = exerciseIdx, setIdx
		b.released = false
	}
	if b.released {
		return true
	}

	b.done[userID] = struct{}{}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.timeout, b.fireTimeout)
	}

	if b.allDone() {
		b.release()
		return true
	}
	return false
}

// Left marks a departing participant as done so their absence cannot
// stall the barrier indefinitely.
func (b *Barrier) Left(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.expected, userID)
	if b.allDone() {
		b.release()
	}
}

func (b *Barrier) allDone() bool {
	if len(b.expected) == 0 {
		return false
	}
	for id := range b.expected {
		if _, ok := b.done[id]; !ok {
			return false
		}
	}
	return true
}

// release must be called with mu held.
func (b *Barrier) release() {
	if b.released {
		return
	}
	b.released = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	fn := b.onRelease
	if fn != nil {
		go fn()
	}
}

func (b *Barrier) fireTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.release()
}
