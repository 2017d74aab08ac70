// Package finish implements the end-of-workout protocol: each
// participant marks themselves finished and the session completes once
// everyone has. A participant who gives up waiting leaves on their own
// (session.Manager.ForceEnd); the session itself is not ended early.
package finish

import "sync"

// Tally tracks per-participant finished flags for one session.
type Tally struct {
	mu       sync.Mutex
	expected map[string]struct{}
	done     map[string]struct{}
}

// NewTally constructs a Tally for the given roster.
func NewTally(roster []string) *Tally {
	t := &Tally{
		expected: make(map[string]struct{}, len(roster)),
		done:     make(map[string]struct{}),
	}
	for _, id := range roster {
		t.expected[id] = struct{}{}
	}
	return t
}

// SetRoster updates who is expected to finish, e.g. after a
// participant leaves mid-workout.
func (t *Tally) SetRoster(roster []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expected = make(map[string]struct{}, len(roster))
	for _, id := range roster {
		t.expected[id] = struct{}{}
	}
}

// Finish records userID as finished and reports whether every
// expected participant has now finished.
func (t *Tally) Finish(userID string) (allDone bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done[userID] = struct{}{}
	return t.allDone()
}

// Waiting returns the participants who have not yet finished.
func (t *Tally) Waiting() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for id := range t.expected {
		if _, ok := t.done[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func (t *Tally) allDone() bool {
	if len(t.expected) == 0 {
		return false
	}
	for id := range t.expected {
		if _, ok := t.done[id]; !ok {
			return false
		}
	}
	return true
}
