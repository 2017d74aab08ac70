package session

import (
	"time"

	"livesession/src/logging"
	"livesession/src/model"
	"livesession/src/transport"
)

// liveStateMinInterval is 200ms, i.e. 5Hz per participant.
// handleLiveState does not apply it: every decoded update is stored
// and broadcast (see shouldBroadcast).
const liveStateMinInterval = 200 * time.Millisecond

func (m *Manager) handleLiveState(sessionID, userID string, raw any) {
	state, ok := decodeAny[model.LiveUserState](raw)
	if !ok {
		logging.WithSession(sessionID).WithField("user_id", userID).Warn("session: malformed live_state payload")
		return
	}

	rt := m.runtimeFor(sessionID)
	rt.mu.Lock()
	prev, existed := rt.liveStates[userID]
	rt.liveStates[userID] = state
	rt.mu.Unlock()

	if existed && !m.shouldBroadcast(prev, state) {
		return
	}

	m.gw.Broadcast(sessionID, transport.OutboundEvent{
		Type: "live_state",
		Data: map[string]any{"userId": userID, "state": state},
	})
}

// shouldBroadcast reports whether an update to an already-known live
// state is broadcast. It returns true for every update; no rate-based
// coalescing happens here. A backlog is collapsed only later, by the
// per-connection outbound queue in transport.
func (m *Manager) shouldBroadcast(prev, next model.LiveUserState) bool {
	if prev.SetsCompleted != next.SetsCompleted {
		return true
	}
	if prev.CurrentExercise != next.CurrentExercise {
		return true
	}
	return true
}

// LiveStatesSnapshot returns the current in-memory per-participant
// state, used to seed a reconnecting client and to roll up the finish
// summary.
func (m *Manager) LiveStatesSnapshot(sessionID string) map[string]model.LiveUserState {
	rt := m.runtimeFor(sessionID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make(map[string]model.LiveUserState, len(rt.liveStates))
	for k, v := range rt.liveStates {
		out[k] = v
	}
	return out
}

func decodeAny[T any](raw any) (T, bool) {
	var out T
	if raw == nil {
		return out, false
	}
	if err := remarshal(raw, &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}
