package session

import (
	"context"

	"livesession/src/logging"
	"livesession/src/model"
	"livesession/src/syncbarrier"
	"livesession/src/transport"
)

// barrierFor returns this Manager's syncbarrier.Barrier for sessionID,
// constructing one on first use.
func (m *Manager) barrierFor(sessionID string) *syncbarrier.Barrier {
	m.barriersMu.Lock()
	defer m.barriersMu.Unlock()
	b, ok := m.barriers[sessionID]
	if !ok {
		sess, err := m.store.FindByID(context.Background(), sessionID)
		strict := false
		participants := []string{}
		if err == nil {
			strict = sess.SyncMode == model.SyncModeStrict && len(sess.ParticipantIDs) == 2
			participants = sess.ParticipantIDs
		}
		b = syncbarrier.New(strict, participants, m.cfg.StrictSyncTimeout)
		b.OnRelease(func() {
			m.gw.Broadcast(sessionID, transport.OutboundEvent{Type: "sync_barrier_released", Data: nil})
		})
		m.barriers[sessionID] = b
	}
	return b
}

// dropBarrier removes the cached barrier, called when a session
// terminates.
func (m *Manager) dropBarrier(sessionID string) {
	m.barriersMu.Lock()
	delete(m.barriers, sessionID)
	m.barriersMu.Unlock()
}

func (m *Manager) handleSyncEvent(sessionID, userID string, raw any) {
	evt, ok := decodeAny[model.SyncEvent](raw)
	if !ok {
		logging.WithSession(sessionID).WithField("user_id", userID).Warn("session: malformed sync_event payload")
		return
	}
	evt.UserID = userID

	b := m.barrierFor(sessionID)

	switch evt.Kind {
	case model.SyncExerciseAdvance:
		sess, err := m.store.FindByID(context.Background(), sessionID)
		if err == nil {
			b.Reset(sess.ParticipantIDs, evt.ExerciseIdx, 0)
		}
		m.gw.Broadcast(sessionID, transport.OutboundEvent{Type: "sync_event", Data: evt})
	case model.SyncSetCompleted:
		ready := b.Complete(userID, evt.ExerciseIdx, evt.SetIdx)
		m.gw.Broadcast(sessionID, transport.OutboundEvent{
			Type: "sync_event",
			Data: map[string]any{"event": evt, "barrierReady": ready},
		})
	default:
		m.gw.Broadcast(sessionID, transport.OutboundEvent{Type: "sync_event", Data: evt})
	}
}
