package session

import (
	"context"

	"livesession/src/finish"
	"livesession/src/model"
	"livesession/src/transport"
)

// tallyFor returns this Manager's finish.Tally for sessionID,
// constructing one from the current roster on first use.
func (m *Manager) tallyFor(sessionID string) *finish.Tally {
	m.talliesMu.Lock()
	defer m.talliesMu.Unlock()
	t, ok := m.tallies[sessionID]
	if !ok {
		roster := []string{}
		if sess, err := m.store.FindByID(context.Background(), sessionID); err == nil {
			roster = sess.ParticipantIDs
		}
		t = finish.NewTally(roster)
		m.tallies[sessionID] = t
	}
	return t
}

func (m *Manager) dropTally(sessionID string) {
	m.talliesMu.Lock()
	delete(m.tallies, sessionID)
	m.talliesMu.Unlock()
}

// ParticipantFinished marks userID as finished. If every participant
// has now finished, the session transitions to completed and a
// summary is broadcast; otherwise a waiting update is broadcast.
func (m *Manager) ParticipantFinished(ctx context.Context, sessionID, userID string) error {
	t := m.tallyFor(sessionID)
	allDone := t.Finish(userID)

	m.broadcastSessionEvent(sessionID, model.EventParticipantFinished, userID)

	if !allDone {
		m.gw.Broadcast(sessionID, transport.OutboundEvent{
			Type: "finish_waiting",
			Data: map[string]any{"waiting": t.Waiting()},
		})
		return nil
	}

	return m.completeSession(ctx, sessionID, userID)
}

// ForceEnd lets callerID give up on waiting for holdouts and leave
// right away. This is a self-exit, not a leader-wide teardown: it
// removes only callerID from the roster (via the same path Leave
// uses) and the session stays active for whoever remains. A summary
// built from every participant's last-known state is still broadcast,
// so the caller gets their recap even though the session itself keeps
// going.
func (m *Manager) ForceEnd(ctx context.Context, sessionID, callerID string) error {
	after, err := m.store.RemoveParticipant(ctx, sessionID, callerID, callerID)
	if err != nil {
		return err
	}

	summary := finish.BuildSummary(m.LiveStatesSnapshot(sessionID))

	m.tr.LeaveSession(callerID)
	m.clearLiveState(sessionID, callerID)
	m.barrierFor(sessionID).Left(callerID)
	m.tallyFor(sessionID).SetRoster(after.ParticipantIDs)

	m.broadcastSessionEvent(sessionID, model.EventParticipantLeft, callerID)
	m.gw.Broadcast(sessionID, transport.OutboundEvent{Type: "force_end_summary", Data: summary})
	return nil
}

func (m *Manager) completeSession(ctx context.Context, sessionID, callerID string) error {
	// The leader writes the completed status on the group's behalf; the
	// last participant to finish need not hold leadership.
	writer := callerID
	if sess, err := m.store.FindByID(ctx, sessionID); err == nil && sess.LeaderID != "" {
		writer = sess.LeaderID
	}
	if _, err := m.store.UpdateStatus(ctx, sessionID, writer, model.StatusCompleted); err != nil {
		return err
	}

	summary := finish.BuildSummary(m.LiveStatesSnapshot(sessionID))
	m.gw.Broadcast(sessionID, transport.OutboundEvent{Type: "session_completed", Data: summary})

	m.dropTally(sessionID)
	m.dropBarrier(sessionID)
	m.dropRuntime(sessionID)
	return nil
}

// CancelSession cancels the session when callerID is its only
// remaining participant. If anyone else is still in it, callerID
// leaves instead (the Leave path) and the session carries on. The
// store lets only the current leader write the cancelled status.
func (m *Manager) CancelSession(ctx context.Context, sessionID, callerID string) error {
	sess, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, id := range sess.ParticipantIDs {
		if id != callerID {
			return m.Leave(ctx, sessionID, callerID)
		}
	}
	if _, err := m.store.UpdateStatus(ctx, sessionID, callerID, model.StatusCancelled); err != nil {
		return err
	}
	m.gw.Broadcast(sessionID, transport.OutboundEvent{Type: "session_cancelled", Data: nil})
	m.dropTally(sessionID)
	m.dropBarrier(sessionID)
	m.dropRuntime(sessionID)
	return nil
}
