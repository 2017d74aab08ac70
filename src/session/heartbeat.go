package session

import (
	"context"
	"time"

	"livesession/src/logging"
	"livesession/src/model"
)

// RecordHeartbeat persists a liveness timestamp for userID within
// sessionID. Called every HeartbeatInterval by each participant's
// client.
func (m *Manager) RecordHeartbeat(ctx context.Context, sessionID, userID string) error {
	return m.store.WriteHeartbeat(ctx, sessionID, userID, time.Now())
}

// ScanStaleHeartbeats runs on config.HeartbeatScanInterval and treats
// any participant whose last heartbeat is older than staleAfter as
// having dropped off. This is a local-view eviction only: the durable
// participantIds column is changed only by an explicit Leave or Kick,
// never by a missed heartbeat, so a participant whose socket comes
// back reappears without having to rejoin by invite code.
func (m *Manager) ScanStaleHeartbeats(ctx context.Context, staleAfter time.Duration) {
	sessions, err := m.store.ListActive(ctx)
	if err != nil {
		logging.Log.WithError(err).Warn("session: failed to list active sessions for heartbeat scan")
		return
	}

	cutoff := time.Now().Add(-staleAfter).Unix()
	for _, sess := range sessions {
		for _, userID := range sess.ParticipantIDs {
			beat, ok := sess.ParticipantHeartbeats[userID]
			if !ok {
				// No heartbeat recorded yet: grace period runs from when
				// the participant's membership was last persisted.
				beat = sess.UpdatedAt.Unix()
			}
			if beat >= cutoff {
				continue
			}
			logging.WithSession(sess.SessionID).WithField("user_id", userID).Info("session: evicting stale heartbeat from the local view")
			m.evictStale(ctx, sess, userID)
		}
	}
}

// evictStale drops userID from sessionID's local view: its live
// state, finished flag, and any open sync barrier it was blocking.
// The durable roster is untouched. If the vanished participant held
// leadership, a deterministic successor claims it so every scanner in
// the process converges on the same new leader without coordinating.
func (m *Manager) evictStale(ctx context.Context, sess *model.Session, userID string) {
	rt := m.runtimeFor(sess.SessionID)
	rt.mu.Lock()
	delete(rt.liveStates, userID)
	delete(rt.finished, userID)
	rt.evicted[userID] = struct{}{}
	rt.mu.Unlock()

	m.barrierFor(sess.SessionID).Left(userID)
	m.broadcastSessionEvent(sess.SessionID, model.EventParticipantLeft, userID)

	if sess.LeaderID == userID {
		m.reassignVanishedLeader(ctx, sess, userID)
	}
}

// reassignVanishedLeader picks the lexicographically smallest userID
// among durable participants that have not themselves been locally
// evicted and installs it as leader. Every participant's scanner
// computes the same candidate from the same inputs, so whichever one
// runs first is the one that actually writes it.
func (m *Manager) reassignVanishedLeader(ctx context.Context, sess *model.Session, vanished string) {
	rt := m.runtimeFor(sess.SessionID)
	rt.mu.Lock()
	candidate := ""
	for _, id := range sess.ParticipantIDs {
		if id == vanished {
			continue
		}
		if _, gone := rt.evicted[id]; gone {
			continue
		}
		if candidate == "" || id < candidate {
			candidate = id
		}
	}
	rt.mu.Unlock()

	if candidate == "" {
		return
	}
	if _, err := m.store.ReassignLeader(ctx, sess.SessionID, candidate); err != nil {
		logging.WithSession(sess.SessionID).WithError(err).Warn("session: leader reassignment after heartbeat eviction failed")
		return
	}
	m.broadcastSessionEvent(sess.SessionID, model.EventLeaderChanged, candidate)
}
