package session

import (
	"context"

	"livesession/src/logging"
	"livesession/src/transport"
)

// WatchChangeFeed re-reads and rebroadcasts a session's durable record
// whenever another instance's write lands on the shared change feed,
// keeping every node's gateway subscribers converged on roster,
// leader, and status changes made elsewhere.
func (m *Manager) WatchChangeFeed(ctx context.Context, sessionIDs <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case sessionID, ok := <-sessionIDs:
			if !ok {
				return
			}
			sess, err := m.store.FindByID(ctx, sessionID)
			if err != nil {
				logging.WithSession(sessionID).WithError(err).Debug("session: change feed lookup failed")
				continue
			}
			m.gw.Broadcast(sessionID, transport.OutboundEvent{Type: "session_snapshot", Data: sess})
		}
	}
}
