package session

import (
	"sync"
	"time"

	"livesession/src/logging"
	"livesession/src/model"
	"livesession/src/transport"
)

// targetedReactionInterval is the minimum gap between targeted
// reactions (fromUser -> targetUser) a single sender may emit.
// Broadcast-to-all reactions are not rate limited.
const targetedReactionInterval = time.Second

// reactionLimiter tracks the last targeted-reaction time per
// (session, sender, target) triple.
type reactionLimiter struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newReactionLimiter() *reactionLimiter {
	return &reactionLimiter{last: make(map[string]time.Time)}
}

func (r *reactionLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.last[key]; ok && now.Sub(last) < targetedReactionInterval {
		return false
	}
	r.last[key] = now
	return true
}

func (m *Manager) handleReaction(sessionID, userID string, raw any) {
	reaction, ok := decodeAny[model.Reaction](raw)
	if !ok {
		logging.WithSession(sessionID).WithField("user_id", userID).Warn("session: malformed reaction payload")
		return
	}
	reaction.FromUserID = userID
	reaction.Timestamp = time.Now()

	if reaction.TargetUserID != "" {
		key := sessionID + "|" + userID + "|" + reaction.TargetUserID
		if !m.reactions.allow(key, reaction.Timestamp) {
			return
		}
	}

	m.gw.Broadcast(sessionID, transport.OutboundEvent{
		Type: "reaction",
		Data: reaction,
	})
}
