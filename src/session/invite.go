package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"livesession/src/model"
)

// NotificationStore is the subset of store.Store the invite flow uses,
// split out so it can be exercised independently in tests.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
	ListUnread(ctx context.Context, callerID, userID string) ([]model.Notification, error)
	MarkRead(ctx context.Context, callerID, notificationID string) error
}

// InviteUser sends a direct live_invite notification to targetID,
// separate from sharing the session's invite code out of band. The
// caller must already be a participant.
func (m *Manager) InviteUser(ctx context.Context, sessionID, callerID, targetID string) error {
	sess, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.HasParticipant(callerID) {
		return ErrHeartbeatNotMember
	}

	ns, ok := m.store.(NotificationStore)
	if !ok {
		return nil
	}
	return ns.CreateNotification(ctx, &model.Notification{
		ID:     uuid.New().String(),
		UserID: targetID,
		Type:   model.NotificationLiveInvite,
		Title:  "Live workout invite",
		Body:   "You've been invited to join a live workout.",
		Data: map[string]any{
			"sessionId":  sessionID,
			"inviteCode": sess.InviteCode,
			"fromUserId": callerID,
		},
		Read:      false,
		CreatedAt: time.Now(),
	})
}

// AcceptInvite records a live_accepted notification back to the
// inviter and joins userID (the invitee) to the session.
func (m *Manager) AcceptInvite(ctx context.Context, sessionID, inviterID, userID string) (*model.Session, error) {
	sess, err := m.join(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if ns, ok := m.store.(NotificationStore); ok && inviterID != "" {
		_ = ns.CreateNotification(ctx, &model.Notification{
			ID:        uuid.New().String(),
			UserID:    inviterID,
			Type:      model.NotificationLiveAccepted,
			Title:     "Invite accepted",
			Body:      "Your live workout invite was accepted.",
			Data:      map[string]any{"sessionId": sessionID, "userId": userID},
			CreatedAt: time.Now(),
		})
	}
	return sess, nil
}

// ListNotifications returns userID's unread notifications.
func (m *Manager) ListNotifications(ctx context.Context, callerID, userID string) ([]model.Notification, error) {
	ns, ok := m.store.(NotificationStore)
	if !ok {
		return nil, nil
	}
	return ns.ListUnread(ctx, callerID, userID)
}

// MarkNotificationRead marks a notification read on behalf of callerID.
func (m *Manager) MarkNotificationRead(ctx context.Context, callerID, notificationID string) error {
	ns, ok := m.store.(NotificationStore)
	if !ok {
		return nil
	}
	return ns.MarkRead(ctx, callerID, notificationID)
}
