// Package model defines the durable and ephemeral data types shared
// across the live workout session subsystem.
package model

import "time"

// Status is the session lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a terminal state: once reached,
// no further writes to the row are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// SyncMode selects the sync coordinator's gating behaviour.
type SyncMode string

const (
	SyncModeStrict SyncMode = "strict"
	SyncModeSoft   SyncMode = "soft"
)

// RoutineExercise is a minimal exercise entry supplied at session
// creation time; richer per-set metadata arrives at workout time via the
// external workout store.
type RoutineExercise struct {
	Name string `json:"name"`
	Sets int    `json:"sets"`
}

// Session is the durable record coordinating a group workout. Owned by
// the store; participantIds, leaderId, status, inviteCode, and
// participantHeartbeats mutate only via store writes that any peer can
// observe through the change feed.
type Session struct {
	SessionID             string            `json:"sessionId"`
	HostID                string            `json:"hostId"`
	LeaderID              string            `json:"leaderId"`
	ParticipantIDs        []string          `json:"participantIds"`
	Status                Status            `json:"status"`
	InviteCode            string            `json:"inviteCode"`
	RoutineData           []RoutineExercise `json:"routineData,omitempty"`
	SyncMode              SyncMode          `json:"syncMode,omitempty"`
	ParticipantHeartbeats map[string]int64  `json:"participantHeartbeats"`
	CreatedAt             time.Time         `json:"createdAt"`
	StartedAt             *time.Time        `json:"startedAt,omitempty"`
	EndedAt               *time.Time        `json:"endedAt,omitempty"`

	// UpdatedAt is ambient bookkeeping, not part of any spec invariant.
	UpdatedAt time.Time `json:"-"`
}

// HasParticipant reports whether userID is currently a member.
func (s *Session) HasParticipant(userID string) bool {
	for _, id := range s.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MaxParticipants is the membership cap for a single live session.
const MaxParticipants = 10
