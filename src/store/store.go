// Package store persists live workout sessions and notifications in
// Postgres and republishes every mutation on an ordered change feed via
// LISTEN/NOTIFY.
//
// Methods that take a callerID enforce the caller's permissions
// themselves, the same predicates that would otherwise live in
// row-level-security policies, before issuing the underlying SQL.
// FindByID, ListActive, FindByInviteCode, ReassignLeader and
// CreateNotification perform no caller check; FindByInviteCode and
// ReassignLeader stand in for privileged SECURITY DEFINER functions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"livesession/src/apperr"
	"livesession/src/invite"
	"livesession/src/model"
)

// Store wraps a pgx connection pool with the session and notification
// persistence operations.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres, verifies the connection, and bootstraps
// the schema.
func New(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("store: parse config: %w", err)
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: bootstrap schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying connection pool so the transport layer
// can acquire its own dedicated LISTEN connection.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// notify publishes a session's ID on the change feed. A notify failure
// is returned to the caller as a Transient error alongside the
// committed row; the row write is never rolled back.
func (s *Store) notify(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, sessionID)
	return err
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var sess model.Session
	var participantIDs, routineData, heartbeats []byte
	err := row.Scan(
		&sess.SessionID, &sess.HostID, &sess.LeaderID,
		&participantIDs, &sess.Status, &sess.InviteCode,
		&routineData, &sess.SyncMode, &heartbeats,
		&sess.CreatedAt, &sess.StartedAt, &sess.EndedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(participantIDs, &sess.ParticipantIDs); err != nil {
		return nil, fmt.Errorf("store: decode participant_ids: %w", err)
	}
	if err := json.Unmarshal(routineData, &sess.RoutineData); err != nil {
		return nil, fmt.Errorf("store: decode routine_data: %w", err)
	}
	if err := json.Unmarshal(heartbeats, &sess.ParticipantHeartbeats); err != nil {
		return nil, fmt.Errorf("store: decode participant_heartbeats: %w", err)
	}
	return &sess, nil
}

const selectColumns = `session_id, host_id, leader_id, participant_ids, status, invite_code,
	routine_data, sync_mode, participant_heartbeats, created_at, started_at, ended_at, updated_at`

// CreateSession inserts a new pending session, generating a unique
// invite code. hostID becomes the initial leader and sole participant.
func (s *Store) CreateSession(ctx context.Context, sessionID, hostID string, routine []model.RoutineExercise, mode model.SyncMode) (*model.Session, error) {
	code, err := invite.Generate(func(candidate string) (bool, error) {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM live_sessions WHERE invite_code = $1 AND status IN ('pending','active'))`,
			candidate,
		).Scan(&exists)
		return exists, err
	})
	if err != nil {
		if errors.Is(err, invite.ErrExhausted) {
			return nil, apperr.Wrap("CreateSession", apperr.Exhausted, sessionID, err)
		}
		return nil, apperr.Wrap("CreateSession", apperr.Transient, sessionID, err)
	}

	participants, _ := json.Marshal([]string{hostID})
	routineJSON, _ := json.Marshal(routine)
	if routineJSON == nil {
		routineJSON = []byte("[]")
	}
	heartbeats, _ := json.Marshal(map[string]int64{})

	row := s.pool.QueryRow(ctx, `
		INSERT INTO live_sessions
			(session_id, host_id, leader_id, participant_ids, status, invite_code, routine_data, sync_mode, participant_heartbeats)
		VALUES ($1, $2, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+selectColumns,
		sessionID, hostID, participants, model.StatusPending, code, routineJSON, mode, heartbeats,
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, apperr.Wrap("CreateSession", apperr.Transient, sessionID, err)
	}
	if err := s.notify(ctx, sessionID); err != nil {
		return sess, apperr.Wrap("CreateSession.notify", apperr.Transient, sessionID, err)
	}
	return sess, nil
}

// FindByID loads a session by its primary key. No authorization
// predicate applies to a plain read by ID; callers that need to act on
// the result enforce membership themselves.
func (s *Store) FindByID(ctx context.Context, sessionID string) (*model.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM live_sessions WHERE session_id = $1`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New("FindByID", apperr.NotFound, sessionID, "session not found")
		}
		return nil, apperr.Wrap("FindByID", apperr.Transient, sessionID, err)
	}
	return sess, nil
}

// ListActive returns every pending or active session, used by the
// heartbeat scanner to find stale participants.
func (s *Store) ListActive(ctx context.Context) ([]*model.Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM live_sessions WHERE status IN ('pending','active')`)
	if err != nil {
		return nil, fmt.Errorf("store: list active: %w", err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan active session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// FindByInviteCode resolves a join code to a non-terminal session.
// This stands in for a SECURITY DEFINER lookup function: it is the
// only read path that a not-yet-member is permitted to perform.
func (s *Store) FindByInviteCode(ctx context.Context, code string) (*model.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+selectColumns+` FROM live_sessions
		WHERE invite_code = $1 AND status IN ('pending', 'active')`,
		invite.Normalize(code),
	)
	sess, err := scanSession(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New("FindByInviteCode", apperr.NotFound, "", "invite code not found or session ended")
		}
		return nil, apperr.Wrap("FindByInviteCode", apperr.Transient, "", err)
	}
	return sess, nil
}

// AddParticipant adds userID to the session's roster. Self-join only:
// a caller may only add themselves. Fails Full if the roster is
// already at model.MaxParticipants, Terminal if the session has ended.
func (s *Store) AddParticipant(ctx context.Context, sessionID, callerID, userID string) (*model.Session, error) {
	if callerID != userID {
		return nil, apperr.New("AddParticipant", apperr.Forbidden, sessionID, "only self-join is permitted")
	}

	sess, err := s.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, apperr.New("AddParticipant", apperr.Terminal, sessionID, "session has ended")
	}
	if sess.HasParticipant(userID) {
		return sess, nil // idempotent rejoin
	}
	if len(sess.ParticipantIDs) >= model.MaxParticipants {
		return nil, apperr.New("AddParticipant", apperr.Full, sessionID, "session is full")
	}

	updated := append(append([]string{}, sess.ParticipantIDs...), userID)
	participantsJSON, _ := json.Marshal(updated)

	row := s.pool.QueryRow(ctx, `
		UPDATE live_sessions SET participant_ids = $2, updated_at = now()
		WHERE session_id = $1 AND NOT (status IN ('completed','cancelled'))
		RETURNING `+selectColumns,
		sessionID, participantsJSON,
	)
	out, err := scanSession(row)
	if err != nil {
		return nil, apperr.Wrap("AddParticipant", apperr.Conflict, sessionID, err)
	}
	if err := s.notify(ctx, sessionID); err != nil {
		return out, apperr.Wrap("AddParticipant.notify", apperr.Transient, sessionID, err)
	}
	return out, nil
}

// RemoveParticipant removes userID from the roster. A caller may
// always remove themselves; removing someone else requires the caller
// to be the current leader (a kick).
func (s *Store) RemoveParticipant(ctx context.Context, sessionID, callerID, userID string) (*model.Session, error) {
	sess, err := s.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if callerID != userID && sess.LeaderID != callerID {
		return nil, apperr.New("RemoveParticipant", apperr.Forbidden, sessionID, "only the leader may remove another participant")
	}
	if !sess.HasParticipant(userID) {
		return sess, nil // idempotent
	}

	remaining := make([]string, 0, len(sess.ParticipantIDs))
	for _, id := range sess.ParticipantIDs {
		if id != userID {
			remaining = append(remaining, id)
		}
	}
	participantsJSON, _ := json.Marshal(remaining)

	newLeader := sess.LeaderID
	if newLeader == userID && len(remaining) > 0 {
		newLeader = remaining[0]
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE live_sessions SET participant_ids = $2, leader_id = $3, updated_at = now()
		WHERE session_id = $1
		RETURNING `+selectColumns,
		sessionID, participantsJSON, newLeader,
	)
	out, err := scanSession(row)
	if err != nil {
		return nil, apperr.Wrap("RemoveParticipant", apperr.Conflict, sessionID, err)
	}
	if err := s.notify(ctx, sessionID); err != nil {
		return out, apperr.Wrap("RemoveParticipant.notify", apperr.Transient, sessionID, err)
	}
	return out, nil
}

// SetLeader transfers leadership to targetID. Only the current leader
// or the host may initiate a transfer, and the target must already be
// a participant.
func (s *Store) SetLeader(ctx context.Context, sessionID, callerID, targetID string) (*model.Session, error) {
	sess, err := s.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if callerID != sess.LeaderID && callerID != sess.HostID {
		return nil, apperr.New("SetLeader", apperr.Forbidden, sessionID, "only the leader or host may transfer leadership")
	}
	if !sess.HasParticipant(targetID) {
		return nil, apperr.New("SetLeader", apperr.NotMember, sessionID, "target is not a participant")
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE live_sessions SET leader_id = $2, updated_at = now()
		WHERE session_id = $1
		RETURNING `+selectColumns,
		sessionID, targetID,
	)
	out, err := scanSession(row)
	if err != nil {
		return nil, apperr.Wrap("SetLeader", apperr.Conflict, sessionID, err)
	}
	if err := s.notify(ctx, sessionID); err != nil {
		return out, apperr.Wrap("SetLeader.notify", apperr.Transient, sessionID, err)
	}
	return out, nil
}

// ReassignLeader installs targetID as leader without the usual
// transfer authorization check. The caller must already know the
// previous leader is unreachable (the heartbeat scanner's
// leader-vanish convergence is the only caller); a participant who is
// merely disconnected still owns a normal SetLeader transfer.
func (s *Store) ReassignLeader(ctx context.Context, sessionID, targetID string) (*model.Session, error) {
	sess, err := s.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.HasParticipant(targetID) {
		return nil, apperr.New("ReassignLeader", apperr.NotMember, sessionID, "target is not a participant")
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE live_sessions SET leader_id = $2, updated_at = now()
		WHERE session_id = $1
		RETURNING `+selectColumns,
		sessionID, targetID,
	)
	out, err := scanSession(row)
	if err != nil {
		return nil, apperr.Wrap("ReassignLeader", apperr.Conflict, sessionID, err)
	}
	if err := s.notify(ctx, sessionID); err != nil {
		return out, apperr.Wrap("ReassignLeader.notify", apperr.Transient, sessionID, err)
	}
	return out, nil
}

// UpdateStatus transitions the session's lifecycle status. Only the
// leader may drive a transition; terminal states are a one-way door.
func (s *Store) UpdateStatus(ctx context.Context, sessionID, callerID string, status model.Status) (*model.Session, error) {
	sess, err := s.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, apperr.New("UpdateStatus", apperr.Terminal, sessionID, "session has already ended")
	}
	if callerID != sess.LeaderID {
		return nil, apperr.New("UpdateStatus", apperr.Forbidden, sessionID, "only the leader may change session status")
	}

	var row pgx.Row
	switch status {
	case model.StatusActive:
		row = s.pool.QueryRow(ctx, `
			UPDATE live_sessions SET status = $2, started_at = COALESCE(started_at, now()), updated_at = now()
			WHERE session_id = $1 RETURNING `+selectColumns, sessionID, status)
	case model.StatusCompleted, model.StatusCancelled:
		row = s.pool.QueryRow(ctx, `
			UPDATE live_sessions SET status = $2, ended_at = now(), updated_at = now()
			WHERE session_id = $1 RETURNING `+selectColumns, sessionID, status)
	default:
		row = s.pool.QueryRow(ctx, `
			UPDATE live_sessions SET status = $2, updated_at = now()
			WHERE session_id = $1 RETURNING `+selectColumns, sessionID, status)
	}

	out, err := scanSession(row)
	if err != nil {
		return nil, apperr.Wrap("UpdateStatus", apperr.Conflict, sessionID, err)
	}
	if err := s.notify(ctx, sessionID); err != nil {
		return out, apperr.Wrap("UpdateStatus.notify", apperr.Transient, sessionID, err)
	}
	return out, nil
}

// WriteHeartbeat records a liveness timestamp for userID. Self only.
func (s *Store) WriteHeartbeat(ctx context.Context, sessionID, callerID string, at time.Time) error {
	sess, err := s.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.HasParticipant(callerID) {
		return apperr.New("WriteHeartbeat", apperr.NotMember, sessionID, "caller is not a participant")
	}

	beats := sess.ParticipantHeartbeats
	if beats == nil {
		beats = map[string]int64{}
	}
	beats[callerID] = at.Unix()
	beatsJSON, _ := json.Marshal(beats)

	_, err = s.pool.Exec(ctx, `UPDATE live_sessions SET participant_heartbeats = $2, updated_at = now() WHERE session_id = $1`,
		sessionID, beatsJSON)
	if err != nil {
		return apperr.Wrap("WriteHeartbeat", apperr.Transient, sessionID, err)
	}
	return nil
}

// CreateNotification inserts a durable notification for userID.
func (s *Store) CreateNotification(ctx context.Context, n *model.Notification) error {
	dataJSON, _ := json.Marshal(n.Data)
	if dataJSON == nil {
		dataJSON = []byte("{}")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO live_session_notifications (id, user_id, type, title, body, data, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, dataJSON, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create notification: %w", err)
	}
	return nil
}

// ListUnread returns userID's unread notifications, oldest first. A
// caller may only list their own.
func (s *Store) ListUnread(ctx context.Context, callerID, userID string) ([]model.Notification, error) {
	if callerID != userID {
		return nil, apperr.New("ListUnread", apperr.Forbidden, "", "may only list your own notifications")
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, title, body, data, read, created_at
		FROM live_session_notifications WHERE user_id = $1 AND NOT read ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list unread: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var dataJSON []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &dataJSON, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan notification: %w", err)
		}
		_ = json.Unmarshal(dataJSON, &n.Data)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead marks a notification as read. A caller may only mark their own.
func (s *Store) MarkRead(ctx context.Context, callerID, notificationID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE live_session_notifications SET read = true
		WHERE id = $1 AND user_id = $2`, notificationID, callerID)
	if err != nil {
		return fmt.Errorf("store: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New("MarkRead", apperr.NotFound, "", "notification not found")
	}
	return nil
}
