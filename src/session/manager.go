// Package session coordinates the runtime lifecycle of a live workout:
// membership, leadership, heartbeats, reactions, the set-completion
// sync barrier, and the finish protocol. It is the Handler the
// transport gateway calls into, and the one place that turns store
// mutations into broadcasts.
package session

import (
	"context"
	"sync"
	"time"

	"livesession/src/apperr"
	"livesession/src/config"
	"livesession/src/finish"
	"livesession/src/logging"
	"livesession/src/model"
	"livesession/src/presence"
	"livesession/src/syncbarrier"
	"livesession/src/transport"
)

// Store is the subset of store.Store the manager depends on, kept as
// an interface so tests can substitute an in-memory fake.
type Store interface {
	CreateSession(ctx context.Context, sessionID, hostID string, routine []model.RoutineExercise, mode model.SyncMode) (*model.Session, error)
	FindByID(ctx context.Context, sessionID string) (*model.Session, error)
	FindByInviteCode(ctx context.Context, code string) (*model.Session, error)
	AddParticipant(ctx context.Context, sessionID, callerID, userID string) (*model.Session, error)
	RemoveParticipant(ctx context.Context, sessionID, callerID, userID string) (*model.Session, error)
	SetLeader(ctx context.Context, sessionID, callerID, targetID string) (*model.Session, error)
	// ReassignLeader installs targetID as leader without the usual
	// transfer authorization check: the current leader has vanished
	// and can no longer initiate a transfer itself, so the heartbeat
	// scanner claims leadership on the survivor's behalf. Privileged
	// the same way FindByInviteCode's unauthenticated lookup is.
	ReassignLeader(ctx context.Context, sessionID, targetID string) (*model.Session, error)
	UpdateStatus(ctx context.Context, sessionID, callerID string, status model.Status) (*model.Session, error)
	WriteHeartbeat(ctx context.Context, sessionID, callerID string, at time.Time) error
	ListActive(ctx context.Context) ([]*model.Session, error)
}

// Broadcaster is the subset of transport.Gateway the manager drives.
type Broadcaster interface {
	Broadcast(sessionID string, evt transport.OutboundEvent)
}

// runtime holds the in-memory, non-persisted state for one active
// session: per-participant live workout snapshots, finished flags,
// and the locally evicted set. The sync barrier and finish tally are
// kept separately on Manager (barriers, tallies). Nothing here is
// read back from the store.
type runtime struct {
	mu         sync.Mutex
	liveStates map[string]model.LiveUserState
	finished   map[string]bool
	// evicted tracks participants dropped from the local view by a
	// heartbeat timeout. The durable roster still lists them; they
	// reappear here only once a participant_joined re-adds them.
	evicted map[string]struct{}
}

// Manager is the central session coordinator. Every piece of runtime
// state it owns (live-state snapshots, sync barriers, finish tallies,
// the reaction rate limiter) is a field on the instance rather than a
// package-level singleton, so two Managers in the same process never
// share state across sessions that happen to land in both.
type Manager struct {
	store  Store
	gw     Broadcaster
	tr     *presence.Tracker
	cfg    *config.Config

	mu       sync.Mutex
	runtimes map[string]*runtime

	barriersMu sync.Mutex
	barriers   map[string]*syncbarrier.Barrier

	talliesMu sync.Mutex
	tallies   map[string]*finish.Tally

	reactions *reactionLimiter
}

// NewManager constructs a Manager.
func NewManager(store Store, gw Broadcaster, tr *presence.Tracker, cfg *config.Config) *Manager {
	return &Manager{
		store:     store,
		gw:        gw,
		tr:        tr,
		cfg:       cfg,
		runtimes:  make(map[string]*runtime),
		barriers:  make(map[string]*syncbarrier.Barrier),
		tallies:   make(map[string]*finish.Tally),
		reactions: newReactionLimiter(),
	}
}

func (m *Manager) runtimeFor(sessionID string) *runtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[sessionID]
	if !ok {
		rt = &runtime{
			liveStates: make(map[string]model.LiveUserState),
			finished:   make(map[string]bool),
			evicted:    make(map[string]struct{}),
		}
		m.runtimes[sessionID] = rt
	}
	return rt
}

func (m *Manager) dropRuntime(sessionID string) {
	m.mu.Lock()
	delete(m.runtimes, sessionID)
	m.mu.Unlock()
}

// CreateSession persists a new pending session with hostID as its
// sole participant and leader.
func (m *Manager) CreateSession(ctx context.Context, sessionID, hostID string, routine []model.RoutineExercise, mode model.SyncMode) (*model.Session, error) {
	sess, err := m.store.CreateSession(ctx, sessionID, hostID, routine, mode)
	if err != nil {
		return nil, err
	}
	m.tr.EnterSession(hostID, sessionID)
	return sess, nil
}

// GetSession returns the durable session record by ID.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	return m.store.FindByID(ctx, sessionID)
}

// JoinByCode resolves an invite code and adds userID as a participant.
func (m *Manager) JoinByCode(ctx context.Context, code, userID string) (*model.Session, error) {
	sess, err := m.store.FindByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return m.join(ctx, sess.SessionID, userID)
}

func (m *Manager) join(ctx context.Context, sessionID, userID string) (*model.Session, error) {
	sess, err := m.store.AddParticipant(ctx, sessionID, userID, userID)
	if err != nil {
		return nil, err
	}
	m.tr.EnterSession(userID, sessionID)
	m.clearLiveState(sessionID, userID)
	m.broadcastSessionEvent(sessionID, model.EventParticipantJoined, userID)
	return sess, nil
}

// Leave removes userID from the session. If userID was the leader,
// the store promotes the next participant; if the roster is now
// empty the session stays pending/active until whoever ends it.
func (m *Manager) Leave(ctx context.Context, sessionID, userID string) error {
	before, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	wasLeader := before.LeaderID == userID
	after, err := m.store.RemoveParticipant(ctx, sessionID, userID, userID)
	if err != nil {
		return err
	}
	m.tr.LeaveSession(userID)
	m.clearLiveState(sessionID, userID)
	m.barrierFor(sessionID).Left(userID)
	m.broadcastSessionEvent(sessionID, model.EventParticipantLeft, userID)
	if wasLeader && after.LeaderID != userID && after.LeaderID != "" {
		m.broadcastSessionEvent(sessionID, model.EventLeaderChanged, after.LeaderID)
	}
	return nil
}

// Kick removes targetID from the session at callerID's request;
// callerID must be the current leader (enforced by the store).
func (m *Manager) Kick(ctx context.Context, sessionID, callerID, targetID string) error {
	if _, err := m.store.RemoveParticipant(ctx, sessionID, callerID, targetID); err != nil {
		return err
	}
	m.tr.LeaveSession(targetID)
	m.clearLiveState(sessionID, targetID)
	m.barrierFor(sessionID).Left(targetID)
	m.broadcastSessionEvent(sessionID, model.EventParticipantKicked, targetID)
	m.broadcastSessionEvent(sessionID, model.EventKicked, targetID)
	return nil
}

// TransferLeader moves leadership to targetID.
func (m *Manager) TransferLeader(ctx context.Context, sessionID, callerID, targetID string) error {
	if _, err := m.store.SetLeader(ctx, sessionID, callerID, targetID); err != nil {
		return err
	}
	m.broadcastSessionEvent(sessionID, model.EventLeaderChanged, targetID)
	return nil
}

// Start transitions a pending session to active.
func (m *Manager) Start(ctx context.Context, sessionID, callerID string) error {
	_, err := m.store.UpdateStatus(ctx, sessionID, callerID, model.StatusActive)
	return err
}

func (m *Manager) clearLiveState(sessionID, userID string) {
	rt := m.runtimeFor(sessionID)
	rt.mu.Lock()
	delete(rt.liveStates, userID)
	delete(rt.finished, userID)
	delete(rt.evicted, userID)
	rt.mu.Unlock()
}

func (m *Manager) broadcastSessionEvent(sessionID string, kind model.SessionEventKind, userID string) {
	m.gw.Broadcast(sessionID, transport.OutboundEvent{
		Type: "session_event",
		Data: model.SessionEvent{Kind: kind, UserID: userID},
	})
}

// Authorize implements transport.Handler: any current participant may
// attach a socket to their session.
func (m *Manager) Authorize(sessionID, userID string) bool {
	sess, err := m.store.FindByID(context.Background(), sessionID)
	if err != nil {
		return false
	}
	return sess.HasParticipant(userID)
}

// OnDisconnect implements transport.Handler. A dropped socket does not
// remove the participant; only an explicit Leave or Kick changes the
// durable roster, and a heartbeat timeout drops them from the local
// view only.
func (m *Manager) OnDisconnect(sessionID, userID string) {
	logging.WithSession(sessionID).WithField("user_id", userID).Debug("session: socket disconnected")
}

// HandleClientEvent implements transport.Handler, routing inbound
// socket frames to the live-state, reaction, and sync-event handlers.
func (m *Manager) HandleClientEvent(sessionID, userID string, evt transport.ClientEvent) {
	switch evt.Kind {
	case "live_state":
		m.handleLiveState(sessionID, userID, evt.Data)
	case "reaction":
		m.handleReaction(sessionID, userID, evt.Data)
	case "sync_event":
		m.handleSyncEvent(sessionID, userID, evt.Data)
	default:
		logging.WithSession(sessionID).WithField("kind", evt.Kind).Warn("session: unknown client event kind")
	}
}

// ErrHeartbeatNotMember is a NotMember error for a caller who is not a
// participant of the session. InviteUser returns it; RecordHeartbeat
// returns whatever error the store's WriteHeartbeat reports.
var ErrHeartbeatNotMember = apperr.New("RecordHeartbeat", apperr.NotMember, "", "caller is not a participant")
