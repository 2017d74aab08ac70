package session

import (
	"context"
	"testing"
	"time"

	"livesession/src/apperr"
	"livesession/src/config"
	"livesession/src/model"
	"livesession/src/presence"
	"livesession/src/transport"
)

// fakeStore is an in-memory Store used to exercise Manager without a
// database, grounded the same way the roster/leader mutations in the
// real store behave: self-or-leader removal, leader auto-promotion,
// terminal-state rejection.
type fakeStore struct {
	sessions map[string]*model.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*model.Session)}
}

func (f *fakeStore) CreateSession(ctx context.Context, sessionID, hostID string, routine []model.RoutineExercise, mode model.SyncMode) (*model.Session, error) {
	sess := &model.Session{
		SessionID:             sessionID,
		HostID:                hostID,
		LeaderID:              hostID,
		ParticipantIDs:        []string{hostID},
		Status:                model.StatusPending,
		InviteCode:            "ABC123",
		RoutineData:           routine,
		SyncMode:              mode,
		ParticipantHeartbeats: map[string]int64{},
		CreatedAt:             time.Unix(0, 0),
		UpdatedAt:             time.Unix(0, 0),
	}
	f.sessions[sessionID] = sess
	return sess, nil
}

func (f *fakeStore) FindByID(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, apperr.New("FindByID", apperr.NotFound, sessionID, "no such session")
	}
	return sess, nil
}

func (f *fakeStore) FindByInviteCode(ctx context.Context, code string) (*model.Session, error) {
	for _, sess := range f.sessions {
		if sess.InviteCode == code && !sess.Status.Terminal() {
			return sess, nil
		}
	}
	return nil, apperr.New("FindByInviteCode", apperr.NotFound, "", "no session for invite code")
}

func (f *fakeStore) AddParticipant(ctx context.Context, sessionID, callerID, userID string) (*model.Session, error) {
	sess, err := f.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, apperr.New("AddParticipant", apperr.Terminal, sessionID, "session already ended")
	}
	if sess.HasParticipant(userID) {
		return sess, nil
	}
	if len(sess.ParticipantIDs) >= model.MaxParticipants {
		return nil, apperr.New("AddParticipant", apperr.Full, sessionID, "session is full")
	}
	sess.ParticipantIDs = append(sess.ParticipantIDs, userID)
	return sess, nil
}

func (f *fakeStore) RemoveParticipant(ctx context.Context, sessionID, callerID, userID string) (*model.Session, error) {
	sess, err := f.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if callerID != userID && sess.LeaderID != callerID {
		return nil, apperr.New("RemoveParticipant", apperr.Forbidden, sessionID, "only the leader may remove another participant")
	}
	remaining := make([]string, 0, len(sess.ParticipantIDs))
	for _, id := range sess.ParticipantIDs {
		if id != userID {
			remaining = append(remaining, id)
		}
	}
	sess.ParticipantIDs = remaining
	if sess.LeaderID == userID && len(remaining) > 0 {
		sess.LeaderID = remaining[0]
	}
	return sess, nil
}

func (f *fakeStore) ReassignLeader(ctx context.Context, sessionID, targetID string) (*model.Session, error) {
	sess, err := f.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.HasParticipant(targetID) {
		return nil, apperr.New("ReassignLeader", apperr.NotMember, sessionID, "target is not a participant")
	}
	sess.LeaderID = targetID
	return sess, nil
}

func (f *fakeStore) SetLeader(ctx context.Context, sessionID, callerID, targetID string) (*model.Session, error) {
	sess, err := f.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if callerID != sess.LeaderID && callerID != sess.HostID {
		return nil, apperr.New("SetLeader", apperr.Forbidden, sessionID, "only the leader or host may transfer leadership")
	}
	if !sess.HasParticipant(targetID) {
		return nil, apperr.New("SetLeader", apperr.NotMember, sessionID, "target is not a participant")
	}
	sess.LeaderID = targetID
	return sess, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, sessionID, callerID string, status model.Status) (*model.Session, error) {
	sess, err := f.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, apperr.New("UpdateStatus", apperr.Terminal, sessionID, "session already ended")
	}
	if status != model.StatusActive && sess.LeaderID != callerID && sess.HostID != callerID {
		return nil, apperr.New("UpdateStatus", apperr.Forbidden, sessionID, "only the leader or host may change status")
	}
	sess.Status = status
	return sess, nil
}

func (f *fakeStore) WriteHeartbeat(ctx context.Context, sessionID, callerID string, at time.Time) error {
	sess, err := f.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.HasParticipant(callerID) {
		return ErrHeartbeatNotMember
	}
	sess.ParticipantHeartbeats[callerID] = at.Unix()
	return nil
}

func (f *fakeStore) ListActive(ctx context.Context) ([]*model.Session, error) {
	var out []*model.Session
	for _, sess := range f.sessions {
		if !sess.Status.Terminal() {
			out = append(out, sess)
		}
	}
	return out, nil
}

// fakeBroadcaster records every broadcast event for assertions.
type fakeBroadcaster struct {
	events []transport.OutboundEvent
}

func (f *fakeBroadcaster) Broadcast(sessionID string, evt transport.OutboundEvent) {
	f.events = append(f.events, evt)
}

func newTestManager() (*Manager, *fakeStore, *fakeBroadcaster) {
	store := newFakeStore()
	bc := &fakeBroadcaster{}
	mgr := NewManager(store, bc, presence.NewTracker(), &config.Config{StrictSyncTimeout: 60 * time.Second})
	return mgr, store, bc
}

func TestCreateAndJoinSession(t *testing.T) {
	mgr, _, _ := newTestManager()
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "s1", "host", nil, model.SyncModeSoft)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.LeaderID != "host" {
		t.Fatalf("expected host to be initial leader, got %q", sess.LeaderID)
	}

	joined, err := mgr.JoinByCode(ctx, sess.InviteCode, "guest")
	if err != nil {
		t.Fatalf("JoinByCode: %v", err)
	}
	if !joined.HasParticipant("guest") {
		t.Fatal("expected guest to be a participant after joining")
	}
}

func TestLeavePromotesNextLeader(t *testing.T) {
	mgr, store, bc := newTestManager()
	ctx := context.Background()

	sess, _ := mgr.CreateSession(ctx, "s1", "host", nil, model.SyncModeSoft)
	if _, err := mgr.JoinByCode(ctx, sess.InviteCode, "guest"); err != nil {
		t.Fatalf("JoinByCode: %v", err)
	}

	if err := mgr.Leave(ctx, "s1", "host"); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	after, _ := store.FindByID(ctx, "s1")
	if after.LeaderID != "guest" {
		t.Fatalf("expected guest promoted to leader, got %q", after.LeaderID)
	}

	var sawLeaderChanged bool
	for _, evt := range bc.events {
		if se, ok := evt.Data.(model.SessionEvent); ok && se.Kind == model.EventLeaderChanged {
			sawLeaderChanged = true
		}
	}
	if !sawLeaderChanged {
		t.Fatal("expected a leader_changed broadcast after the leader left")
	}
}

func TestKickRequiresLeader(t *testing.T) {
	mgr, _, _ := newTestManager()
	ctx := context.Background()

	sess, _ := mgr.CreateSession(ctx, "s1", "host", nil, model.SyncModeSoft)
	_, _ = mgr.JoinByCode(ctx, sess.InviteCode, "guest")
	_, _ = mgr.JoinByCode(ctx, sess.InviteCode, "third")

	if err := mgr.Kick(ctx, "s1", "guest", "third"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("expected Forbidden from a non-leader kick, got %v", err)
	}
	if err := mgr.Kick(ctx, "s1", "host", "third"); err != nil {
		t.Fatalf("expected leader to kick successfully, got %v", err)
	}
}

func TestTransferLeaderRejectsNonMember(t *testing.T) {
	mgr, _, _ := newTestManager()
	ctx := context.Background()

	mgr.CreateSession(ctx, "s1", "host", nil, model.SyncModeSoft)
	err := mgr.TransferLeader(ctx, "s1", "host", "stranger")
	if !apperr.Is(err, apperr.NotMember) {
		t.Fatalf("expected NotMember, got %v", err)
	}
}

func TestParticipantFinishedCompletesOnceEveryoneDone(t *testing.T) {
	mgr, store, bc := newTestManager()
	ctx := context.Background()

	sess, _ := mgr.CreateSession(ctx, "s1", "host", nil, model.SyncModeSoft)
	_, _ = mgr.JoinByCode(ctx, sess.InviteCode, "guest")

	if err := mgr.ParticipantFinished(ctx, "s1", "host"); err != nil {
		t.Fatalf("ParticipantFinished (host): %v", err)
	}

	after, _ := store.FindByID(ctx, "s1")
	if after.Status == model.StatusCompleted {
		t.Fatal("session should not complete until every participant finished")
	}

	if err := mgr.ParticipantFinished(ctx, "s1", "guest"); err != nil {
		t.Fatalf("ParticipantFinished (guest): %v", err)
	}

	after, _ = store.FindByID(ctx, "s1")
	if after.Status != model.StatusCompleted {
		t.Fatalf("expected session completed once both participants finished, got %q", after.Status)
	}

	var sawCompleted bool
	for _, evt := range bc.events {
		if evt.Type == "session_completed" {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Fatal("expected a session_completed broadcast")
	}
}

func TestForceEndRemovesOnlyTheCaller(t *testing.T) {
	mgr, store, bc := newTestManager()
	ctx := context.Background()

	sess, _ := mgr.CreateSession(ctx, "s1", "host", nil, model.SyncModeSoft)
	_, _ = mgr.JoinByCode(ctx, sess.InviteCode, "guest")

	if err := mgr.ForceEnd(ctx, "s1", "host"); err != nil {
		t.Fatalf("ForceEnd: %v", err)
	}
	after, _ := store.FindByID(ctx, "s1")
	if after.Status.Terminal() {
		t.Fatalf("expected the session to stay active for the remaining participant, got %q", after.Status)
	}
	if after.HasParticipant("host") {
		t.Fatal("expected host removed from the roster after force-ending")
	}
	if !after.HasParticipant("guest") {
		t.Fatal("expected guest to remain a participant")
	}

	var sawSummary bool
	for _, evt := range bc.events {
		if evt.Type == "force_end_summary" {
			sawSummary = true
		}
	}
	if !sawSummary {
		t.Fatal("expected a force_end_summary broadcast")
	}
}

func TestAuthorizeChecksMembership(t *testing.T) {
	mgr, _, _ := newTestManager()
	ctx := context.Background()

	mgr.CreateSession(ctx, "s1", "host", nil, model.SyncModeSoft)

	if !mgr.Authorize("s1", "host") {
		t.Fatal("expected host to be authorized")
	}
	if mgr.Authorize("s1", "stranger") {
		t.Fatal("expected a non-participant to be denied")
	}
}

func TestHandleClientEventLiveStateUpdatesSnapshot(t *testing.T) {
	mgr, _, bc := newTestManager()
	ctx := context.Background()
	mgr.CreateSession(ctx, "s1", "host", nil, model.SyncModeSoft)

	mgr.HandleClientEvent("s1", "host", transport.ClientEvent{
		Kind: "live_state",
		Data: map[string]any{"username": "host", "status": "lifting", "setsCompleted": 2},
	})

	snap := mgr.LiveStatesSnapshot("s1")
	state, ok := snap["host"]
	if !ok {
		t.Fatal("expected a live state recorded for host")
	}
	if state.SetsCompleted != 2 {
		t.Fatalf("expected setsCompleted 2, got %d", state.SetsCompleted)
	}
	if len(bc.events) == 0 {
		t.Fatal("expected a live_state broadcast")
	}
}
