package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"livesession/src/apperr"
	"livesession/src/model"
	"livesession/src/session"
	"livesession/src/version"
)

// callerID extracts the authenticated user ID. A production deployment
// terminates real auth upstream (e.g. at a reverse proxy validating a
// session cookie) and forwards it as this header; there is no
// standalone auth layer in this service.
func callerID(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}

// Handlers wires the session manager into chi routes.
type Handlers struct {
	Manager *session.Manager
}

// Mount registers every route on r.
func (h Handlers) Mount(r chi.Router) {
	r.Post("/v1/live-sessions", h.CreateSession)
	r.Get("/v1/live-sessions/{sessionID}", h.GetSession)
	r.Post("/v1/live-sessions/join", h.JoinByCode)
	r.Post("/v1/live-sessions/{sessionID}/start", h.StartSession)
	r.Post("/v1/live-sessions/{sessionID}/leave", h.Leave)
	r.Post("/v1/live-sessions/{sessionID}/kick", h.Kick)
	r.Post("/v1/live-sessions/{sessionID}/leader", h.TransferLeader)
	r.Post("/v1/live-sessions/{sessionID}/finish", h.Finish)
	r.Post("/v1/live-sessions/{sessionID}/force-end", h.ForceEnd)
	r.Post("/v1/live-sessions/{sessionID}/cancel", h.Cancel)
	r.Post("/v1/live-sessions/{sessionID}/invite", h.InviteUser)
	r.Post("/v1/live-sessions/{sessionID}/accept", h.AcceptInvite)
	r.Get("/v1/notifications/{userID}", h.ListNotifications)
	r.Post("/v1/notifications/{notificationID}/read", h.MarkNotificationRead)
	r.Get("/healthz", h.Health)
}

type createSessionRequest struct {
	Routine []model.RoutineExercise `json:"routine"`
	SyncMode model.SyncMode         `json:"syncMode"`
}

func (h Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	host := callerID(r)
	if host == "" {
		writeError(w, apperr.New("CreateSession", apperr.Forbidden, "", "missing caller identity"))
		return
	}

	var req createSessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.SyncMode == "" {
		req.SyncMode = model.SyncModeSoft
	}

	sessionID := uuid.New().String()
	sess, err := h.Manager.CreateSession(r.Context(), sessionID, host, req.Routine, req.SyncMode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, sess)
}

func (h Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Manager.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, sess)
}

type joinRequest struct {
	InviteCode string `json:"inviteCode"`
}

func (h Handlers) JoinByCode(w http.ResponseWriter, r *http.Request) {
	user := callerID(r)
	if user == "" {
		writeError(w, apperr.New("JoinByCode", apperr.Forbidden, "", "missing caller identity"))
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New("JoinByCode", apperr.NotFound, "", "invalid request body"))
		return
	}
	sess, err := h.Manager.JoinByCode(r.Context(), req.InviteCode, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, sess)
}

func (h Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.Manager.Start(r.Context(), sessionID, callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h Handlers) Leave(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.Manager.Leave(r.Context(), sessionID, callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"ok": true})
}

type targetRequest struct {
	TargetUserID string `json:"targetUserId"`
}

func (h Handlers) Kick(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New("Kick", apperr.NotFound, sessionID, "invalid request body"))
		return
	}
	if err := h.Manager.Kick(r.Context(), sessionID, callerID(r), req.TargetUserID); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h Handlers) TransferLeader(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New("TransferLeader", apperr.NotFound, sessionID, "invalid request body"))
		return
	}
	if err := h.Manager.TransferLeader(r.Context(), sessionID, callerID(r), req.TargetUserID); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h Handlers) Finish(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.Manager.ParticipantFinished(r.Context(), sessionID, callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h Handlers) ForceEnd(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.Manager.ForceEnd(r.Context(), sessionID, callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.Manager.CancelSession(r.Context(), sessionID, callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h Handlers) InviteUser(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New("InviteUser", apperr.NotFound, sessionID, "invalid request body"))
		return
	}
	if err := h.Manager.InviteUser(r.Context(), sessionID, callerID(r), req.TargetUserID); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"ok": true})
}

type acceptInviteRequest struct {
	InviterID string `json:"inviterId"`
}

func (h Handlers) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req acceptInviteRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	sess, err := h.Manager.AcceptInvite(r.Context(), sessionID, req.InviterID, callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, sess)
}

func (h Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	notes, err := h.Manager.ListNotifications(r.Context(), callerID(r), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, notes)
}

func (h Handlers) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	notificationID := chi.URLParam(r, "notificationID")
	if err := h.Manager.MarkNotificationRead(r.Context(), callerID(r), notificationID); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"ok": true})
}

// Health is a readiness probe.
func (h Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}
