package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"qonaq.org/internal/audit"
	"qonaq.org/internal/obs"
	"qonaq.org/internal/session"
	"qonaq.org/internal/stream"
)

type startSessionRequest struct {
	Username string `json:"username"`
	App      string `json:"app"`
	Type     string `json:"type"`
}

type startSessionResponse struct {
	SessionID string            `json:"session_id"`
	Session   session.Session   `json:"session"`
	History   []session.Session `json:"history"`
}

type confirmSessionRequest struct {
	SessionID  string `json:"session_id"`
	Email      string `json:"email"`
	Department string `json:"department"`
}

type logoutSessionRequest struct {
	Username  string `json:"username"`
	SessionID string `json:"session_id"`
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req startSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	username := strings.TrimSpace(req.Username)
	app := strings.TrimSpace(req.App)
	sessType := strings.TrimSpace(req.Type)
	if username == "" || app == "" || sessType == "" {
		writeError(w, r, http.StatusBadRequest, "username, app and type are required")
		return
	}

	sess, history, err := a.sessions.Start(r.Context(), session.StartInput{
		User:  username,
		App:   app,
		Type:  sessType,
		IP:    clientIP(r),
		Agent: r.UserAgent(),
	})
	if err != nil {
		obs.ObserveSessionOp("start", "error")
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	obs.ObserveSessionOp("start", "ok")

	if a.stream != nil {
		a.stream.Publish(stream.Event{
			Type:      "login",
			User:      username,
			App:       app,
			SessionID: sess.ID,
			Timestamp: time.Now().UTC(),
		})
	}

	_ = audit.LogEvent(r.Context(), "session.start", map[string]any{
		"user":       username,
		"app":        app,
		"type":       sessType,
		"session_id": sess.ID,
		"ip":         sess.IP,
	})

	writeJSON(w, http.StatusCreated, startSessionResponse{
		SessionID: sess.ID,
		Session:   sess,
		History:   history,
	})
}

func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req confirmSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := a.sessions.Confirm(r.Context(), sessionID, strings.TrimSpace(req.Email), strings.TrimSpace(req.Department)); err != nil {
		handleSessionError(w, r, "confirm", err)
		return
	}
	obs.ObserveSessionOp("confirm", "ok")

	_ = audit.LogEvent(r.Context(), "session.confirm", map[string]any{
		"session_id": sessionID,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"status":     "confirmed",
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req logoutSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	username := strings.TrimSpace(req.Username)
	sessionID := strings.TrimSpace(req.SessionID)
	if username == "" || sessionID == "" {
		writeError(w, r, http.StatusBadRequest, "username and session_id are required")
		return
	}

	if err := a.sessions.End(r.Context(), username, sessionID); err != nil {
		handleSessionError(w, r, "logout", err)
		return
	}
	obs.ObserveSessionOp("logout", "ok")

	if a.stream != nil {
		a.stream.Publish(stream.Event{
			Type:      "logout",
			User:      username,
			SessionID: sessionID,
			Timestamp: time.Now().UTC(),
		})
	}

	_ = audit.LogEvent(r.Context(), "session.logout", map[string]any{
		"user":       username,
		"session_id": sessionID,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"user":       username,
		"session_id": sessionID,
		"status":     session.StatusLoggedOut,
	})
}

func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		writeError(w, r, http.StatusBadRequest, "username query parameter is required")
		return
	}

	status, err := a.sessions.UserStatus(r.Context(), username)
	if err != nil {
		handleSessionError(w, r, "user_status", err)
		return
	}
	obs.ObserveSessionOp("user_status", "ok")
	writeJSON(w, http.StatusOK, status)
}

func handleSessionError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		obs.ObserveSessionOp(op, "not_found")
		writeError(w, r, http.StatusNotFound, "session not found")
	default:
		obs.ObserveSessionOp(op, "error")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
