package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"qonaq.org/internal/audit"
	"qonaq.org/internal/auth"
	"qonaq.org/internal/obs"
)

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type adminLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const adminTokenTTL = 15 * time.Minute

func (a *API) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req adminLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if !a.gate.check(req.Username, req.Password) {
		_ = audit.LogEvent(r.Context(), "admin.login.denied", map[string]any{
			"user": req.Username,
		})
		writeError(w, r, http.StatusForbidden, "access denied")
		return
	}

	token, err := auth.GenerateToken(req.Username, []string{"admin"}, adminTokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "admin.login", map[string]any{
		"user": req.Username,
	})

	writeJSON(w, http.StatusOK, adminLoginResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(adminTokenTTL),
	})
}

func (g AdminGate) check(username, password string) bool {
	if g.User == "" || g.Password == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(g.User)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(g.Password)) == 1
	return userOK && passOK
}

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	onlyActive := r.URL.Query().Get("active") == "1"

	report, err := a.sessions.AllUsers(r.Context(), onlyActive)
	if err != nil {
		handleSessionError(w, r, "all_users", err)
		return
	}
	obs.ObserveSessionOp("all_users", "ok")
	writeJSON(w, http.StatusOK, map[string]any{
		"only_active": onlyActive,
		"users":       report,
	})
}

func (a *API) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	lines, err := a.sessions.EventLog(r.Context())
	if err != nil {
		handleSessionError(w, r, "event_log", err)
		return
	}
	obs.ObserveSessionOp("event_log", "ok")
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(lines),
		"logs":  lines,
	})
}

func (a *API) handleAdminCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	snapshot, err := a.sessions.CacheSnapshot(r.Context())
	if err != nil {
		handleSessionError(w, r, "cache_snapshot", err)
		return
	}
	obs.ObserveSessionOp("cache_snapshot", "ok")
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(snapshot),
		"entries": snapshot,
	})
}
