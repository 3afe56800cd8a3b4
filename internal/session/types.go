package session

import "time"

// Session statuses. A session only ever moves from active to logged_out,
// and only through End; nothing transitions on time alone.
const (
	StatusActive    = "active"
	StatusLoggedOut = "logged_out"
)

// Timestamps are stored in the same human-readable layout the event log
// uses, so records, log lines and the expiry projection all round-trip
// through one format.
const TimeLayout = "2006-01-02 15:04:05"

// Session is the full field set of one session record.
type Session struct {
	ID         string `json:"session_id"`
	User       string `json:"user"`
	App        string `json:"app"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	LoginTime  string `json:"login_time"`
	LogoutTime string `json:"logout_time,omitempty"`
	IP         string `json:"ip"`
	Agent      string `json:"agent"`
	Email      string `json:"email,omitempty"`
	Department string `json:"department,omitempty"`
}

// UserStatus is the per-user inspection report.
type UserStatus struct {
	User    string    `json:"user"`
	Active  []string  `json:"active_sessions"`
	History []Session `json:"sessions"`
}

// AdminSession is a session enriched with the read-time expiry estimate
// shown on the admin dashboard. The estimate is login time plus the cache
// TTL; it is never enforced.
type AdminSession struct {
	Session
	ExpiresAt string `json:"expires_at"`
}

// UserSessions groups a user's sessions for the all-users report.
type UserSessions struct {
	User     string         `json:"user"`
	Sessions []AdminSession `json:"sessions"`
}

// StartInput carries the metadata captured at login start.
type StartInput struct {
	User  string
	App   string
	Type  string
	IP    string
	Agent string
}

const (
	eventLogKey       = "event:logs"
	sessionKeyPrefix  = "session:"
	userListKeyPrefix = "user:sessions:"
	activeKeyPrefix   = "user:active_sessions:"
	cacheKeyPrefix    = "cache:session:"
)

func sessionKey(id string) string { return sessionKeyPrefix + id }
func userListKey(u string) string { return userListKeyPrefix + u }
func activeKey(u string) string   { return activeKeyPrefix + u }
func cacheKey(id string) string   { return cacheKeyPrefix + id }

func (s Session) fields() map[string]string {
	f := map[string]string{
		"user":       s.User,
		"app":        s.App,
		"type":       s.Type,
		"status":     s.Status,
		"login_time": s.LoginTime,
		"ip":         s.IP,
		"agent":      s.Agent,
	}
	if s.LogoutTime != "" {
		f["logout_time"] = s.LogoutTime
	}
	if s.Email != "" {
		f["email"] = s.Email
	}
	if s.Department != "" {
		f["department"] = s.Department
	}
	return f
}

func sessionFromFields(id string, f map[string]string) Session {
	return Session{
		ID:         id,
		User:       f["user"],
		App:        f["app"],
		Type:       f["type"],
		Status:     f["status"],
		LoginTime:  f["login_time"],
		LogoutTime: f["logout_time"],
		IP:         f["ip"],
		Agent:      f["agent"],
		Email:      f["email"],
		Department: f["department"],
	}
}

// expiresAt projects the display-only expiry estimate. Missing or
// unparseable login times degrade to a placeholder instead of failing the
// report.
func expiresAt(loginTime string, ttl time.Duration) string {
	if loginTime == "" {
		return "-"
	}
	t, err := time.ParseInLocation(TimeLayout, loginTime, time.Local)
	if err != nil {
		return "-"
	}
	return t.Add(ttl).Format(TimeLayout)
}
