// Package session implements the session lifecycle model on top of a
// key-value store: record creation, field updates, active-set membership,
// the derived cache entry and the global event log.
//
// Multi-key sequences (record + index + active set + log line) are applied
// one write at a time without a transaction, matching the backing store's
// single-key atomicity. A failure mid-sequence can leave state partially
// applied; callers see the error and the next read reflects whatever
// landed.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"qonaq.org/internal/kv"
)

const defaultCacheTTL = time.Hour

// Service provides all state transitions and queries over sessions, users
// and the event log.
type Service struct {
	store    kv.Store
	now      func() time.Time
	cacheTTL time.Duration
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithCacheTTL overrides the lifetime of confirmation cache entries. The
// same window drives the expiry estimate on the admin report.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// New constructs a Service over the given store.
func New(store kv.Store, opts ...Option) *Service {
	svc := &Service{
		store:    store,
		now:      time.Now,
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Start creates a new active session for the user, registers it in the
// user's history and active set, appends a LOGIN event line and returns the
// new session together with the user's full session history.
func (s *Service) Start(ctx context.Context, in StartInput) (Session, []Session, error) {
	agent := in.Agent
	if agent == "" {
		agent = "unknown"
	}
	sess := Session{
		ID:        uuid.NewString(),
		User:      in.User,
		App:       in.App,
		Type:      in.Type,
		Status:    StatusActive,
		LoginTime: s.now().Format(TimeLayout),
		IP:        in.IP,
		Agent:     agent,
	}

	if err := s.store.HSet(ctx, sessionKey(sess.ID), sess.fields()); err != nil {
		return Session{}, nil, fmt.Errorf("write session record: %w", err)
	}
	if err := s.store.RPush(ctx, userListKey(sess.User), sess.ID); err != nil {
		return Session{}, nil, fmt.Errorf("append session index: %w", err)
	}
	if err := s.store.SAdd(ctx, activeKey(sess.User), sess.ID); err != nil {
		return Session{}, nil, fmt.Errorf("add to active set: %w", err)
	}
	line := fmt.Sprintf("%s - LOGIN - %s from %s via %s (%s) [%s]",
		sess.LoginTime, sess.User, sess.App, sess.Type, sess.IP, sess.ID)
	if err := s.store.RPush(ctx, eventLogKey, line); err != nil {
		return Session{}, nil, fmt.Errorf("append event log: %w", err)
	}

	history, err := s.history(ctx, sess.User)
	if err != nil {
		return Session{}, nil, err
	}
	return sess, history, nil
}

// Confirm records the email and department captured on the confirmation
// step and writes the derived cache entry. Confirming an id with no backing
// record fails with ErrNotFound; the record is never fabricated from the
// update alone.
func (s *Service) Confirm(ctx context.Context, sessionID, email, department string) error {
	ok, err := s.store.Exists(ctx, sessionKey(sessionID))
	if err != nil {
		return fmt.Errorf("check session record: %w", err)
	}
	if !ok {
		return ErrNotFound
	}

	if err := s.store.HSet(ctx, sessionKey(sessionID), map[string]string{
		"email":      email,
		"department": department,
	}); err != nil {
		return fmt.Errorf("update session record: %w", err)
	}

	rec, err := s.store.HGetAll(ctx, sessionKey(sessionID))
	if err != nil {
		return fmt.Errorf("read session record: %w", err)
	}
	payload := strings.Join([]string{
		rec["user"], rec["app"], rec["type"],
		s.now().Format(TimeLayout), email, department,
	}, "|")
	if err := s.store.SetEx(ctx, cacheKey(sessionID), payload, s.cacheTTL); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// End marks the session logged out, removes it from the user's active set
// and appends a LOGOUT event line. Ending an already logged-out session is
// allowed and simply re-stamps the logout time. Ending an unknown id fails
// with ErrNotFound and mutates nothing.
func (s *Service) End(ctx context.Context, username, sessionID string) error {
	ok, err := s.store.Exists(ctx, sessionKey(sessionID))
	if err != nil {
		return fmt.Errorf("check session record: %w", err)
	}
	if !ok {
		return ErrNotFound
	}

	ts := s.now().Format(TimeLayout)
	if err := s.store.HSet(ctx, sessionKey(sessionID), map[string]string{
		"status":      StatusLoggedOut,
		"logout_time": ts,
	}); err != nil {
		return fmt.Errorf("update session record: %w", err)
	}
	if err := s.store.SRem(ctx, activeKey(username), sessionID); err != nil {
		return fmt.Errorf("remove from active set: %w", err)
	}
	line := fmt.Sprintf("%s - LOGOUT - %s [%s]", ts, username, sessionID)
	if err := s.store.RPush(ctx, eventLogKey, line); err != nil {
		return fmt.Errorf("append event log: %w", err)
	}
	return nil
}

// UserStatus returns the user's active session ids and full session
// history in creation order. Read-only.
func (s *Service) UserStatus(ctx context.Context, username string) (UserStatus, error) {
	active, err := s.store.SMembers(ctx, activeKey(username))
	if err != nil {
		return UserStatus{}, fmt.Errorf("read active set: %w", err)
	}
	sort.Strings(active)

	history, err := s.history(ctx, username)
	if err != nil {
		return UserStatus{}, err
	}
	return UserStatus{User: username, Active: active, History: history}, nil
}

// AllUsers enumerates every user that ever started a session, in
// lexicographic order, with each session's current fields and a display
// expiry estimate. With onlyActive set, logged-out sessions are dropped and
// users left with none are omitted entirely.
func (s *Service) AllUsers(ctx context.Context, onlyActive bool) ([]UserSessions, error) {
	keys, err := s.store.Keys(ctx, userListKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("enumerate users: %w", err)
	}
	users := make([]string, 0, len(keys))
	for _, key := range keys {
		users = append(users, strings.TrimPrefix(key, userListKeyPrefix))
	}
	sort.Strings(users)

	var out []UserSessions
	for _, user := range users {
		ids, err := s.store.LRange(ctx, userListKey(user), 0, -1)
		if err != nil {
			return nil, fmt.Errorf("read session index for %s: %w", user, err)
		}
		var sessions []AdminSession
		for _, id := range ids {
			rec, err := s.store.HGetAll(ctx, sessionKey(id))
			if err != nil {
				return nil, fmt.Errorf("read session %s: %w", id, err)
			}
			sess := sessionFromFields(id, rec)
			if onlyActive && sess.Status != StatusActive {
				continue
			}
			sessions = append(sessions, AdminSession{
				Session:   sess,
				ExpiresAt: expiresAt(sess.LoginTime, s.cacheTTL),
			})
		}
		if len(sessions) == 0 {
			continue
		}
		out = append(out, UserSessions{User: user, Sessions: sessions})
	}
	return out, nil
}

// EventLog returns the entire global event log in append order.
func (s *Service) EventLog(ctx context.Context) ([]string, error) {
	lines, err := s.store.LRange(ctx, eventLogKey, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return lines, nil
}

// CacheSnapshot returns all live cache entries. A key can expire between
// enumeration and fetch; such entries are skipped, not reported as errors.
func (s *Service) CacheSnapshot(ctx context.Context) (map[string]string, error) {
	keys, err := s.store.Keys(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("enumerate cache keys: %w", err)
	}
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		val, err := s.store.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read cache entry %s: %w", key, err)
		}
		out[key] = val
	}
	return out, nil
}

func (s *Service) history(ctx context.Context, username string) ([]Session, error) {
	ids, err := s.store.LRange(ctx, userListKey(username), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read session index: %w", err)
	}
	history := make([]Session, 0, len(ids))
	for _, id := range ids {
		rec, err := s.store.HGetAll(ctx, sessionKey(id))
		if err != nil {
			return nil, fmt.Errorf("read session %s: %w", id, err)
		}
		history = append(history, sessionFromFields(id, rec))
	}
	return history, nil
}
