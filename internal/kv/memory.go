package kv

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory implements Store with in-process concurrency safety. It backs the
// test suite and local development without a Redis instance. String keys
// expire lazily on read, the way the real store drops them in the
// background.
type Memory struct {
	mu      sync.RWMutex
	hashes  map[string]map[string]string
	lists   map[string][]string
	sets    map[string]map[string]struct{}
	strings map[string]expiringValue

	now func() time.Time
}

type expiringValue struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		sets:    make(map[string]map[string]struct{}),
		strings: make(map[string]expiringValue),
		now:     time.Now,
	}
}

// SetClock overrides the time source used for TTL checks. Test use only.
func (m *Memory) SetClock(fn func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn != nil {
		m.now = fn
	}
}

func (m *Memory) HSet(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) RPush(ctx context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], values...)
	return nil
}

func (m *Memory) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (m *Memory) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{}, len(members))
		m.sets[key] = s
	}
	for _, member := range members {
		s[member] = struct{}{}
	}
	return nil
}

func (m *Memory) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(s, member)
	}
	if len(s) == 0 {
		delete(m.sets, key)
	}
	return nil
}

func (m *Memory) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sets[key]
	out := make([]string, 0, len(s))
	for member := range s {
		out = append(out, member)
	}
	return out, nil
}

func (m *Memory) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := expiringValue{value: value}
	if ttl > 0 {
		ev.expiresAt = m.now().Add(ttl)
	}
	m.strings[key] = ev
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	if m.expired(ev) {
		delete(m.strings, key)
		return "", ErrNotFound
	}
	return ev.value, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hashes[key]; ok {
		return true, nil
	}
	if _, ok := m.lists[key]; ok {
		return true, nil
	}
	if _, ok := m.sets[key]; ok {
		return true, nil
	}
	if ev, ok := m.strings[key]; ok {
		if m.expired(ev) {
			delete(m.strings, key)
			return false, nil
		}
		return true, nil
	}
	return false, nil
}

// Keys supports the exact and trailing-wildcard patterns the service uses
// (e.g. "user:sessions:*"); anything fancier is not needed here.
func (m *Memory) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	match := func(key string) bool {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			return strings.HasPrefix(key, prefix)
		}
		return key == pattern
	}
	for key := range m.hashes {
		if match(key) {
			out = append(out, key)
		}
	}
	for key := range m.lists {
		if match(key) {
			out = append(out, key)
		}
	}
	for key := range m.sets {
		if match(key) {
			out = append(out, key)
		}
	}
	for key, ev := range m.strings {
		if m.expired(ev) {
			delete(m.strings, key)
			continue
		}
		if match(key) {
			out = append(out, key)
		}
	}
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) expired(ev expiringValue) bool {
	return !ev.expiresAt.IsZero() && m.now().After(ev.expiresAt)
}
