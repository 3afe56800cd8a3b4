package kv

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestHashRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.HSet(ctx, "session:1", map[string]string{"user": "alice", "status": "active"}); err != nil {
		t.Fatal(err)
	}
	if err := s.HSet(ctx, "session:1", map[string]string{"status": "logged_out"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.HGetAll(ctx, "session:1")
	if err != nil {
		t.Fatal(err)
	}
	if got["user"] != "alice" || got["status"] != "logged_out" {
		t.Fatalf("unexpected hash: %v", got)
	}

	empty, err := s.HGetAll(ctx, "session:missing")
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty map for missing hash, got %v", empty)
	}
}

func TestListOrderAndRanges(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		if err := s.RPush(ctx, "list", v); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.LRange(ctx, "list", 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0] != "a" || all[2] != "c" {
		t.Fatalf("unexpected range: %v", all)
	}

	tail, err := s.LRange(ctx, "list", 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0] != "b" {
		t.Fatalf("unexpected tail: %v", tail)
	}

	none, err := s.LRange(ctx, "missing", 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty range, got %v", none)
	}
}

func TestSetMembership(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.SAdd(ctx, "set", "x", "y", "x"); err != nil {
		t.Fatal(err)
	}
	members, err := s.SMembers(ctx, "set")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(members)
	if len(members) != 2 || members[0] != "x" || members[1] != "y" {
		t.Fatalf("unexpected members: %v", members)
	}

	// Removing an absent member is not an error.
	if err := s.SRem(ctx, "set", "z"); err != nil {
		t.Fatal(err)
	}
	if err := s.SRem(ctx, "set", "x", "y"); err != nil {
		t.Fatal(err)
	}
	members, _ = s.SMembers(ctx, "set")
	if len(members) != 0 {
		t.Fatalf("expected empty set, got %v", members)
	}
}

func TestSetExExpiry(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	if err := s.SetEx(ctx, "cache:session:1", "payload", time.Hour); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "cache:session:1")
	if err != nil || got != "payload" {
		t.Fatalf("expected payload, got %q err=%v", got, err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := s.Get(ctx, "cache:session:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
	keys, err := s.Keys(ctx, "cache:session:*")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("expired key still enumerated: %v", keys)
	}
}

func TestKeysPatterns(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	_ = s.RPush(ctx, "user:sessions:alice", "s1")
	_ = s.RPush(ctx, "user:sessions:bob", "s2")
	_ = s.HSet(ctx, "session:s1", map[string]string{"user": "alice"})

	keys, err := s.Keys(ctx, "user:sessions:*")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(keys)
	want := []string{"user:sessions:alice", "user:sessions:bob"}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Fatalf("unexpected keys: %v", keys)
	}

	exact, err := s.Keys(ctx, "session:s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(exact) != 1 || exact[0] != "session:s1" {
		t.Fatalf("unexpected exact match: %v", exact)
	}
}

func TestExists(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	ok, _ := s.Exists(ctx, "session:none")
	if ok {
		t.Fatal("missing key reported as existing")
	}
	_ = s.HSet(ctx, "session:s1", map[string]string{"user": "alice"})
	ok, _ = s.Exists(ctx, "session:s1")
	if !ok {
		t.Fatal("hash key not reported as existing")
	}
}

func TestConcurrentWrites(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	N := 50
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RPush(ctx, "event:logs", "line")
			_ = s.SAdd(ctx, "active", "member")
		}()
	}
	wg.Wait()

	lines, _ := s.LRange(ctx, "event:logs", 0, -1)
	if len(lines) != N {
		t.Fatalf("expected %d lines, got %d", N, len(lines))
	}
}
