package registry

import (
	"errors"
	"net"
	"reflect"
	"sync"
	"testing"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() { c1.Close(); c2.Close() })
	return NewSession(c1)
}

func TestRegisterLookup(t *testing.T) {
	r := New()
	s := newTestSession(t)
	if err := r.Register("alice", s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if s.Username() != "alice" {
		t.Fatalf("username = %q, want alice", s.Username())
	}
	if !s.Authenticated() {
		t.Fatal("session not authenticated after Register")
	}
	got, ok := r.Lookup("alice")
	if !ok || got != s {
		t.Fatal("Lookup failed after Register")
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	a := newTestSession(t)
	b := newTestSession(t)
	if err := r.Register("alice", a); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register("alice", b); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("second Register = %v, want ErrNameTaken", err)
	}
	// The loser's session stays unauthenticated.
	if b.Authenticated() {
		t.Fatal("losing session got a username")
	}
}

func TestRegisterConcurrentOneWinner(t *testing.T) {
	r := New()
	const n = 32
	sessions := make([]*Session, n)
	for i := range sessions {
		sessions[i] = newTestSession(t)
	}
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Register("alice", sessions[i])
		}(i)
	}
	wg.Wait()
	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}
}

func TestUnregister(t *testing.T) {
	r := New()
	s := newTestSession(t)
	if err := r.Register("alice", s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !r.Unregister("alice", s) {
		t.Fatal("Unregister returned false for a registered pair")
	}
	if r.Unregister("alice", s) {
		t.Fatal("second Unregister returned true")
	}
	if _, ok := r.Lookup("alice"); ok {
		t.Fatal("Lookup succeeded after Unregister")
	}
}

func TestUnregisterSessionMismatch(t *testing.T) {
	r := New()
	a := newTestSession(t)
	b := newTestSession(t)
	if err := r.Register("alice", a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// A stale eviction for a different session must not remove the current one.
	if r.Unregister("alice", b) {
		t.Fatal("Unregister removed entry for a different session")
	}
	if _, ok := r.Lookup("alice"); !ok {
		t.Fatal("current session was removed")
	}
	// nil matches any session.
	if !r.Unregister("alice", nil) {
		t.Fatal("Unregister(nil) failed")
	}
}

func TestNamesSorted(t *testing.T) {
	r := New()
	for _, n := range []string{"carol", "alice", "bob"} {
		if err := r.Register(n, newTestSession(t)); err != nil {
			t.Fatalf("Register %s: %v", n, err)
		}
	}
	want := []string{"alice", "bob", "carol"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
}

func TestCloseAll(t *testing.T) {
	r := New()
	for _, n := range []string{"alice", "bob"} {
		if err := r.Register(n, newTestSession(t)); err != nil {
			t.Fatalf("Register %s: %v", n, err)
		}
	}
	r.CloseAll()
	if r.Count() != 0 {
		t.Fatalf("Count after CloseAll = %d, want 0", r.Count())
	}
}

func TestSessionPongTracking(t *testing.T) {
	s := newTestSession(t)
	before := s.LastPong()
	s.MarkPinged()
	if !s.WaitingForPong() {
		t.Fatal("WaitingForPong false after MarkPinged")
	}
	s.TouchPong()
	if s.WaitingForPong() {
		t.Fatal("WaitingForPong true after TouchPong")
	}
	if s.LastPong().Before(before) {
		t.Fatal("LastPong moved backwards")
	}
}
