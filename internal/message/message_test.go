package message

import (
	"testing"
	"time"
)

func TestNewStampsIDAndTime(t *testing.T) {
	before := time.Now()
	a := New("alice", "bob", "Hi", "hello")
	b := New("alice", "bob", "Hi", "hello")
	if a.ID == b.ID {
		t.Fatal("two messages share an ID")
	}
	if a.Timestamp.Before(before) {
		t.Fatal("timestamp before creation")
	}
	if a.From != "alice" || a.To != "bob" || a.Subject != "Hi" || a.Body != "hello" {
		t.Fatalf("fields %+v", a)
	}
}

func TestUnixStringRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	got := ParseUnixString(UnixString(now))
	if !got.Equal(now) {
		t.Fatalf("round trip %v != %v", got, now)
	}
}

func TestParseUnixStringLenient(t *testing.T) {
	before := time.Now()
	got := ParseUnixString("not-a-number")
	if got.Before(before.Add(-time.Second)) {
		t.Fatalf("lenient parse returned old time %v", got)
	}
}
