package client

import (
	"testing"
	"time"
)

func TestInboxIndexing(t *testing.T) {
	ib := newInbox()
	ib.add("alice", "first", "a", time.Now())
	ib.add("bob", "second", "b", time.Now())
	ib.add("alice", "third", "c", time.Now())

	if ib.Len() != 3 {
		t.Fatalf("Len = %d, want 3", ib.Len())
	}
	if ib.UnreadCount() != 3 {
		t.Fatalf("UnreadCount = %d, want 3", ib.UnreadCount())
	}
	unread := ib.Unread()
	for i, m := range unread {
		if m.Index != i+1 {
			t.Fatalf("unread[%d].Index = %d, want %d", i, m.Index, i+1)
		}
	}

	m, ok := ib.ReadByIndex(2)
	if !ok || m.From != "bob" {
		t.Fatalf("ReadByIndex(2) = %+v, %v", m, ok)
	}
	if ib.UnreadCount() != 2 {
		t.Fatalf("UnreadCount after read = %d, want 2", ib.UnreadCount())
	}

	// ByIndex does not mark read.
	if _, ok := ib.ByIndex(1); !ok {
		t.Fatal("ByIndex(1) missing")
	}
	if ib.UnreadCount() != 2 {
		t.Fatal("ByIndex changed read state")
	}

	if _, ok := ib.ReadByIndex(99); ok {
		t.Fatal("ReadByIndex(99) found a message")
	}
}
