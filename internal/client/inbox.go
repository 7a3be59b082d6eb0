package client

import (
	"sync"
	"time"
)

// InboxMessage is one received MESSAGE with read tracking. Index is assigned
// on arrival, starts at 1, and never changes.
type InboxMessage struct {
	Index     int
	From      string
	Subject   string
	Body      string
	Timestamp time.Time
	Read      bool
}

// Inbox stores received messages in arrival order. Reading is explicit:
// messages stay unread until ReadByIndex marks them.
type Inbox struct {
	mu       sync.Mutex
	messages []InboxMessage
	next     int
}

func newInbox() *Inbox { return &Inbox{next: 1} }

func (ib *Inbox) add(from, subject, body string, ts time.Time) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.messages = append(ib.messages, InboxMessage{
		Index:     ib.next,
		From:      from,
		Subject:   subject,
		Body:      body,
		Timestamp: ts,
	})
	ib.next++
}

// Unread returns copies of all unread messages without marking them read.
func (ib *Inbox) Unread() []InboxMessage {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	var out []InboxMessage
	for _, m := range ib.messages {
		if !m.Read {
			out = append(out, m)
		}
	}
	return out
}

// UnreadCount returns the number of unread messages.
func (ib *Inbox) UnreadCount() int {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	n := 0
	for _, m := range ib.messages {
		if !m.Read {
			n++
		}
	}
	return n
}

// ReadByIndex marks message i read and returns it.
func (ib *Inbox) ReadByIndex(i int) (InboxMessage, bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	for k := range ib.messages {
		if ib.messages[k].Index == i {
			ib.messages[k].Read = true
			return ib.messages[k], true
		}
	}
	return InboxMessage{}, false
}

// ByIndex returns message i without changing its read state.
func (ib *Inbox) ByIndex(i int) (InboxMessage, bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	for _, m := range ib.messages {
		if m.Index == i {
			return m, true
		}
	}
	return InboxMessage{}, false
}

// All returns copies of every stored message in arrival order.
func (ib *Inbox) All() []InboxMessage {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	out := make([]InboxMessage, len(ib.messages))
	copy(out, ib.messages)
	return out
}

// Len returns the total number of stored messages.
func (ib *Inbox) Len() int {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return len(ib.messages)
}
