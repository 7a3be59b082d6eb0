package message

import (
	"strconv"
	"time"

	"github.com/rs/xid"
)

// Message is a single store-and-forward message. Created by a session on
// SEND, owned by the dispatcher once enqueued, gone after the delivery
// attempt. ID is never put on the wire; it only correlates log lines.
type Message struct {
	ID        xid.ID
	From      string
	To        string
	Subject   string
	Body      string
	Timestamp time.Time
}

// New stamps the message with an ID and the server-side enqueue time.
func New(from, to, subject, body string) Message {
	return Message{
		ID:        xid.New(),
		From:      from,
		To:        to,
		Subject:   subject,
		Body:      body,
		Timestamp: time.Now(),
	}
}

// UnixString renders t as whole unix seconds, the wire timestamp format.
func UnixString(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// ParseUnixString is the inverse of UnixString. Malformed input yields the
// current time, matching the reference client's lenient behavior.
func ParseUnixString(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(sec, 0)
}
