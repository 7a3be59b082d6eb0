// Package client is the reference client library for the chat protocol. It
// splits sending and receiving: callers invoke request methods from their own
// goroutine while a single listener goroutine decodes inbound frames, answers
// heartbeat PINGs, stores MESSAGEs in the inbox, and routes command replies
// back to the waiting request.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-chat-server/internal/logging"
	"github.com/kstaniek/go-chat-server/internal/message"
	"github.com/kstaniek/go-chat-server/internal/wire"
)

// Broadcast is the recipient that fans a message out to everyone.
const Broadcast = "all"

// Default content limits mirrored from the server defaults, enforced locally
// so obviously invalid input never leaves the client.
const (
	defaultMaxUsername = 32
	defaultMaxSubject  = 100
)

var (
	ErrNotConnected  = errors.New("client: not connected")
	ErrClosed        = errors.New("client: connection closed")
	ErrServerRefused = errors.New("client: server refused")
)

// Event is a server frame surfaced to the application: MESSAGE and
// unsolicited ERROR frames (kick, ban, failed delivery).
type Event struct {
	Verb string
	Args []string
}

type serverReply struct {
	verb string
	args []string
}

// Client is one connection to the chat server. Request methods are safe for
// concurrent use; they are serialized so replies match requests.
type Client struct {
	conn    net.Conn
	codec   wire.Codec
	writeMu sync.Mutex

	reqMu    sync.Mutex // one in-flight request at a time
	inFlight atomic.Bool
	replies  chan serverReply

	events chan Event
	inbox  *Inbox

	mu       sync.Mutex
	username string

	closeOnce sync.Once
	done      chan struct{}
	logger    *slog.Logger
}

// Dial connects the TCP socket and starts the listener. No username is bound
// until Connect succeeds.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client dial: %w", err)
	}
	c := &Client{
		conn:    conn,
		replies: make(chan serverReply, 8),
		events:  make(chan Event, 64),
		inbox:   newInbox(),
		done:    make(chan struct{}),
		logger:  logging.L(),
	}
	go c.listen()
	return c, nil
}

// Events surfaces MESSAGE and unsolicited ERROR frames. The channel closes
// when the connection ends.
func (c *Client) Events() <-chan Event { return c.events }

// Inbox gives access to received messages.
func (c *Client) Inbox() *Inbox { return c.inbox }

// Username returns the name bound by Connect, or "".
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Done is closed when the listener exits.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) send(verb string, args ...string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WriteFrame(c.conn, wire.Build(verb, args...))
}

// request sends a command and waits for the next OK/ERROR/USERS/LOG reply.
func (c *Client) request(ctx context.Context, verb string, args ...string) (serverReply, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	// Drop replies left over from an earlier timed-out request.
	for {
		select {
		case <-c.replies:
			continue
		default:
		}
		break
	}
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)
	if err := c.send(verb, args...); err != nil {
		return serverReply{}, err
	}
	select {
	case <-ctx.Done():
		return serverReply{}, ctx.Err()
	case <-c.done:
		return serverReply{}, ErrClosed
	case r := <-c.replies:
		return r, nil
	}
}

// Connect claims username on the server. On ERROR the connection stays usable
// for a retry with a different name (unless the server closed it, e.g. a
// ban).
func (c *Client) Connect(ctx context.Context, username string) error {
	if !wire.ValidUsername(username, defaultMaxUsername) {
		return fmt.Errorf("%w: invalid username", ErrServerRefused)
	}
	r, err := c.request(ctx, wire.VerbConnect, username)
	if err != nil {
		return err
	}
	if r.verb != wire.VerbOK {
		return fmt.Errorf("%w: %s", ErrServerRefused, strings.Join(r.args, wire.Delimiter))
	}
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
	return nil
}

// SendMessage sends one message; to == Broadcast fans out server-side.
func (c *Client) SendMessage(ctx context.Context, to, subject, body string) error {
	if c.Username() == "" {
		return ErrNotConnected
	}
	subject = wire.Sanitize(subject)
	body = wire.Sanitize(body)
	if !wire.ValidSubject(subject, defaultMaxSubject) {
		return fmt.Errorf("%w: subject too long (max %d chars)", ErrServerRefused, defaultMaxSubject)
	}
	if !wire.ValidBody(body) {
		return fmt.Errorf("%w: body is empty", ErrServerRefused)
	}
	r, err := c.request(ctx, wire.VerbSend, to, subject, body)
	if err != nil {
		return err
	}
	if r.verb != wire.VerbOK {
		return fmt.Errorf("%w: %s", ErrServerRefused, strings.Join(r.args, wire.Delimiter))
	}
	return nil
}

// ListUsers returns the server roster.
func (c *Client) ListUsers(ctx context.Context) ([]string, error) {
	r, err := c.request(ctx, wire.VerbListUsers)
	if err != nil {
		return nil, err
	}
	switch r.verb {
	case wire.VerbUsers:
		if len(r.args) == 0 || r.args[0] == "" {
			return nil, nil
		}
		return strings.Split(r.args[0], ","), nil
	case wire.VerbError:
		return nil, fmt.Errorf("%w: %s", ErrServerRefused, strings.Join(r.args, wire.Delimiter))
	default:
		return nil, fmt.Errorf("client: unexpected reply %s", r.verb)
	}
}

// GetLog returns the tail of the server log.
func (c *Client) GetLog(ctx context.Context) (string, error) {
	r, err := c.request(ctx, wire.VerbGetLog)
	if err != nil {
		return "", err
	}
	switch r.verb {
	case wire.VerbLog:
		return strings.Join(r.args, wire.Delimiter), nil
	case wire.VerbError:
		return "", fmt.Errorf("%w: %s", ErrServerRefused, strings.Join(r.args, wire.Delimiter))
	default:
		return "", fmt.Errorf("client: unexpected reply %s", r.verb)
	}
}

// Reply answers inbox message i, prefixing the subject with "Re: " unless it
// already carries one.
func (c *Client) Reply(ctx context.Context, i int, body string) error {
	msg, ok := c.inbox.ByIndex(i)
	if !ok {
		return fmt.Errorf("client: no message with index %d", i)
	}
	subject := msg.Subject
	if !strings.HasPrefix(subject, "Re: ") {
		subject = "Re: " + subject
	}
	return c.SendMessage(ctx, msg.From, subject, body)
}

// Disconnect tells the server to drop the session, then closes the socket.
// The server sends no reply to DISCONNECT.
func (c *Client) Disconnect() error {
	err := c.send(wire.VerbDisconnect)
	c.Close()
	if err != nil && !errors.Is(err, wire.ErrConnectionClosed) {
		return err
	}
	return nil
}

// Close tears the connection down without the DISCONNECT handshake.
func (c *Client) Close() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}

// listen is the single inbound decoder goroutine.
func (c *Client) listen() {
	defer func() {
		c.Close()
		close(c.done)
		close(c.events)
	}()
	for {
		payload, err := c.codec.ReadFrame(c.conn)
		if err != nil {
			if !errors.Is(err, wire.ErrConnectionClosed) {
				c.logger.Debug("client_read_failed", "error", err)
			}
			return
		}
		verb, args, ok := wire.Parse(payload)
		if !ok {
			continue
		}
		switch verb {
		case wire.VerbPing:
			// Heartbeat; answered without surfacing.
			if err := c.send(wire.VerbPong); err != nil {
				return
			}
		case wire.VerbMessage:
			c.handleMessage(args)
		case wire.VerbOK, wire.VerbError, wire.VerbUsers, wire.VerbLog:
			if c.inFlight.Load() {
				select {
				case c.replies <- serverReply{verb: verb, args: args}:
					continue
				default:
				}
			}
			// Unsolicited: kick, ban, or a failed-delivery notice.
			c.emit(Event{Verb: verb, Args: args})
		default:
			c.logger.Debug("client_unknown_verb", "verb", verb)
		}
	}
}

func (c *Client) handleMessage(args []string) {
	if len(args) < 4 {
		return
	}
	from := args[0]
	subject := args[1]
	body := strings.Join(args[2:len(args)-1], wire.Delimiter)
	ts := message.ParseUnixString(args[len(args)-1])
	c.inbox.add(from, subject, body, ts)
	c.emit(Event{Verb: wire.VerbMessage, Args: args})
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	default:
		// Slow consumer; drop rather than stall the listener.
	}
}

// WaitEvent blocks until an event arrives or the timeout passes; a test
// helper more than an application API.
func (c *Client) WaitEvent(d time.Duration) (Event, bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case e, ok := <-c.events:
		return e, ok
	case <-t.C:
		return Event{}, false
	}
}
