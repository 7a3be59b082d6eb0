package registry

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-chat-server/internal/wire"
)

// Session is the server-side state for one TCP connection. It is created on
// accept with an empty username; the username is bound by Register on a
// successful CONNECT. The session owns its socket for its lifetime; the
// dispatcher and heartbeat borrow the handle through WriteFrame.
type Session struct {
	conn      net.Conn
	codec     wire.Codec
	writeMu   sync.Mutex
	closeOnce sync.Once

	// username is written once under the registry lock and read via Username.
	nameMu   sync.RWMutex
	username string

	// Heartbeat bookkeeping. Atomic so the PONG handler never needs the
	// registry lock and visibility still holds after the handler returns.
	lastPongNano   atomic.Int64
	waitingForPong atomic.Bool
}

// NewSession wraps an accepted connection.
func NewSession(conn net.Conn) *Session {
	s := &Session{conn: conn}
	s.lastPongNano.Store(time.Now().UnixNano())
	return s
}

// Username returns the bound username, or "" before CONNECT succeeds.
func (s *Session) Username() string {
	s.nameMu.RLock()
	defer s.nameMu.RUnlock()
	return s.username
}

func (s *Session) setUsername(name string) {
	s.nameMu.Lock()
	s.username = name
	s.nameMu.Unlock()
}

// Authenticated reports whether a CONNECT has bound a username.
func (s *Session) Authenticated() bool { return s.Username() != "" }

// RemoteAddr exposes the peer address for logging.
func (s *Session) RemoteAddr() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// WriteFrame sends one length-prefixed frame. Writes from the session
// handler, the dispatcher, and the heartbeat are serialized here so frames on
// a single socket stay totally ordered.
func (s *Session) WriteFrame(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.codec.WriteFrame(s.conn, payload)
}

// Send builds and writes a command frame.
func (s *Session) Send(verb string, args ...string) error {
	return s.WriteFrame(wire.Build(verb, args...))
}

// ReadFrame reads one frame from the session socket.
func (s *Session) ReadFrame() ([]byte, error) {
	return s.codec.ReadFrame(s.conn)
}

// SetReadDeadline bounds the next ReadFrame.
func (s *Session) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// Close closes the socket; safe to call from any path, only the first call
// acts. A concurrent dispatcher write then fails without double-closing.
func (s *Session) Close() {
	s.closeOnce.Do(func() { _ = s.conn.Close() })
}

// TouchPong records a PONG: last-pong moves forward and the waiting flag
// clears.
func (s *Session) TouchPong() {
	s.lastPongNano.Store(time.Now().UnixNano())
	s.waitingForPong.Store(false)
}

// MarkPinged flags that a PING was sent and a PONG is awaited.
func (s *Session) MarkPinged() { s.waitingForPong.Store(true) }

// LastPong returns the instant of the most recent PONG (or CONNECT).
func (s *Session) LastPong() time.Time {
	return time.Unix(0, s.lastPongNano.Load())
}

// WaitingForPong reports whether a PING is outstanding.
func (s *Session) WaitingForPong() bool { return s.waitingForPong.Load() }
