package server

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kstaniek/go-chat-server/internal/config"
	"github.com/kstaniek/go-chat-server/internal/logging"
	"github.com/kstaniek/go-chat-server/internal/message"
	"github.com/kstaniek/go-chat-server/internal/metrics"
	"github.com/kstaniek/go-chat-server/internal/registry"
	"github.com/kstaniek/go-chat-server/internal/wire"
)

// logTailLines is how many trailing log lines GET_LOG returns.
const logTailLines = 50

// BroadcastRecipient fans a SEND out to every registered user except the
// sender.
const BroadcastRecipient = "all"

// handlerFunc processes one command; the bool is whether the session loop
// keeps reading.
type handlerFunc func(sess *registry.Session, logger *slog.Logger, args []string) bool

func (s *Server) initHandlers() {
	s.handlers = map[string]handlerFunc{
		wire.VerbConnect:    s.handleConnect,
		wire.VerbDisconnect: s.handleDisconnect,
		wire.VerbSend:       s.handleSend,
		wire.VerbPing:       s.handlePing,
		wire.VerbPong:       s.handlePong,
		wire.VerbListUsers:  s.handleListUsers,
		wire.VerbGetLog:     s.handleGetLog,
	}
}

// reply sends a command frame to the session; a write failure ends the loop.
func reply(sess *registry.Session, verb string, args ...string) bool {
	if err := sess.Send(verb, args...); err != nil {
		metrics.IncError(metrics.ErrTCPWrite)
		return false
	}
	return true
}

// handleConnect claims a username for the session. Failure order: missing
// argument is dropped silently, an invalid name and a taken name keep the
// socket open, a banned name closes it.
func (s *Server) handleConnect(sess *registry.Session, logger *slog.Logger, args []string) bool {
	if len(args) < 1 || args[0] == "" {
		logger.Warn("connect_missing_username")
		return true
	}
	if sess.Authenticated() {
		return reply(sess, wire.VerbError, "Already connected as "+sess.Username())
	}
	name := args[0]
	if !wire.ValidUsername(name, s.cfg.Int(config.KeyMaxUsernameLength)) {
		logger.Warn("connect_invalid_username", "username", wire.Sanitize(name))
		return reply(sess, wire.VerbError, "Invalid username")
	}
	if s.Banlist.Contains(name) {
		metrics.IncBannedConnect()
		logger.Warn("connect_banned", "username", name)
		_ = sess.Send(wire.VerbError, "You are banned from this server")
		return false
	}
	if err := s.Registry.Register(name, sess); err != nil {
		if errors.Is(err, registry.ErrNameTaken) {
			logger.Warn("connect_name_taken", "username", name)
			return reply(sess, wire.VerbError, "Username already exists")
		}
		logger.Error("connect_register_failed", "username", name, "error", err)
		return reply(sess, wire.VerbError, "Invalid username")
	}
	s.totalConnected.Add(1)
	logger.Info("client_connected", "user", name)
	return reply(sess, wire.VerbOK, "Connected as "+name)
}

// handleDisconnect removes the registry entry and closes the socket. No
// response frame; an unauthenticated DISCONNECT just closes.
func (s *Server) handleDisconnect(sess *registry.Session, logger *slog.Logger, _ []string) bool {
	if name := sess.Username(); name != "" {
		s.disconnectSession(name, sess)
	} else {
		sess.Close()
	}
	return false
}

// handleSend validates and enqueues a message. Argument shape, then auth,
// then content checks, then recipient existence; the recipient check is last
// so a sender learns about a bad subject before a missing peer.
func (s *Server) handleSend(sess *registry.Session, logger *slog.Logger, args []string) bool {
	if len(args) < 3 {
		return reply(sess, wire.VerbError, "Malformed message: missing fields")
	}
	if !sess.Authenticated() {
		return reply(sess, wire.VerbError, "Not authenticated")
	}
	metrics.IncReceived()
	from := sess.Username()
	to := args[0]
	subject := wire.Sanitize(args[1])
	// Bodies that contained the delimiter arrive split; rejoin them.
	body := wire.Sanitize(strings.Join(args[2:], wire.Delimiter))
	maxSubject := s.cfg.Int(config.KeyMaxSubjectLength)
	if !wire.ValidSubject(subject, maxSubject) {
		return reply(sess, wire.VerbError, fmt.Sprintf("Subject too long (max %d chars)", maxSubject))
	}
	if !wire.ValidBody(body) {
		return reply(sess, wire.VerbError, "Body is empty")
	}
	if to == BroadcastRecipient {
		return s.broadcast(sess, logger, from, subject, body)
	}
	if _, ok := s.Registry.Lookup(to); !ok {
		return reply(sess, wire.VerbError, fmt.Sprintf("User '%s' does not exist or is offline", to))
	}
	msg := message.New(from, to, subject, body)
	if !s.disp.Enqueue(msg) {
		return reply(sess, wire.VerbError, "Failed to send message: queue full or dispatcher error")
	}
	logger.Debug("message_enqueued", "msg_id", msg.ID.String(), "to", to)
	return reply(sess, wire.VerbOK, "Message sent")
}

// broadcast enqueues one message per registered user except the sender. Each
// enqueue is independent; one drop fails the whole broadcast reply.
func (s *Server) broadcast(sess *registry.Session, logger *slog.Logger, from, subject, body string) bool {
	fanout := 0
	failed := 0
	for _, name := range s.Registry.Names() {
		if name == from {
			continue
		}
		fanout++
		msg := message.New(from, name, subject, body)
		if !s.disp.Enqueue(msg) {
			failed++
		}
	}
	metrics.SetBroadcastFanout(fanout)
	logger.Debug("broadcast_enqueued", "from", from, "fanout", fanout, "failed", failed)
	if failed > 0 {
		return reply(sess, wire.VerbError, "Failed to send message: queue full or dispatcher error")
	}
	return reply(sess, wire.VerbOK, "Broadcast sent")
}

// handlePing answers a client PING with a framed PONG.
func (s *Server) handlePing(sess *registry.Session, _ *slog.Logger, _ []string) bool {
	return reply(sess, wire.VerbPong)
}

// handlePong records liveness. A PONG from an unauthenticated socket is a
// no-op; nothing tracks it yet.
func (s *Server) handlePong(sess *registry.Session, logger *slog.Logger, _ []string) bool {
	if sess.Authenticated() {
		sess.TouchPong()
		logger.Debug("pong_received", "user", sess.Username())
	}
	return true
}

// handleListUsers returns the roster as USERS;u1,u2,... Authentication is
// required.
func (s *Server) handleListUsers(sess *registry.Session, _ *slog.Logger, _ []string) bool {
	if !sess.Authenticated() {
		return reply(sess, wire.VerbError, "Not authenticated")
	}
	return reply(sess, wire.VerbUsers, strings.Join(s.Registry.Names(), ","))
}

// handleGetLog returns the tail of the server log. Authentication is
// required.
func (s *Server) handleGetLog(sess *registry.Session, logger *slog.Logger, _ []string) bool {
	if !sess.Authenticated() {
		return reply(sess, wire.VerbError, "Not authenticated")
	}
	text, err := logging.Tail(s.logPath, logTailLines)
	if err != nil {
		metrics.IncError(metrics.ErrLogIO)
		logger.Error("log_tail_failed", "path", s.logPath, "error", err)
		return reply(sess, wire.VerbError, "Log file not available")
	}
	if text == "" {
		return reply(sess, wire.VerbLog, "Log file is empty")
	}
	return reply(sess, wire.VerbLog, text)
}
