package server

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-chat-server/internal/config"
	"github.com/kstaniek/go-chat-server/internal/metrics"
	"github.com/kstaniek/go-chat-server/internal/registry"
	"github.com/kstaniek/go-chat-server/internal/wire"
)

// runSession is a pool task: it owns the connection from accept to close and
// runs the frame read loop. The read deadline is refreshed per frame from
// CLIENT_TIMEOUT_S; a deadline expiry is not an error (the heartbeat owns
// eviction), it only wakes the loop so config changes and shutdown are
// noticed.
func (s *Server) runSession(conn net.Conn, logger *slog.Logger) {
	sess := registry.NewSession(conn)
	s.activeSessions.Add(1)
	defer func() {
		s.activeSessions.Add(-1)
		if name := sess.Username(); name != "" {
			s.disconnectSession(name, sess)
		} else {
			sess.Close()
		}
		logger.Info("session_closed", "user", sess.Username())
	}()

	for {
		if s.stopped() {
			return
		}
		timeout := s.cfg.Seconds(config.KeyClientTimeout)
		_ = sess.SetReadDeadline(time.Now().Add(timeout))
		payload, err := sess.ReadFrame()
		if err != nil {
			if ne, ok := errAsNetError(err); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, wire.ErrConnectionClosed) {
				logger.Debug("peer_closed")
				return
			}
			if errors.Is(err, wire.ErrFrameTooLarge) {
				// The stream is desynchronized past an oversized prefix;
				// recovery is impossible, so the connection ends here.
				logger.Warn("frame_too_large", "error", err)
				return
			}
			metrics.IncError(metrics.ErrTCPRead)
			logger.Error("read_failed", "error", err)
			return
		}
		verb, args, ok := wire.Parse(payload)
		if !ok {
			// Empty frame: dropped without a response.
			metrics.IncMalformed()
			continue
		}
		if !s.handleVerb(sess, logger, verb, args) {
			return
		}
	}
}

// errAsNetError unwraps to net.Error for deadline detection.
func errAsNetError(err error) (net.Error, bool) {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}

// handleVerb dispatches one parsed command. It reports whether the session
// loop should keep reading.
func (s *Server) handleVerb(sess *registry.Session, logger *slog.Logger, verb string, args []string) bool {
	h, ok := s.handlers[verb]
	if !ok {
		logger.Warn("unknown_command", "verb", verb)
		if err := sess.Send(wire.VerbError, "Unknown command: "+verb); err != nil {
			metrics.IncError(metrics.ErrTCPWrite)
			return false
		}
		return true
	}
	return h(sess, logger, args)
}
