package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/kstaniek/go-chat-server/internal/config"
	"github.com/kstaniek/go-chat-server/internal/logging"
	"github.com/kstaniek/go-chat-server/internal/metrics"
	"github.com/kstaniek/go-chat-server/internal/registry"
	"github.com/kstaniek/go-chat-server/internal/wire"
)

// EvictFunc runs the server's disconnect path for a timed-out client.
type EvictFunc func(name string, s *registry.Session)

// Supervisor periodically PINGs every registered client and evicts those
// whose last PONG is older than the timeout. PING frames are length-prefixed
// like every other application message. Sockets are written outside the
// registry lock, from a snapshot.
type Supervisor struct {
	reg    *registry.Registry
	cfg    *config.Runtime
	evict  EvictFunc
	logger *slog.Logger
}

func New(reg *registry.Registry, cfg *config.Runtime, evict EvictFunc) *Supervisor {
	return &Supervisor{reg: reg, cfg: cfg, evict: evict, logger: logging.L()}
}

// Run blocks until ctx is cancelled. Interval, check delay, and timeout are
// re-read from the runtime config on every cycle so /set takes effect on the
// next beat.
func (h *Supervisor) Run(ctx context.Context) {
	h.logger.Info("heartbeat_started",
		"interval", h.cfg.Seconds(config.KeyHeartbeatInterval),
		"timeout", h.cfg.Seconds(config.KeyHeartbeatTimeout))
	for {
		if !sleep(ctx, h.cfg.Seconds(config.KeyHeartbeatInterval)) {
			h.logger.Info("heartbeat_stopped")
			return
		}
		h.broadcastPing()
		if !sleep(ctx, h.cfg.Seconds(config.KeyHeartbeatCheckDelay)) {
			h.logger.Info("heartbeat_stopped")
			return
		}
		h.sweep(time.Now())
	}
}

// broadcastPing sends a framed PING to every client and marks it as awaiting
// a PONG.
func (h *Supervisor) broadcastPing() {
	for _, e := range h.reg.Snapshot() {
		if err := e.Session.Send(wire.VerbPing); err != nil {
			// Dead socket; the session loop or the sweep will reap it.
			metrics.IncError(metrics.ErrTCPWrite)
			continue
		}
		e.Session.MarkPinged()
		h.logger.Debug("ping_sent", "user", e.Name)
	}
}

// sweep evicts every session whose last PONG is older than the timeout.
func (h *Supervisor) sweep(now time.Time) {
	timeout := h.cfg.Seconds(config.KeyHeartbeatTimeout)
	for _, e := range h.reg.Snapshot() {
		silent := now.Sub(e.Session.LastPong())
		if silent <= timeout {
			continue
		}
		h.logger.Warn("client_timeout", "user", e.Name, "silent", silent.Truncate(time.Second))
		metrics.IncEviction()
		h.evict(e.Name, e.Session)
	}
}

// sleep waits d or until ctx is done; reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
