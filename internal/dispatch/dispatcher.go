package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-chat-server/internal/logging"
	"github.com/kstaniek/go-chat-server/internal/message"
	"github.com/kstaniek/go-chat-server/internal/metrics"
	"github.com/kstaniek/go-chat-server/internal/registry"
	"github.com/kstaniek/go-chat-server/internal/wire"
)

// Policy governs enqueue behavior when the queue is full.
type Policy int

const (
	// PolicyReject refuses the new message; the producer gets false.
	PolicyReject Policy = iota
	// PolicyDropOldest evicts the queue head to make room; the producer
	// succeeds. Per-pair FIFO holds only among surviving messages.
	PolicyDropOldest
	// PolicyDropNewest silently ignores the new message; the producer gets
	// false.
	PolicyDropNewest
)

func (p Policy) String() string {
	switch p {
	case PolicyDropOldest:
		return "drop_oldest"
	case PolicyDropNewest:
		return "drop_newest"
	default:
		return "reject"
	}
}

// DefaultDelay is the pause before each delivery, a global rate governor.
const DefaultDelay = 10 * time.Millisecond

// Dispatcher funnels messages from many producer sessions through a single
// delivery goroutine. Enqueue is non-blocking: a full queue follows the
// configured policy instead of stalling producers behind a slow socket.
//
// Life-cycle:
//
//	d := New(reg, cap, policy, delay)
//	d.Start(ctx)
//	d.Enqueue(msg)
//	d.Close()
//
// After Close no more messages are delivered; late Enqueue calls return false.
type Dispatcher struct {
	reg    *registry.Registry
	ch     chan message.Message
	policy Policy
	delay  time.Duration
	logger *slog.Logger

	mu     sync.Mutex // serializes Enqueue against Close and drop-oldest eviction
	closed atomic.Bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Dispatcher with a bounded queue of the given capacity.
func New(reg *registry.Registry, capacity int, policy Policy, delay time.Duration) *Dispatcher {
	if capacity <= 0 {
		capacity = 10000
	}
	if delay < 0 {
		delay = DefaultDelay
	}
	return &Dispatcher{
		reg:    reg,
		ch:     make(chan message.Message, capacity),
		policy: policy,
		delay:  delay,
		logger: logging.L(),
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.run(ctx)
	d.logger.Info("dispatcher_started", "capacity", cap(d.ch), "policy", d.policy.String(), "delay", d.delay)
}

// Enqueue offers a message to the queue and reports acceptance. The queue
// size never exceeds its capacity.
func (d *Dispatcher) Enqueue(msg message.Message) bool {
	if d.closed.Load() {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return false
	}
	for {
		select {
		case d.ch <- msg:
			metrics.SetQueueDepth(len(d.ch))
			return true
		default:
		}
		switch d.policy {
		case PolicyReject:
			metrics.IncQueueDropped(metrics.DropReject)
			d.logger.Warn("queue_full_reject", "msg_id", msg.ID.String(), "from", msg.From, "to", msg.To)
			return false
		case PolicyDropNewest:
			metrics.IncQueueDropped(metrics.DropNewest)
			d.logger.Warn("queue_full_drop_newest", "msg_id", msg.ID.String(), "from", msg.From, "to", msg.To)
			return false
		case PolicyDropOldest:
			select {
			case old := <-d.ch:
				metrics.IncQueueDropped(metrics.DropOldest)
				d.logger.Warn("queue_full_drop_oldest", "dropped_id", old.ID.String(), "from", old.From, "to", old.To)
			default:
				// Consumer drained the queue in the meantime; retry.
			}
		}
	}
}

// Depth returns the number of queued messages.
func (d *Dispatcher) Depth() int { return len(d.ch) }

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	d.logger.Info("dispatcher_loop_started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher_stopped", "pending", len(d.ch))
			return
		case msg := <-d.ch:
			metrics.SetQueueDepth(len(d.ch))
			if d.delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(d.delay):
				}
			}
			d.deliver(msg)
		}
	}
}

// deliver resolves the recipient at delivery time; a recipient gone between
// enqueue and delivery produces an asynchronous ERROR frame to the sender.
func (d *Dispatcher) deliver(msg message.Message) {
	rcpt, ok := d.reg.Lookup(msg.To)
	if !ok {
		d.logger.Warn("recipient_gone", "msg_id", msg.ID.String(), "to", msg.To, "from", msg.From)
		if sender, ok := d.reg.Lookup(msg.From); ok {
			reason := fmt.Sprintf("Message to '%s' could not be delivered: user disconnected", msg.To)
			if err := sender.Send(wire.VerbError, reason); err != nil {
				metrics.IncError(metrics.ErrTCPWrite)
			}
		}
		return
	}
	err := rcpt.Send(wire.VerbMessage,
		msg.From, msg.Subject, msg.Body, message.UnixString(msg.Timestamp))
	if err != nil {
		// The recipient's session loop observes the dead socket and runs the
		// disconnect path; the dispatcher never closes borrowed handles.
		metrics.IncError(metrics.ErrTCPWrite)
		d.logger.Error("delivery_failed", "msg_id", msg.ID.String(), "to", msg.To, "error", err)
		return
	}
	metrics.IncSent()
	d.logger.Debug("message_delivered", "msg_id", msg.ID.String(), "from", msg.From, "to", msg.To)
}

// Close stops the worker; pending messages may be dropped.
func (d *Dispatcher) Close() {
	if d.closed.Swap(true) {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}
