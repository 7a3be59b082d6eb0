package dispatch

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/kstaniek/go-chat-server/internal/message"
	"github.com/kstaniek/go-chat-server/internal/registry"
	"github.com/kstaniek/go-chat-server/internal/wire"
)

// pipeClient is the far end of a registered session: a goroutine decodes
// frames into a channel so tests can wait with deadlines.
type pipeClient struct {
	conn   net.Conn
	frames chan string
}

func newPipeClient(t *testing.T, reg *registry.Registry, name string) *pipeClient {
	t.Helper()
	near, far := net.Pipe()
	sess := registry.NewSession(near)
	if err := reg.Register(name, sess); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	pc := &pipeClient{conn: far, frames: make(chan string, 16)}
	go func() {
		var c wire.Codec
		for {
			payload, err := c.ReadFrame(far)
			if err != nil {
				close(pc.frames)
				return
			}
			pc.frames <- string(payload)
		}
	}()
	t.Cleanup(func() { near.Close(); far.Close() })
	return pc
}

func (pc *pipeClient) next(t *testing.T, within time.Duration) string {
	t.Helper()
	select {
	case f, ok := <-pc.frames:
		if !ok {
			t.Fatal("connection closed while waiting for frame")
		}
		return f
	case <-time.After(within):
		t.Fatal("no frame within deadline")
		return ""
	}
}

func TestDispatcherDelivers(t *testing.T) {
	reg := registry.New()
	_ = newPipeClient(t, reg, "alice")
	bob := newPipeClient(t, reg, "bob")

	d := New(reg, 16, PolicyReject, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Close()

	if !d.Enqueue(message.New("alice", "bob", "Hi", "hello there")) {
		t.Fatal("Enqueue refused with free capacity")
	}
	frame := bob.next(t, time.Second)
	if !strings.HasPrefix(frame, "MESSAGE;alice;Hi;hello there;") {
		t.Fatalf("unexpected frame %q", frame)
	}
}

func TestDispatcherDeliveryDelay(t *testing.T) {
	reg := registry.New()
	bob := newPipeClient(t, reg, "bob")

	const delay = 30 * time.Millisecond
	d := New(reg, 16, PolicyReject, delay)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Close()

	start := time.Now()
	d.Enqueue(message.New("alice", "bob", "s", "b"))
	bob.next(t, time.Second)
	if elapsed := time.Since(start); elapsed < delay {
		t.Fatalf("delivered after %v, want >= %v", elapsed, delay)
	}
}

func TestDispatcherRecipientGone(t *testing.T) {
	reg := registry.New()
	alice := newPipeClient(t, reg, "alice")

	d := New(reg, 16, PolicyReject, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Close()

	// Recipient resolution happens at delivery time; "bob" was never there.
	if !d.Enqueue(message.New("alice", "bob", "s", "b")) {
		t.Fatal("Enqueue refused")
	}
	frame := alice.next(t, time.Second)
	want := "ERROR;Message to 'bob' could not be delivered: user disconnected\n"
	if frame != want {
		t.Fatalf("frame = %q, want %q", frame, want)
	}
}

func TestDispatcherRejectPolicy(t *testing.T) {
	reg := registry.New()
	// Not started: the queue holds exactly its capacity.
	d := New(reg, 2, PolicyReject, 0)
	defer d.Close()

	if !d.Enqueue(message.New("a", "b", "s", "1")) {
		t.Fatal("first Enqueue refused")
	}
	if !d.Enqueue(message.New("a", "b", "s", "2")) {
		t.Fatal("second Enqueue refused")
	}
	if d.Enqueue(message.New("a", "b", "s", "3")) {
		t.Fatal("third Enqueue accepted beyond capacity")
	}
	if d.Depth() != 2 {
		t.Fatalf("Depth = %d, want 2", d.Depth())
	}
}

func TestDispatcherDropNewestPolicy(t *testing.T) {
	reg := registry.New()
	d := New(reg, 1, PolicyDropNewest, 0)
	defer d.Close()

	if !d.Enqueue(message.New("a", "b", "s", "1")) {
		t.Fatal("first Enqueue refused")
	}
	if d.Enqueue(message.New("a", "b", "s", "2")) {
		t.Fatal("overflow Enqueue accepted under drop_newest")
	}
	if d.Depth() != 1 {
		t.Fatalf("Depth = %d, want 1", d.Depth())
	}
}

func TestDispatcherDropOldestPolicy(t *testing.T) {
	reg := registry.New()
	d := New(reg, 2, PolicyDropOldest, 0)

	for i, body := range []string{"1", "2", "3"} {
		if !d.Enqueue(message.New("alice", "bob", "s", body)) {
			t.Fatalf("Enqueue %d refused under drop_oldest", i)
		}
	}
	if d.Depth() != 2 {
		t.Fatalf("Depth = %d, want 2", d.Depth())
	}

	// Survivors are the two newest, still in order.
	bob := newPipeClient(t, reg, "bob")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Close()

	first := bob.next(t, time.Second)
	if !strings.HasPrefix(first, "MESSAGE;alice;s;2;") {
		t.Fatalf("first surviving frame %q, want body 2", first)
	}
	second := bob.next(t, time.Second)
	if !strings.HasPrefix(second, "MESSAGE;alice;s;3;") {
		t.Fatalf("second surviving frame %q, want body 3", second)
	}
}

func TestDispatcherCloseIdempotent(t *testing.T) {
	reg := registry.New()
	d := New(reg, 4, PolicyReject, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	d.Close()
	d.Close()
	if d.Enqueue(message.New("a", "b", "s", "late")) {
		t.Fatal("Enqueue accepted after Close")
	}
}
