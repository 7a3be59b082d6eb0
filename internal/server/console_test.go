package server

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/kstaniek/go-chat-server/internal/config"
	"github.com/kstaniek/go-chat-server/internal/wire"
)

func newTestConsole(srv *Server) (*Console, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return NewConsole(srv, strings.NewReader(""), out), out
}

func TestConsoleHelp(t *testing.T) {
	srv, _ := startServer(t)
	con, out := newTestConsole(srv)
	con.Execute("/help")
	text := out.String()
	for _, cmd := range []string{"/broadcast", "/send", "/list", "/kick", "/ban", "/unban", "/stats", "/set", "/config", "/reset", "/stop"} {
		if !strings.Contains(text, cmd) {
			t.Errorf("help output missing %s", cmd)
		}
	}
}

func TestConsoleUnknownCommand(t *testing.T) {
	srv, _ := startServer(t)
	con, out := newTestConsole(srv)
	con.Execute("/frobnicate")
	if !strings.Contains(out.String(), "Unknown command: /frobnicate") {
		t.Fatalf("output %q", out.String())
	}
}

func TestConsoleMinArgs(t *testing.T) {
	srv, _ := startServer(t)
	con, out := newTestConsole(srv)
	con.Execute("/kick")
	if !strings.Contains(out.String(), "Usage: /kick <user>") {
		t.Fatalf("output %q", out.String())
	}
}

func TestConsoleList(t *testing.T) {
	srv, _ := startServer(t)
	con, out := newTestConsole(srv)
	con.Execute("/list")
	if !strings.Contains(out.String(), "No clients connected") {
		t.Fatalf("output %q", out.String())
	}
	out.Reset()
	_ = connectAs(t, srv, "alice")
	con.Execute("/list")
	if !strings.Contains(out.String(), "alice") {
		t.Fatalf("output %q", out.String())
	}
}

func TestConsoleBroadcastAndSend(t *testing.T) {
	srv, _ := startServer(t)
	alice := connectAs(t, srv, "alice")
	bob := connectAs(t, srv, "bob")
	con, out := newTestConsole(srv)

	// Overflow args join with spaces.
	con.Execute("/broadcast server going down soon")
	if !strings.Contains(out.String(), "Broadcast sent to 2 client(s)") {
		t.Fatalf("output %q", out.String())
	}
	want := "MESSAGE;SERVER;Announcement;server going down soon;0\n"
	for name, conn := range map[string]net.Conn{"alice": alice, "bob": bob} {
		if got := readReply(t, conn, time.Second); got != want {
			t.Fatalf("%s received %q, want %q", name, got, want)
		}
	}

	out.Reset()
	con.Execute("/send bob hello from the operator")
	if !strings.Contains(out.String(), "Message sent to 'bob'") {
		t.Fatalf("output %q", out.String())
	}
	if got := readReply(t, bob, time.Second); got != "MESSAGE;SERVER;Private Message;hello from the operator;0\n" {
		t.Fatalf("bob received %q", got)
	}

	out.Reset()
	con.Execute("/send ghost hi")
	if !strings.Contains(out.String(), "User 'ghost' is not connected") {
		t.Fatalf("output %q", out.String())
	}
}

func TestConsoleKick(t *testing.T) {
	srv, _ := startServer(t)
	bob := connectAs(t, srv, "bob")
	con, out := newTestConsole(srv)

	con.Execute("/kick bob")
	if !strings.Contains(out.String(), "User 'bob' kicked") {
		t.Fatalf("output %q", out.String())
	}
	if got := readReply(t, bob, time.Second); got != "ERROR;You have been kicked by admin\n" {
		t.Fatalf("bob received %q", got)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if srv.Registry.Count() == 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("bob still registered after kick")
}

func TestConsoleBanUnbanCycle(t *testing.T) {
	srv, _ := startServer(t)
	bob := connectAs(t, srv, "bob")
	con, out := newTestConsole(srv)

	con.Execute("/ban bob")
	if !strings.Contains(out.String(), "User 'bob' banned") {
		t.Fatalf("output %q", out.String())
	}
	if got := readReply(t, bob, time.Second); got != "ERROR;You have been banned by admin\n" {
		t.Fatalf("bob received %q", got)
	}

	// Reconnecting while banned is refused.
	conn := dialChat(t, srv.Addr())
	sendCmd(t, conn, wire.VerbConnect, "bob")
	if got := readReply(t, conn, time.Second); got != "ERROR;You are banned from this server\n" {
		t.Fatalf("reconnect reply %q", got)
	}

	out.Reset()
	con.Execute("/unban bob")
	if !strings.Contains(out.String(), "User 'bob' unbanned") {
		t.Fatalf("output %q", out.String())
	}
	_ = connectAs(t, srv, "bob")

	out.Reset()
	con.Execute("/unban bob")
	if !strings.Contains(out.String(), "User 'bob' is not banned") {
		t.Fatalf("output %q", out.String())
	}
}

func TestConsoleSetConfigReset(t *testing.T) {
	srv, _ := startServer(t)
	con, out := newTestConsole(srv)

	con.Execute("/set HEARTBEAT_INTERVAL_S 60")
	if !strings.Contains(out.String(), "HEARTBEAT_INTERVAL_S = 60") {
		t.Fatalf("output %q", out.String())
	}
	if got := srv.Config().Int(config.KeyHeartbeatInterval); got != 60 {
		t.Fatalf("config value %d, want 60", got)
	}

	out.Reset()
	con.Execute("/set HEARTBEAT_INTERVAL_S 999999")
	if !strings.Contains(out.String(), "Cannot set") {
		t.Fatalf("output %q", out.String())
	}

	out.Reset()
	con.Execute("/config")
	if !strings.Contains(out.String(), "HEARTBEAT_INTERVAL_S") || !strings.Contains(out.String(), "60") {
		t.Fatalf("output %q", out.String())
	}

	con.Execute("/reset")
	if got := srv.Config().Int(config.KeyHeartbeatInterval); got != 30 {
		t.Fatalf("config value after reset %d, want 30", got)
	}
}

func TestConsoleStats(t *testing.T) {
	srv, _ := startServer(t)
	_ = connectAs(t, srv, "alice")
	con, out := newTestConsole(srv)

	con.Execute("/stats")
	text := out.String()
	for _, field := range []string{"Port:", "Uptime:", "Connected clients:", "Messages received:", "Messages sent:", "Messages/minute:"} {
		if !strings.Contains(text, field) {
			t.Errorf("stats output missing %q", field)
		}
	}
	if !strings.Contains(text, "Connected clients:  1") {
		t.Errorf("stats client count wrong: %q", text)
	}
}

func TestConsoleStop(t *testing.T) {
	srv, _ := startServer(t)
	con, _ := newTestConsole(srv)
	con.Execute("/stop")
	select {
	case <-srv.StopRequested():
	case <-time.After(time.Second):
		t.Fatal("stop not requested")
	}
}

func TestFormatUptime(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{61 * time.Second, "00:01:01"},
		{3*time.Hour + 25*time.Minute + 45*time.Second, "03:25:45"},
	}
	for _, c := range cases {
		if got := formatUptime(c.d); got != c.want {
			t.Errorf("formatUptime(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}
