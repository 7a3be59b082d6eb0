package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/kstaniek/go-chat-server/internal/metrics"
	"github.com/kstaniek/go-chat-server/internal/registry"
	"github.com/kstaniek/go-chat-server/internal/wire"
)

// Console is the operator command loop over stdin-style text lines. Commands
// begin with "/"; everything else is ignored with a hint. The reader and
// writer are injected so tests can drive the console over buffers.
type Console struct {
	srv *Server
	in  io.Reader
	out io.Writer

	commands map[string]consoleCommand
	order    []string
}

type consoleCommand struct {
	usage   string
	desc    string
	minArgs int
	run     func(c *Console, args []string)
}

func NewConsole(srv *Server, in io.Reader, out io.Writer) *Console {
	c := &Console{srv: srv, in: in, out: out}
	c.commands = map[string]consoleCommand{
		"/help":      {"/help", "Show this help", 0, (*Console).cmdHelp},
		"/broadcast": {"/broadcast <message>", "Send an announcement to all clients", 1, (*Console).cmdBroadcast},
		"/send":      {"/send <user> <message>", "Send a private message to one client", 2, (*Console).cmdSend},
		"/list":      {"/list", "List connected users", 0, (*Console).cmdList},
		"/kick":      {"/kick <user>", "Disconnect a user", 1, (*Console).cmdKick},
		"/ban":       {"/ban <user>", "Ban a user and disconnect them", 1, (*Console).cmdBan},
		"/unban":     {"/unban <user>", "Remove a user from the ban list", 1, (*Console).cmdUnban},
		"/stats":     {"/stats", "Show server statistics", 0, (*Console).cmdStats},
		"/set":       {"/set <key> <value>", "Change a runtime setting", 2, (*Console).cmdSet},
		"/config":    {"/config", "Show runtime settings", 0, (*Console).cmdConfig},
		"/reset":     {"/reset", "Reset runtime settings to defaults", 0, (*Console).cmdReset},
		"/stop":      {"/stop", "Stop the server", 0, (*Console).cmdStop},
	}
	c.order = make([]string, 0, len(c.commands))
	for name := range c.commands {
		c.order = append(c.order, name)
	}
	sort.Strings(c.order)
	return c
}

// Run consumes lines until the input ends or the server stop is requested.
// It is meant to run on its own goroutine next to Serve.
func (c *Console) Run() {
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		select {
		case <-c.srv.StopRequested():
			return
		default:
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			c.printf("Unknown input. Type /help for commands.")
			continue
		}
		c.Execute(line)
	}
}

// Execute runs a single console line.
func (c *Console) Execute(line string) {
	fields := strings.Fields(line)
	name := fields[0]
	args := fields[1:]
	cmd, ok := c.commands[name]
	if !ok {
		metrics.IncError(metrics.ErrConsole)
		c.printf("Unknown command: %s. Type /help for commands.", name)
		return
	}
	if len(args) < cmd.minArgs {
		c.printf("Usage: %s", cmd.usage)
		return
	}
	cmd.run(c, args)
}

func (c *Console) printf(format string, a ...any) {
	fmt.Fprintf(c.out, format+"\n", a...)
}

func (c *Console) cmdHelp(_ []string) {
	c.printf("Available commands:")
	for _, name := range c.order {
		cmd := c.commands[name]
		c.printf("  %-24s %s", cmd.usage, cmd.desc)
	}
}

// adminMessage delivers a server-originated frame directly, bypassing the
// dispatch queue: operator traffic is not subject to queue policy.
func adminMessage(sess *registry.Session, subject, body string) error {
	return sess.Send(wire.VerbMessage, "SERVER", subject, body, "0")
}

func (c *Console) cmdBroadcast(args []string) {
	body := strings.Join(args, " ")
	n := 0
	for _, e := range c.srv.Registry.Snapshot() {
		if err := adminMessage(e.Session, "Announcement", body); err != nil {
			metrics.IncError(metrics.ErrTCPWrite)
			continue
		}
		n++
	}
	c.printf("Broadcast sent to %d client(s)", n)
}

func (c *Console) cmdSend(args []string) {
	user := args[0]
	body := strings.Join(args[1:], " ")
	sess, ok := c.srv.Registry.Lookup(user)
	if !ok {
		c.printf("User '%s' is not connected", user)
		return
	}
	if err := adminMessage(sess, "Private Message", body); err != nil {
		metrics.IncError(metrics.ErrTCPWrite)
		c.printf("Failed to send to '%s': %v", user, err)
		return
	}
	c.printf("Message sent to '%s'", user)
}

func (c *Console) cmdList(_ []string) {
	names := c.srv.Registry.Names()
	if len(names) == 0 {
		c.printf("No clients connected")
		return
	}
	c.printf("Connected clients (%d):", len(names))
	for _, n := range names {
		c.printf("  %s", n)
	}
}

func (c *Console) cmdKick(args []string) {
	user := args[0]
	sess, ok := c.srv.Registry.Lookup(user)
	if !ok {
		c.printf("User '%s' is not connected", user)
		return
	}
	_ = sess.Send(wire.VerbError, "You have been kicked by admin")
	c.srv.disconnectSession(user, sess)
	c.printf("User '%s' kicked", user)
}

func (c *Console) cmdBan(args []string) {
	user := args[0]
	if err := c.srv.Banlist.Add(user); err != nil {
		metrics.IncError(metrics.ErrBanlistIO)
		c.printf("Failed to persist ban for '%s': %v", user, err)
		return
	}
	if sess, ok := c.srv.Registry.Lookup(user); ok {
		_ = sess.Send(wire.VerbError, "You have been banned by admin")
		c.srv.disconnectSession(user, sess)
	}
	c.printf("User '%s' banned", user)
}

func (c *Console) cmdUnban(args []string) {
	user := args[0]
	removed, err := c.srv.Banlist.Remove(user)
	if err != nil {
		metrics.IncError(metrics.ErrBanlistIO)
		c.printf("Failed to persist unban for '%s': %v", user, err)
		return
	}
	if !removed {
		c.printf("User '%s' is not banned", user)
		return
	}
	c.printf("User '%s' unbanned", user)
}

func (c *Console) cmdStats(_ []string) {
	snap := metrics.Snap()
	uptime := c.srv.Uptime()
	perMin := 0.0
	if m := uptime.Minutes(); m > 0 {
		perMin = float64(snap.Received) / m
	}
	c.printf("Server statistics:")
	c.printf("  Port:               %s", listenPort(c.srv.Addr()))
	c.printf("  Uptime:             %s", formatUptime(uptime))
	c.printf("  Connected clients:  %d", c.srv.Registry.Count())
	c.printf("  Messages received:  %d", snap.Received)
	c.printf("  Messages sent:      %d", snap.Sent)
	c.printf("  Messages/minute:    %.1f", perMin)
}

func listenPort(addr string) string {
	if _, port, err := net.SplitHostPort(addr); err == nil {
		return port
	}
	return addr
}

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (c *Console) cmdSet(args []string) {
	key, value := args[0], args[1]
	if err := c.srv.Config().Set(key, value); err != nil {
		c.printf("Cannot set %s: %v", key, err)
		return
	}
	c.printf("%s = %s", key, value)
}

func (c *Console) cmdConfig(_ []string) {
	c.printf("Runtime configuration:")
	for _, kv := range c.srv.Config().List() {
		c.printf("  %-24s %s", kv.Key, kv.Value)
	}
}

func (c *Console) cmdReset(_ []string) {
	c.srv.Config().Reset()
	c.printf("Configuration reset to defaults")
}

func (c *Console) cmdStop(_ []string) {
	c.printf("Stopping server...")
	c.srv.RequestStop()
}
