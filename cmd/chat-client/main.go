package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-chat-server/internal/client"
	"github.com/kstaniek/go-chat-server/internal/wire"
)

const requestTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	host := flag.String("server", "127.0.0.1", "Server host")
	flag.StringVar(host, "s", "127.0.0.1", "Server host (shorthand)")
	port := flag.Int("port", 8080, "Server port")
	flag.IntVar(port, "p", 8080, "Server port (shorthand)")
	username := flag.String("user", "", "Username to connect as (prompted when empty)")
	flag.Parse()

	addr := net.JoinHostPort(*host, strconv.Itoa(*port))
	c, err := client.Dial(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		return 1
	}
	defer c.Close()

	in := bufio.NewScanner(os.Stdin)
	name := *username
	for name == "" {
		fmt.Print("Username: ")
		if !in.Scan() {
			return 0
		}
		name = strings.TrimSpace(in.Text())
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	err = c.Connect(ctx, name)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		return 1
	}
	fmt.Printf("Connected to %s as %s. Type 'help' for commands.\n", addr, name)

	go printEvents(c)

	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if !execute(c, line) {
			break
		}
		select {
		case <-c.Done():
			fmt.Println("connection closed by server")
			return 1
		default:
		}
	}
	_ = c.Disconnect()
	return 0
}

// printEvents surfaces asynchronous frames: incoming messages and
// unsolicited errors (kick, ban, failed delivery).
func printEvents(c *client.Client) {
	for e := range c.Events() {
		switch e.Verb {
		case wire.VerbMessage:
			if len(e.Args) >= 3 {
				fmt.Printf("\n[%s] %s: %s\n> ", e.Args[0], e.Args[1], e.Args[2])
			}
		case wire.VerbError:
			fmt.Printf("\nserver: %s\n> ", strings.Join(e.Args, wire.Delimiter))
		}
	}
}

// execute runs one command line; returns false to quit.
func execute(c *client.Client, line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	switch cmd {
	case "help":
		fmt.Println("Commands:")
		fmt.Println("  send <to> <subject> <body...>   send a message ('all' broadcasts)")
		fmt.Println("  users                           list connected users")
		fmt.Println("  log                             show the server log tail")
		fmt.Println("  inbox                           list unread messages")
		fmt.Println("  read <index>                    read a message")
		fmt.Println("  reply <index> <body...>         reply to a message")
		fmt.Println("  quit                            disconnect and exit")
	case "send":
		if len(args) < 3 {
			fmt.Println("usage: send <to> <subject> <body...>")
			return true
		}
		if err := c.SendMessage(ctx, args[0], args[1], strings.Join(args[2:], " ")); err != nil {
			fmt.Printf("send failed: %v\n", err)
		}
	case "users":
		users, err := c.ListUsers(ctx)
		if err != nil {
			fmt.Printf("list failed: %v\n", err)
			return true
		}
		fmt.Printf("%d user(s): %s\n", len(users), strings.Join(users, ", "))
	case "log":
		text, err := c.GetLog(ctx)
		if err != nil {
			fmt.Printf("log failed: %v\n", err)
			return true
		}
		fmt.Println(text)
	case "inbox":
		unread := c.Inbox().Unread()
		if len(unread) == 0 {
			fmt.Println("no unread messages")
			return true
		}
		for _, m := range unread {
			fmt.Printf("  [%d] from %s: %s\n", m.Index, m.From, m.Subject)
		}
	case "read":
		if len(args) < 1 {
			fmt.Println("usage: read <index>")
			return true
		}
		i, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Println("usage: read <index>")
			return true
		}
		m, ok := c.Inbox().ReadByIndex(i)
		if !ok {
			fmt.Printf("no message with index %d\n", i)
			return true
		}
		fmt.Printf("From: %s\nSubject: %s\nDate: %s\n\n%s\n",
			m.From, m.Subject, m.Timestamp.Format(time.DateTime), m.Body)
	case "reply":
		if len(args) < 2 {
			fmt.Println("usage: reply <index> <body...>")
			return true
		}
		i, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Println("usage: reply <index> <body...>")
			return true
		}
		if err := c.Reply(ctx, i, strings.Join(args[1:], " ")); err != nil {
			fmt.Printf("reply failed: %v\n", err)
		}
	case "quit", "exit":
		return false
	default:
		fmt.Printf("unknown command: %s (try 'help')\n", cmd)
	}
	return true
}
