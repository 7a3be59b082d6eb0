package wire

import "strings"

// Delimiter separates the verb and arguments inside a frame payload.
const Delimiter = ";"

// Server-inbound verbs.
const (
	VerbConnect    = "CONNECT"
	VerbDisconnect = "DISCONNECT"
	VerbSend       = "SEND"
	VerbPing       = "PING"
	VerbPong       = "PONG"
	VerbListUsers  = "LIST_USERS"
	VerbGetLog     = "GET_LOG"
)

// Server-outbound verbs.
const (
	VerbOK      = "OK"
	VerbError   = "ERROR"
	VerbMessage = "MESSAGE"
	VerbUsers   = "USERS"
	VerbLog     = "LOG"
)

// Build renders `VERB;arg1;...;argN\n`. Arguments must not contain the
// delimiter; callers sanitize user input first.
func Build(verb string, args ...string) []byte {
	var b strings.Builder
	b.WriteString(verb)
	for _, a := range args {
		b.WriteString(Delimiter)
		b.WriteString(a)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// Parse splits a payload into (verb, args). A single trailing newline is
// tolerated and stripped. Empty payloads are invalid and reported with
// ok=false; the session drops them with no response.
func Parse(payload []byte) (verb string, args []string, ok bool) {
	if len(payload) == 0 {
		return "", nil, false
	}
	s := string(payload)
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return "", nil, false
	}
	parts := strings.Split(s, Delimiter)
	return parts[0], parts[1:], true
}
