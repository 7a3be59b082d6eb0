package wire

import "strings"

// Sanitize replaces control characters other than newline and tab with a
// single space. Applied to user-supplied text before storage or forwarding;
// it never truncates.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return ' '
		}
		if r == 0x7F {
			return ' '
		}
		return r
	}, s)
}

// ValidUsername reports whether name is nonempty, at most max bytes, and
// restricted to [A-Za-z0-9_].
func ValidUsername(name string, max int) bool {
	if name == "" || len(name) > max {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}

// ValidSubject reports whether subject is nonempty and at most max bytes.
func ValidSubject(subject string, max int) bool {
	return subject != "" && len(subject) <= max
}

// ValidBody reports whether body is nonempty. Size is bounded only by the
// frame cap.
func ValidBody(body string) bool { return body != "" }
