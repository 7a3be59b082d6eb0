package wire

import (
	"reflect"
	"testing"
)

func TestBuildParse_RoundTrip(t *testing.T) {
	cases := []struct {
		verb string
		args []string
	}{
		{VerbConnect, []string{"alice"}},
		{VerbSend, []string{"bob", "Hi", "hello there"}},
		{VerbPing, nil},
		{VerbUsers, []string{"alice,bob,carol"}},
		{VerbMessage, []string{"alice", "Hi", "hello", "1700000000"}},
	}
	for _, c := range cases {
		payload := Build(c.verb, c.args...)
		verb, args, ok := Parse(payload)
		if !ok {
			t.Fatalf("Parse(%q) not ok", payload)
		}
		if verb != c.verb {
			t.Fatalf("verb %q, want %q", verb, c.verb)
		}
		if len(c.args) == 0 && len(args) == 0 {
			continue
		}
		if !reflect.DeepEqual(args, c.args) {
			t.Fatalf("args %q, want %q", args, c.args)
		}
	}
}

func TestBuild_Format(t *testing.T) {
	got := string(Build(VerbSend, "bob", "Hi", "hello"))
	want := "SEND;bob;Hi;hello\n"
	if got != want {
		t.Fatalf("Build = %q, want %q", got, want)
	}
}

func TestParse_Empty(t *testing.T) {
	if _, _, ok := Parse(nil); ok {
		t.Fatal("empty payload parsed ok")
	}
	if _, _, ok := Parse([]byte("\n")); ok {
		t.Fatal("bare newline parsed ok")
	}
}

func TestParse_NoTrailingNewline(t *testing.T) {
	verb, args, ok := Parse([]byte("PONG"))
	if !ok || verb != VerbPong || len(args) != 0 {
		t.Fatalf("Parse(PONG) = %q %q %v", verb, args, ok)
	}
}

func TestParse_DelimiterInBody(t *testing.T) {
	// A body containing the delimiter splits; handlers rejoin the tail.
	_, args, ok := Parse([]byte("SEND;bob;subj;a;b;c\n"))
	if !ok {
		t.Fatal("parse failed")
	}
	if len(args) != 5 {
		t.Fatalf("expected 5 args, got %d: %q", len(args), args)
	}
}
