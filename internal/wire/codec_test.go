package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestCodec_RoundTrip(t *testing.T) {
	c := Codec{}
	payloads := [][]byte{
		[]byte("CONNECT;alice\n"),
		[]byte("SEND;bob;Hi;hello there\n"),
		{},
		bytes.Repeat([]byte{0xAB}, 4096),
	}
	var buf bytes.Buffer
	for _, p := range payloads {
		if err := c.WriteFrame(&buf, p); err != nil {
			t.Fatalf("WriteFrame(%d bytes): %v", len(p), err)
		}
	}
	for i, want := range payloads {
		got, err := c.ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d mismatch: got %d bytes, want %d", i, len(got), len(want))
		}
	}
	if _, err := c.ReadFrame(&buf); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed at stream end, got %v", err)
	}
}

func TestCodec_Encode(t *testing.T) {
	c := Codec{}
	out := c.Encode([]byte("PING\n"))
	if len(out) != 4+5 {
		t.Fatalf("encoded length %d, want 9", len(out))
	}
	if n := binary.BigEndian.Uint32(out[:4]); n != 5 {
		t.Fatalf("length prefix %d, want 5", n)
	}
	if string(out[4:]) != "PING\n" {
		t.Fatalf("payload mismatch: %q", out[4:])
	}
}

func TestCodec_MaxFrameBoundary(t *testing.T) {
	c := Codec{}
	var buf bytes.Buffer
	// Exactly at the cap is accepted.
	at := make([]byte, MaxFrameSize)
	if err := c.WriteFrame(&buf, at); err != nil {
		t.Fatalf("WriteFrame at cap: %v", err)
	}
	got, err := c.ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame at cap: %v", err)
	}
	if len(got) != MaxFrameSize {
		t.Fatalf("got %d bytes, want %d", len(got), MaxFrameSize)
	}
	// One past the cap is refused on write.
	over := make([]byte, MaxFrameSize+1)
	if err := c.WriteFrame(io.Discard, over); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge on write, got %v", err)
	}
	// An oversized announced length is refused on read without allocating.
	var hdr bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxFrameSize+1)
	hdr.Write(prefix[:])
	if _, err := c.ReadFrame(&hdr); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge on read, got %v", err)
	}
}

func TestCodec_TruncatedFrame(t *testing.T) {
	c := Codec{}
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 10)
	buf.Write(prefix[:])
	buf.WriteString("short")
	if _, err := c.ReadFrame(&buf); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed for truncated payload, got %v", err)
	}
}

func TestCodec_ZeroLengthFrame(t *testing.T) {
	c := Codec{}
	var buf bytes.Buffer
	if err := c.WriteFrame(&buf, nil); err != nil {
		t.Fatalf("WriteFrame empty: %v", err)
	}
	got, err := c.ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(got))
	}
}

func FuzzCodecReadFrame(f *testing.F) {
	f.Add([]byte{0, 0, 0, 0})
	f.Add([]byte{0, 0, 0, 5, 'P', 'I', 'N', 'G', '\n'})
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	f.Add([]byte{0, 0, 0, 3, 'a'})
	c := Codec{}
	f.Fuzz(func(t *testing.T, data []byte) {
		r := bytes.NewReader(data)
		for i := 0; i < 4 && r.Len() > 0; i++ {
			if _, err := c.ReadFrame(r); err != nil {
				break
			}
		}
	})
}

func BenchmarkCodec_WriteFrame(b *testing.B) {
	c := Codec{}
	payload := bytes.Repeat([]byte{'x'}, 256)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = c.WriteFrame(io.Discard, payload)
	}
}

func BenchmarkCodec_ReadFrame(b *testing.B) {
	c := Codec{}
	wire := c.Encode(bytes.Repeat([]byte{'x'}, 256))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		r := bytes.NewReader(wire)
		_, _ = c.ReadFrame(r)
	}
}
