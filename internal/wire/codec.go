package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/kstaniek/go-chat-server/internal/metrics"
)

// MaxFrameSize is the hard cap on a frame payload (10 MiB).
const MaxFrameSize = 10 * 1024 * 1024

// lenPrefixSize is the big-endian unsigned length prefix on every frame.
const lenPrefixSize = 4

// ErrConnectionClosed is returned when the peer closed or the stream ended
// mid-frame.
var ErrConnectionClosed = errors.New("wire: connection closed")

// ErrFrameTooLarge is returned when a frame length exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: frame too large")

// Codec frames payloads as 4-byte big-endian length + payload bytes. It never
// interprets payload content. Stateless and safe for concurrent use, though
// concurrent writers to one conn must serialize externally.
type Codec struct{}

// Encode returns the wire representation of payload.
func (Codec) Encode(payload []byte) []byte {
	buf := make([]byte, lenPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:lenPrefixSize], uint32(len(payload)))
	copy(buf[lenPrefixSize:], payload)
	return buf
}

// WriteFrame writes one frame to w as a single Write call, so a frame is
// all-or-nothing from the caller's point of view. Peer-close surfaces as
// ErrConnectionClosed; Go's net stack never raises SIGPIPE for it.
func (c Codec) WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, len(payload))
	}
	if _, err := w.Write(c.Encode(payload)); err != nil {
		if isClosed(err) {
			return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		return fmt.Errorf("wire write: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame from r. A zero-length frame returns an
// empty payload; the grammar layer drops it.
func (Codec) ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [lenPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if isClosed(err) {
			return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		return nil, fmt.Errorf("wire read prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		metrics.IncMalformed()
		return nil, fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		metrics.IncMalformed()
		if isClosed(err) {
			return nil, fmt.Errorf("%w: truncated frame: %v", ErrConnectionClosed, err)
		}
		return nil, fmt.Errorf("wire read payload: %w", err)
	}
	return payload, nil
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
