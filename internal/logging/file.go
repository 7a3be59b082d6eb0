package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// FileHandler appends records to a log file as single plain-text lines:
//
//	[2006-01-02 15:04:05.000] [LEVEL] message key=value ...
//
// The bracketed prefix is read back verbatim by the GET_LOG verb.
type FileHandler struct {
	mu    sync.Mutex
	f     *os.File
	level slog.Leveler
	attrs []slog.Attr
}

// NewFileHandler opens (or creates) path in append mode.
func NewFileHandler(path string, level slog.Leveler) (*FileHandler, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileHandler{f: f, level: level}, nil
}

func (h *FileHandler) Enabled(_ context.Context, l slog.Level) bool {
	min := slog.LevelInfo
	if h.level != nil {
		min = h.level.Level()
	}
	return l >= min
}

func (h *FileHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(r.Time.Format("2006-01-02 15:04:05.000"))
	b.WriteString("] [")
	b.WriteString(levelString(r.Level))
	b.WriteString("] ")
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.f.WriteString(b.String())
	return err
}

func (h *FileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := &FileHandler{f: h.f, level: h.level}
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return nh
}

// WithGroup is accepted but groups are flattened in the line format.
func (h *FileHandler) WithGroup(string) slog.Handler { return h }

// Close flushes and closes the underlying file.
func (h *FileHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.f.Close()
}

func levelString(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARNING"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// multiHandler fans a record out to every wrapped handler.
type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range m {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}
