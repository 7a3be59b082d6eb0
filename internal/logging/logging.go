package logging

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Global structured logger. Initialized with a reasonable text handler.
var logger atomic.Pointer[slog.Logger]

func init() {
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Store(l)
}

// L returns the current global logger.
func L() *slog.Logger { return logger.Load() }

// Set replaces the global logger.
func Set(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// New creates a new logger with given level, format ("text" or "json"), and optional writer (defaults stderr).
func New(format string, level slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}

// NewWithFile creates a logger that writes the console handler to w and
// additionally appends bracketed plain-text lines to the file at path. The
// file records are what GET_LOG serves back to clients, so the line format is
// part of the wire contract and must stay stable.
func NewWithFile(format string, level slog.Leveler, w io.Writer, path string) (*slog.Logger, io.Closer, error) {
	console := New(format, level, w)
	if path == "" {
		return console, nopCloser{}, nil
	}
	fh, err := NewFileHandler(path, level)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(multiHandler{console.Handler(), fh}), fh, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
