package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/kstaniek/go-chat-server/internal/logging"
)

// setupLogger builds the console handler plus the line-file handler backing
// GET_LOG, and installs the pair as the process logger.
func setupLogger(format, level, logFile string) (*slog.Logger, io.Closer, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	l, closer, err := logging.NewWithFile(format, lvl, os.Stderr, logFile)
	if err != nil {
		return nil, nil, err
	}
	l = l.With("app", "chat-server")
	logging.Set(l)
	return l, closer, nil
}
