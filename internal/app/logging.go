package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// NewFileLogger appends JSON log lines to path. The TUI owns the terminal,
// so the client never logs to stderr.
func NewFileLogger(path string, level zerolog.Level) (zerolog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}
	logger := zerolog.New(file).Level(level).With().Timestamp().Logger()
	return logger, file, nil
}

// NewConsoleLogger writes human readable lines, used by the server commands.
func NewConsoleLogger(w io.Writer, quiet bool) zerolog.Logger {
	level := zerolog.DebugLevel
	if quiet {
		level = zerolog.WarnLevel
	}
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
