package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps slog.Logger with application-specific functionality
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New creates a new logger with the specified level
func New(level string) *Logger {
	return newWithWriter(level, os.Stdout, nil)
}

// NewWithWriter creates a logger that writes JSON lines to w.
func NewWithWriter(level string, w io.Writer) *Logger {
	return newWithWriter(level, w, nil)
}

// NewWithFile creates a logger that writes JSON lines to stdout and to a
// size-rotated file at path. An empty path behaves like New.
func NewWithFile(level, path string) (*Logger, error) {
	if path == "" {
		return New(level), nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	return newWithWriter(level, io.MultiWriter(os.Stdout, rotator), rotator), nil
}

// Close releases the file sink, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// With returns a child logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), closer: l.closer}
}

// Default returns a logger with default settings
func Default() *Logger {
	return New("info")
}

// ParseLevel maps a level name onto a slog level; unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newWithWriter(level string, w io.Writer, closer io.Closer) *Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	handler := slog.NewJSONHandler(w, opts)
	return &Logger{Logger: slog.New(handler), closer: closer}
}
