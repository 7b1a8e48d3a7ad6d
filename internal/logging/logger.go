package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Attribute keys shared by the logger and the log reader.
const (
	KeyComponent = "component"
	KeyTick      = "tick"
	KeyOutcome   = "outcome"
)

// Logger writes JSON log lines through slog with a set of persistent
// attributes. It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	level  slog.Level
	closer io.Closer
	mu     *sync.Mutex
	attrs  []slog.Attr
}

// NewLogger creates a Logger that appends JSON lines to path, rotating by
// size according to rotation. An empty path logs to stderr.
//
// The level parameter controls which messages are logged:
//   - DEBUG: All messages
//   - INFO: Info, Warn, and Error messages
//   - WARN: Warn and Error messages
//   - ERROR: Only Error messages
func NewLogger(path string, level string, rotation RotationConfig) (*Logger, error) {
	if path == "" {
		return NewWriterLogger(os.Stderr, level), nil
	}

	rw, err := NewRotatingWriter(path, rotation)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := NewWriterLogger(rw, level)
	l.closer = rw
	return l, nil
}

// NewWriterLogger creates a Logger writing JSON lines to w. Closing it does
// not close w.
func NewWriterLogger(w io.Writer, level string) *Logger {
	slogLevel := parseLevel(level)
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel})
	return &Logger{
		logger: slog.New(handler),
		level:  slogLevel,
		mu:     &sync.Mutex{},
	}
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "WARNING":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a child Logger tagged with the emitting component
// (e.g. "scaler", "supervisor", "metrics").
func (l *Logger) WithComponent(name string) *Logger {
	return l.withAttr(slog.String(KeyComponent, name))
}

// WithTick returns a child Logger tagged with a tick sequence number.
func (l *Logger) WithTick(seq uint64) *Logger {
	return l.withAttr(slog.Uint64(KeyTick, seq))
}

// With returns a child Logger with arbitrary key-value attributes.
// Keys and values are provided as alternating arguments; non-string keys are
// dropped.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}

	attrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2)
	attrs = append(attrs, l.attrs...)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return l.derive(attrs)
}

func (l *Logger) withAttr(attr slog.Attr) *Logger {
	attrs := make([]slog.Attr, len(l.attrs), len(l.attrs)+1)
	copy(attrs, l.attrs)
	return l.derive(append(attrs, attr))
}

func (l *Logger) derive(attrs []slog.Attr) *Logger {
	return &Logger{
		logger: l.logger,
		level:  l.level,
		closer: l.closer,
		mu:     l.mu,
		attrs:  attrs,
	}
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level string) bool {
	return parseLevel(level) >= l.level
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

// Log logs at a level named by one of the Level constants.
func (l *Logger) Log(level string, msg string, args ...any) {
	l.log(parseLevel(level), msg, args...)
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	allArgs := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	allArgs = append(allArgs, args...)

	l.logger.Log(context.Background(), level, msg, allArgs...)
}

// Close flushes and closes the log file. Loggers writing to stderr or to a
// caller-supplied writer have nothing to close.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// NopLogger returns a Logger that discards all log output.
// Useful for testing or when logging is disabled.
func NopLogger() *Logger {
	return NewWriterLogger(io.Discard, LevelError)
}

// ParseLevel normalizes a user-supplied level string to one of the Level
// constants. Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	switch parseLevel(level) {
	case slog.LevelDebug:
		return LevelDebug
	case slog.LevelWarn:
		return LevelWarn
	case slog.LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
