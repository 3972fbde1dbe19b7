package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cryptoMultiBot/internal/ports"
	"cryptoMultiBot/internal/trace"
)

// LogLevel defines the logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string level to LogLevel.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo // Default to Info
	}
}

func (l LogLevel) zerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ZeroLogger implements the ports.Logger interface using zerolog.
type ZeroLogger struct {
	logger zerolog.Logger
}

// NewZeroLogger creates a zerolog-backed logger writing to os.Stderr.
// format is "console" for human-readable output or "json" for structured lines.
func NewZeroLogger(level LogLevel, format string) *ZeroLogger {
	return NewZeroLoggerTo(os.Stderr, level, format)
}

// NewZeroLoggerTo creates a zerolog-backed logger writing to the given writer.
func NewZeroLoggerTo(w io.Writer, level LogLevel, format string) *ZeroLogger {
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).Level(level.zerologLevel()).With().Timestamp().Logger()
	return &ZeroLogger{logger: zl}
}

func firstFields(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 && fields[0] != nil {
		return fields[0]
	}
	return nil
}

// event attaches the call fields plus any trace and span IDs carried by ctx.
func event(ctx context.Context, e *zerolog.Event, fields []map[string]interface{}) *zerolog.Event {
	return e.Fields(firstFields(fields)).Fields(trace.Fields(ctx))
}

// Debug logs a message at Debug level.
func (l *ZeroLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	event(ctx, l.logger.Debug(), fields).Msg(msg)
}

// Info logs a message at Info level.
func (l *ZeroLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	event(ctx, l.logger.Info(), fields).Msg(msg)
}

// Warn logs a message at Warning level.
func (l *ZeroLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	event(ctx, l.logger.Warn(), fields).Msg(msg)
}

// Error logs an error message at Error level.
func (l *ZeroLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	event(ctx, l.logger.Error().Err(err), fields).Msg(msg)
}

// With returns a derived logger carrying the given fields on every entry.
func (l *ZeroLogger) With(fields map[string]interface{}) ports.Logger {
	return &ZeroLogger{logger: l.logger.With().Fields(fields).Logger()}
}
