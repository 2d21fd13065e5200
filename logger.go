package marquee

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZeroLogger implements Logger on top of zerolog.
type ZeroLogger struct {
	zlog zerolog.Logger
}

var _ Logger = (*ZeroLogger)(nil)

// NewZeroLogger writes to stderr at level. Pretty output uses the zerolog
// console writer, otherwise one JSON object per line is emitted.
func NewZeroLogger(level string, pretty bool) *ZeroLogger {
	return NewZeroLoggerWithWriter(os.Stderr, level, pretty)
}

// NewZeroLoggerWithWriter is NewZeroLogger with an explicit destination.
func NewZeroLoggerWithWriter(w io.Writer, level string, pretty bool) *ZeroLogger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	zLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		zLevel = zerolog.InfoLevel
	}

	l := zerolog.New(w).With().Timestamp().Str("component", "marquee").Logger().Level(zLevel)
	return &ZeroLogger{zlog: l}
}

// NewSimpleLogger returns a human readable debug-level console logger.
func NewSimpleLogger() *ZeroLogger {
	return NewZeroLogger("debug", true)
}

// Zerolog exposes the wrapped logger.
func (l *ZeroLogger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Debug logs at debug level.
func (l *ZeroLogger) Debug(msg string, keysAndValues ...any) {
	write(l.zlog.Debug(), msg, keysAndValues)
}

// Info logs at info level.
func (l *ZeroLogger) Info(msg string, keysAndValues ...any) {
	write(l.zlog.Info(), msg, keysAndValues)
}

// Warn logs at warn level.
func (l *ZeroLogger) Warn(msg string, keysAndValues ...any) {
	write(l.zlog.Warn(), msg, keysAndValues)
}

// Error logs at error level.
func (l *ZeroLogger) Error(msg string, keysAndValues ...any) {
	write(l.zlog.Error(), msg, keysAndValues)
}

func write(e *zerolog.Event, msg string, keysAndValues []any) {
	if e == nil {
		return
	}
	if len(keysAndValues)%2 == 1 {
		keysAndValues = append(keysAndValues, "(MISSING)")
	}
	e.Fields(keysAndValues).Msg(msg)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards everything.
func NopLogger() Logger {
	return nopLogger{}
}
