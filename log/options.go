package log

import (
	"io"

	"github.com/rs/zerolog"
)

// Option configures a Logger.
type Option func(*Logger)

// WithLevel sets the log level.
func WithLevel(level zerolog.Level) Option {
	return func(l *Logger) {
		l.Logger = l.Logger.Level(level)
	}
}

// WithCaller adds caller information to every event.
func WithCaller() Option {
	return func(l *Logger) {
		l.Logger = l.Logger.With().Caller().Logger()
	}
}

// WithWriter replaces the output writer.
func WithWriter(w io.Writer) Option {
	return func(l *Logger) {
		l.writer = w
	}
}

// WithoutRedaction disables token masking. Only use this in tests.
func WithoutRedaction() Option {
	return func(l *Logger) {
		l.redact = false
	}
}
