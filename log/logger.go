package log

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"

	"github.com/marketbay/client-go/core/tag"
	"github.com/marketbay/client-go/log/writer"
)

// Logger wraps a zerolog.Logger with optional token redaction and a closer
// for file-backed sinks.
type Logger struct {
	zerolog.Logger
	redact bool
	writer io.Writer
	closer io.Closer
}

func init() {
	zerolog.TimeFieldFormat = time.DateTime
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
}

// Close releases the underlying writer, if it holds resources.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// newLogger builds a Logger on top of w, applying options and wrapping the
// sink in a redacting writer when requested.
func newLogger(w io.Writer, opts ...Option) *Logger {
	logger := &Logger{
		writer: w,
		redact: true,
	}

	for _, opt := range opts {
		opt(logger)
	}

	sink := logger.writer
	if logger.redact {
		sink = NewRedactWriter(sink)
	}
	logger.Logger = zerolog.New(sink).With().Timestamp().Logger()

	// Re-apply options that touch the zerolog instance (level, caller)
	// now that it exists.
	for _, opt := range opts {
		opt(logger)
	}

	return logger
}

// New creates a Logger writing to the console.
func New(opts ...Option) *Logger {
	return newLogger(writer.Console(), opts...)
}

// NewFile creates a Logger writing to a rotating file.
func NewFile(c FileConfig, opts ...Option) (*Logger, error) {
	if err := tag.ApplyDefaults(&c); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	w, err := writer.File(c.toWriterConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create file writer: %w", err)
	}

	logger := newLogger(w, opts...)

	if closer, ok := w.(io.Closer); ok {
		logger.closer = closer
	}

	return logger, nil
}
