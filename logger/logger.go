// Package logger provides the structured logging interface used by clients and
// servers, backed by zerolog.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Field is a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Logger is the structured logger every session component writes through.
// Implementations must be safe for concurrent use: accept loops, read loops
// and application goroutines all log through the same instance.
type Logger interface {
	// Debug logs a message at debug level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the entry
	Debug(msg string, fields ...Field)

	// Info logs a message at info level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the entry
	Info(msg string, fields ...Field)

	// Warn logs a message at warn level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the entry
	Warn(msg string, fields ...Field)

	// Error logs a message at error level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the entry
	Error(msg string, fields ...Field)

	// With returns a derived Logger that adds fields to every entry. The
	// receiver is unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger

	// Close flushes and releases resources owned by the logger. It is safe to
	// call multiple times.
	//
	// Returns:
	//   - An error if closing the underlying writer fails
	Close() error
}

type zerologLogger struct {
	logger zerolog.Logger
	closer io.Closer
}

// NewZerologLogger wraps l, tagging every entry with the service name and a
// timestamp and dropping entries below level.
//
// Parameters:
//   - l: The zerolog.Logger to wrap
//   - serviceName: Added as the "service" field to every entry
//   - level: Minimum level to log (e.g. zerolog.InfoLevel)
//
// Returns:
//   - A Logger writing through l
func NewZerologLogger(l zerolog.Logger, serviceName string, level zerolog.Level) Logger {
	return &zerologLogger{
		logger: l.With().Str("service", serviceName).Timestamp().Logger().Level(level),
	}
}

// NewConsoleLogger returns a Logger that writes human-readable lines to
// stderr. It is what the socketsession command uses.
//
// Parameters:
//   - serviceName: Added as the "service" field to every entry
//   - level: Minimum level to log
//
// Returns:
//   - A Logger writing to os.Stderr through zerolog.ConsoleWriter
func NewConsoleLogger(serviceName string, level zerolog.Level) Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return NewZerologLogger(zerolog.New(w), serviceName, level)
}

// NewWriterLogger returns a JSON Logger writing to w. If w is an io.Closer it
// is closed by Close.
//
// Parameters:
//   - w: Destination of the JSON lines
//   - serviceName: Added as the "service" field to every entry
//   - level: Minimum level to log
//
// Returns:
//   - A Logger writing to w
func NewWriterLogger(w io.Writer, serviceName string, level zerolog.Level) Logger {
	l := NewZerologLogger(zerolog.New(w), serviceName, level).(*zerologLogger)
	if c, ok := w.(io.Closer); ok {
		l.closer = c
	}

	return l
}

// NewNopLogger returns a Logger that discards everything. Constructors in
// this module fall back to it when no logger is supplied.
func NewNopLogger() Logger {
	return &zerologLogger{logger: zerolog.Nop()}
}

// Debug implements Logger.
func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

// Info implements Logger.
func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

// Warn implements Logger.
func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

// Error implements Logger.
func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

// With implements Logger. Derived loggers never own the underlying writer.
func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		logger: z.logger.With().Fields(toMap(fields)).Logger(),
	}
}

// Close implements Logger.
func (z *zerologLogger) Close() error {
	if z.closer == nil {
		return nil
	}

	c := z.closer
	z.closer = nil
	return c.Close()
}

func toMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}

// Err is shorthand for the "error" field.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}
