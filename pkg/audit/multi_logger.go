package audit

import (
	"context"
	"errors"
)

// MultiLogger records each entry in every sink, in order. A failing sink
// does not stop the others; all errors are joined.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger fanning out to loggers
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Record implements Logger
func (m *MultiLogger) Record(ctx context.Context, entry *Entry) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Logger
func (m *MultiLogger) Close() error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
