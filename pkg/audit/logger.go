package audit

import "context"

// Logger is the interface for audit sinks
type Logger interface {
	// Record appends entry. Implementations set CreatedAt when it is zero.
	Record(ctx context.Context, entry *Entry) error

	// Close flushes and releases the sink
	Close() error
}

// Searcher queries recorded entries
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) (*Page, error)
}

// NopLogger discards every entry
type NopLogger struct{}

// Record implements Logger
func (NopLogger) Record(context.Context, *Entry) error { return nil }

// Close implements Logger
func (NopLogger) Close() error { return nil }
