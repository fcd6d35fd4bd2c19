package audit

import (
	"context"

	"github.com/cadenzahq/clearway/pkg/contextkeys"
)

// Logger records audit events. Record must tolerate being called from
// request goroutines: it either writes quickly or queues, and it never
// panics the caller.
type Logger interface {
	Record(ctx context.Context, event *Event) error
}

// NoopLogger discards everything
type NoopLogger struct{}

// Record discards the event
func (NoopLogger) Record(context.Context, *Event) error { return nil }

// WithLogger stores the audit logger on the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext returns the audit logger from the context, or a noop when the
// middleware has not run
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NoopLogger{}
}
