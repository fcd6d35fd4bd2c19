package audit

import "context"

// MultiLogger fans one event out to several sinks. A failing sink does not
// stop the others and does not fail the caller; each sink is responsible for
// counting its own failures.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger creates a fan-out logger
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

// Record sends the event to every sink
func (l *MultiLogger) Record(ctx context.Context, event *Event) error {
	for _, sink := range l.sinks {
		// Errors are already counted and logged by the sink itself.
		_ = sink.Record(ctx, event)
	}
	return nil
}
