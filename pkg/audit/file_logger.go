package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cadenzahq/clearway/pkg/observability"
)

// FileLogger appends audit events as newline-delimited JSON. It exists for
// deployments that ship the trail to a log pipeline instead of, or alongside,
// the database sink.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	metrics *observability.Metrics
}

// NewFileLogger opens (or creates) the audit file for appending
func NewFileLogger(path string, metrics *observability.Metrics) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &FileLogger{file: file, metrics: metrics}, nil
}

// Record appends one JSON line
func (l *FileLogger) Record(_ context.Context, event *Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return l.fail(fmt.Errorf("failed to marshal event: %w", err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return l.fail(fmt.Errorf("failed to write audit event: %w", err))
	}
	if l.metrics != nil {
		l.metrics.AuditEventsTotal.WithLabelValues("file", "ok").Inc()
	}
	return nil
}

func (l *FileLogger) fail(err error) error {
	if l.metrics != nil {
		l.metrics.AuditEventsTotal.WithLabelValues("file", "error").Inc()
		l.metrics.AuditSinkFailures.WithLabelValues("file").Inc()
	}
	return err
}

// Close closes the underlying file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
