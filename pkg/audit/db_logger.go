package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cadenzahq/clearway/pkg/observability"
)

// DBLogger writes audit events through the record_access_event stored
// procedure. The procedure owns the table layout and retention indexes;
// clearway never writes the table directly.
type DBLogger struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) *DBLogger {
	return &DBLogger{db: db, logger: logger, metrics: metrics}
}

// NextCorrelationID asks the database for a fresh correlation ID so events
// spanning services share one trail key
func (l *DBLogger) NextCorrelationID(ctx context.Context) (string, error) {
	var id string
	if err := l.db.QueryRowContext(ctx, `SELECT next_correlation_id()`).Scan(&id); err != nil {
		return "", fmt.Errorf("next_correlation_id failed: %w", err)
	}
	return id, nil
}

// Record writes the event via record_access_event
func (l *DBLogger) Record(ctx context.Context, event *Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	var details []byte
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return l.fail(fmt.Errorf("failed to marshal details: %w", err))
		}
	}

	_, err := l.db.ExecContext(ctx,
		`SELECT record_access_event($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.CorrelationID, string(event.Type), event.At,
		nullableID(event.UserID), event.SessionID, nullableID(event.TenantID),
		event.TabID, event.Path, event.Effect, event.Reason, details,
	)
	if err != nil {
		return l.fail(fmt.Errorf("record_access_event failed: %w", err))
	}

	if l.metrics != nil {
		l.metrics.AuditEventsTotal.WithLabelValues("db", "ok").Inc()
	}
	return nil
}

// RecentEvents returns the newest trail entries, for the auditor surface
func (l *DBLogger) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT correlation_id, event_type, occurred_at, user_id, session_id,
		       tenant_id, tab_id, path, effect, reason, details
		FROM access_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var userID, tenantID sql.NullInt64
		var correlationID, sessionID, tabID, path, effect, reason sql.NullString
		var details []byte
		if err := rows.Scan(&correlationID, &e.Type, &e.At, &userID, &sessionID,
			&tenantID, &tabID, &path, &effect, &reason, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.CorrelationID = correlationID.String
		e.UserID = userID.Int64
		e.SessionID = sessionID.String
		e.TenantID = tenantID.Int64
		e.TabID = tabID.String
		e.Path = path.String
		e.Effect = effect.String
		e.Reason = reason.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (l *DBLogger) fail(err error) error {
	if l.metrics != nil {
		l.metrics.AuditEventsTotal.WithLabelValues("db", "error").Inc()
		l.metrics.AuditSinkFailures.WithLabelValues("db").Inc()
	}
	l.logger.WithError(err).Error("audit db write failed")
	return err
}

func nullableID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}
