package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cadenzahq/clearway/pkg/observability"
)

// Retention prunes old audit events on a schedule
type Retention struct {
	db     *sql.DB
	logger *observability.Logger
	days   int
	cron   *cron.Cron
}

// NewRetention creates a retention job keeping the last `days` days
func NewRetention(db *sql.DB, logger *observability.Logger, days int) *Retention {
	if days <= 0 {
		days = 90
	}
	return &Retention{db: db, logger: logger, days: days}
}

// Start schedules the purge with a cron expression and begins running it
func (r *Retention) Start(schedule string) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := r.Purge(ctx); err != nil {
			r.logger.WithError(err).Error("audit retention purge failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for a running purge to finish
func (r *Retention) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Purge deletes events older than the retention window
func (r *Retention) Purge(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -r.days)
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM access_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge audit events: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		r.logger.WithFields(map[string]interface{}{
			"deleted": rows,
			"cutoff":  cutoff,
		}).Info("audit retention purge complete")
	}
	return nil
}
