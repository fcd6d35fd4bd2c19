package prefs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cadenzahq/clearway/pkg/continuity"
)

// Preferences are a user's portal preferences. Continuity settings live here
// because the idle timeout is the user's choice within operator bounds, not
// a system constant.
type Preferences struct {
	UserID            int64     `json:"user_id"`
	IdleMinutes       int       `json:"idle_minutes"`
	ContinuityEnabled bool      `json:"continuity_enabled"`
	Density           string    `json:"density"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Bounds the idle timeout is clamped into regardless of what the row says
const (
	MinIdleMinutes = 5
	MaxIdleMinutes = 240
)

// Store reads and writes user preferences
type Store interface {
	Get(ctx context.Context, userID int64) (*Preferences, error)
	Upsert(ctx context.Context, prefs *Preferences) error
	continuity.PrefsSource
}

// PostgresStore implements Store over PostgreSQL
type PostgresStore struct {
	db          *sql.DB
	warningLead time.Duration
}

// NewPostgresStore creates a preferences store. warningLead is how far ahead
// of expiry the warning shows; it is operator configuration, not a user
// preference.
func NewPostgresStore(db *sql.DB, warningLead time.Duration) *PostgresStore {
	return &PostgresStore{db: db, warningLead: warningLead}
}

// Get retrieves a user's preferences, or defaults when none are stored
func (s *PostgresStore) Get(ctx context.Context, userID int64) (*Preferences, error) {
	prefs := &Preferences{}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, idle_minutes, continuity_enabled, density, updated_at
		FROM user_preferences
		WHERE user_id = $1
	`, userID).Scan(&prefs.UserID, &prefs.IdleMinutes, &prefs.ContinuityEnabled, &prefs.Density, &prefs.UpdatedAt)
	if err == sql.ErrNoRows {
		return &Preferences{UserID: userID, IdleMinutes: 30, ContinuityEnabled: true, Density: "comfortable"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	return prefs, nil
}

// Upsert stores a user's preferences
func (s *PostgresStore) Upsert(ctx context.Context, prefs *Preferences) error {
	if prefs.IdleMinutes < MinIdleMinutes {
		prefs.IdleMinutes = MinIdleMinutes
	}
	if prefs.IdleMinutes > MaxIdleMinutes {
		prefs.IdleMinutes = MaxIdleMinutes
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, idle_minutes, continuity_enabled, density, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET idle_minutes = EXCLUDED.idle_minutes,
		              continuity_enabled = EXCLUDED.continuity_enabled,
		              density = EXCLUDED.density,
		              updated_at = NOW()
	`, prefs.UserID, prefs.IdleMinutes, prefs.ContinuityEnabled, prefs.Density)
	if err != nil {
		return fmt.Errorf("failed to upsert preferences: %w", err)
	}
	return nil
}

// ContinuityPrefs adapts stored preferences for the continuity monitor
func (s *PostgresStore) ContinuityPrefs(ctx context.Context, userID int64) (continuity.Prefs, error) {
	prefs, err := s.Get(ctx, userID)
	if err != nil {
		return continuity.Prefs{}, err
	}
	minutes := prefs.IdleMinutes
	if minutes < MinIdleMinutes {
		minutes = MinIdleMinutes
	}
	if minutes > MaxIdleMinutes {
		minutes = MaxIdleMinutes
	}
	return continuity.Prefs{
		IdleTimeout: time.Duration(minutes) * time.Minute,
		WarningLead: s.warningLead,
		Enabled:     prefs.ContinuityEnabled,
	}, nil
}
