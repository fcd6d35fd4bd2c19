package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ErrProfileNotFound distinguishes "authenticated but unknown" from a store
// failure. The first maps to the no_profile state, the second fails closed.
var ErrProfileNotFound = fmt.Errorf("profile not found")

// ProfileStore loads and maintains user profiles
type ProfileStore interface {
	GetProfileBySubject(ctx context.Context, subject string) (*Profile, error)
	GetProfileByID(ctx context.Context, userID int64) (*Profile, error)
	TouchLastSeen(ctx context.Context, userID int64) error
	SetSuspended(ctx context.Context, userID int64, suspended bool) error
}

// PostgresProfileStore implements ProfileStore over PostgreSQL
type PostgresProfileStore struct {
	db *sql.DB
}

// NewPostgresProfileStore creates a new PostgreSQL-backed profile store
func NewPostgresProfileStore(db *sql.DB) *PostgresProfileStore {
	return &PostgresProfileStore{db: db}
}

const profileColumns = `id, subject, email, display_name, platform_role, suspended, capabilities, created_at, updated_at, last_seen_at`

// GetProfileBySubject retrieves a profile by its identity provider subject
func (s *PostgresProfileStore) GetProfileBySubject(ctx context.Context, subject string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE subject = $1`
	return s.scanProfile(s.db.QueryRowContext(ctx, query, subject))
}

// GetProfileByID retrieves a profile by user ID
func (s *PostgresProfileStore) GetProfileByID(ctx context.Context, userID int64) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE id = $1`
	return s.scanProfile(s.db.QueryRowContext(ctx, query, userID))
}

// TouchLastSeen records session activity on the profile row
func (s *PostgresProfileStore) TouchLastSeen(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_profiles SET last_seen_at = NOW() WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to touch last seen: %w", err)
	}
	return nil
}

// SetSuspended flips the profile suspension flag
func (s *PostgresProfileStore) SetSuspended(ctx context.Context, userID int64, suspended bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_profiles SET suspended = $1, updated_at = NOW() WHERE id = $2
	`, suspended, userID)
	if err != nil {
		return fmt.Errorf("failed to set suspended: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (s *PostgresProfileStore) scanProfile(row *sql.Row) (*Profile, error) {
	var p Profile
	var displayName sql.NullString
	var capsJSON []byte

	err := row.Scan(
		&p.UserID, &p.Subject, &p.Email, &displayName, &p.PlatformRole,
		&p.Suspended, &capsJSON, &p.CreatedAt, &p.UpdatedAt, &p.LastSeenAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}

	if displayName.Valid {
		p.DisplayName = displayName.String
	}
	if len(capsJSON) > 0 {
		if err := json.Unmarshal(capsJSON, &p.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
	}
	return &p, nil
}
