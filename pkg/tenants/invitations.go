package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ErrInvitationExpired is returned when accepting an invitation past its deadline
var ErrInvitationExpired = fmt.Errorf("invitation expired")

// CreateInvitation creates a pending invitation for a tenant
func (s *PostgresService) CreateInvitation(ctx context.Context, invitation *Invitation) error {
	if !invitation.Role.Valid() {
		return fmt.Errorf("invalid tenant role: %q", invitation.Role)
	}
	query := `
		INSERT INTO tenant_invitations (tenant_id, email, role, token, invited_by, expires_at, invited_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, invited_at
	`
	err := s.db.QueryRowContext(ctx, query,
		invitation.TenantID, invitation.Email, invitation.Role,
		invitation.Token, invitation.InvitedBy, invitation.ExpiresAt,
	).Scan(&invitation.ID, &invitation.InvitedAt)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// GetInvitation retrieves an unaccepted invitation by token
func (s *PostgresService) GetInvitation(ctx context.Context, token string) (*Invitation, error) {
	query := `
		SELECT id, tenant_id, email, role, token, invited_by, invited_at, expires_at
		FROM tenant_invitations
		WHERE token = $1 AND accepted_at IS NULL
	`
	inv := &Invitation{}
	var invitedBy sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&inv.ID, &inv.TenantID, &inv.Email, &inv.Role, &inv.Token,
		&invitedBy, &inv.InvitedAt, &inv.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	if invitedBy.Valid {
		id := invitedBy.Int64
		inv.InvitedBy = &id
	}
	return inv, nil
}

// AcceptInvitation consumes an invitation and creates the membership in one
// transaction. The invitation row is locked so two tabs racing on the same
// token produce exactly one membership.
func (s *PostgresService) AcceptInvitation(ctx context.Context, token string, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var inv Invitation
	var invitedBy sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, role, invited_by, expires_at
		FROM tenant_invitations
		WHERE token = $1 AND accepted_at IS NULL
		FOR UPDATE
	`, token).Scan(&inv.ID, &inv.TenantID, &inv.Role, &invitedBy, &inv.ExpiresAt)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock invitation: %w", err)
	}

	if time.Now().After(inv.ExpiresAt) {
		return ErrInvitationExpired
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tenant_memberships (tenant_id, user_id, role, status, invited_by, joined_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), NOW())
		ON CONFLICT (tenant_id, user_id)
		DO UPDATE SET role = EXCLUDED.role, status = EXCLUDED.status, updated_at = NOW()
	`, inv.TenantID, userID, inv.Role, StatusActive, invitedBy)
	if err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tenant_invitations SET accepted_at = NOW(), accepted_by = $2 WHERE id = $1
	`, inv.ID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark invitation accepted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RevokeInvitation deletes an unaccepted invitation
func (s *PostgresService) RevokeInvitation(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tenant_invitations WHERE id = $1 AND accepted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}
	return requireRowsAffected(result, "invitation")
}

// CleanupExpiredInvitations removes unaccepted invitations past their deadline
func (s *PostgresService) CleanupExpiredInvitations(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM tenant_invitations WHERE accepted_at IS NULL AND expires_at < NOW()
	`)
	if err != nil {
		return fmt.Errorf("failed to cleanup expired invitations: %w", err)
	}
	return nil
}
