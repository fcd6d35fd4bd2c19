package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Service is the read/write surface for tenants and memberships
type Service interface {
	GetTenant(ctx context.Context, id int64) (*Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)

	ListMembershipsByUser(ctx context.Context, userID int64) ([]Membership, error)
	GetMembership(ctx context.Context, tenantID, userID int64) (*Membership, error)
	UpdateMembershipStatus(ctx context.Context, tenantID, userID int64, status MembershipStatus) error
	UpdateMembershipRole(ctx context.Context, tenantID, userID int64, role Role) error
	SetAllowedModules(ctx context.Context, tenantID, userID int64, modules []Module) error

	CreateInvitation(ctx context.Context, invitation *Invitation) error
	GetInvitation(ctx context.Context, token string) (*Invitation, error)
	AcceptInvitation(ctx context.Context, token string, userID int64) error
	RevokeInvitation(ctx context.Context, id int64) error
	CleanupExpiredInvitations(ctx context.Context) error
}

// ErrNotFound is returned when a tenant or membership row does not exist
var ErrNotFound = fmt.Errorf("not found")

// PostgresService implements Service over PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgreSQL-backed tenant service
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// GetTenant retrieves a tenant by ID
func (s *PostgresService) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	query := `
		SELECT id, slug, name, display_name, is_active, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`
	tenant := &Tenant{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID, &tenant.Slug, &tenant.Name, &tenant.DisplayName,
		&tenant.IsActive, &tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}

// GetTenantBySlug retrieves a tenant by slug
func (s *PostgresService) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	query := `
		SELECT id, slug, name, display_name, is_active, created_at, updated_at
		FROM tenants
		WHERE slug = $1
	`
	tenant := &Tenant{}
	err := s.db.QueryRowContext(ctx, query, slug).Scan(
		&tenant.ID, &tenant.Slug, &tenant.Name, &tenant.DisplayName,
		&tenant.IsActive, &tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}

// ListMembershipsByUser retrieves all memberships for a user, every status
// included. Callers decide what an inactive membership means; the session
// builder needs suspended/pending rows to pick the right denial page.
func (s *PostgresService) ListMembershipsByUser(ctx context.Context, userID int64) ([]Membership, error) {
	query := `
		SELECT id, tenant_id, user_id, role, status, allowed_modules, allowed_contexts,
		       default_module, invited_by, joined_at, created_at, updated_at
		FROM tenant_memberships
		WHERE user_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, *m)
	}

	return memberships, rows.Err()
}

// GetMembership retrieves a specific membership
func (s *PostgresService) GetMembership(ctx context.Context, tenantID, userID int64) (*Membership, error) {
	query := `
		SELECT id, tenant_id, user_id, role, status, allowed_modules, allowed_contexts,
		       default_module, invited_by, joined_at, created_at, updated_at
		FROM tenant_memberships
		WHERE tenant_id = $1 AND user_id = $2
	`
	row := s.db.QueryRowContext(ctx, query, tenantID, userID)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMembershipStatus transitions a membership's status. Rows are never
// deleted; revocation is a status transition so the audit trail survives.
func (s *PostgresService) UpdateMembershipStatus(ctx context.Context, tenantID, userID int64, status MembershipStatus) error {
	query := `
		UPDATE tenant_memberships
		SET status = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND user_id = $3
	`
	result, err := s.db.ExecContext(ctx, query, status, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to update membership status: %w", err)
	}
	return requireRowsAffected(result, "membership")
}

// UpdateMembershipRole updates a membership's role
func (s *PostgresService) UpdateMembershipRole(ctx context.Context, tenantID, userID int64, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid tenant role: %q", role)
	}
	query := `
		UPDATE tenant_memberships
		SET role = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND user_id = $3
	`
	result, err := s.db.ExecContext(ctx, query, role, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to update membership role: %w", err)
	}
	return requireRowsAffected(result, "membership")
}

// SetAllowedModules replaces a membership's module grants
func (s *PostgresService) SetAllowedModules(ctx context.Context, tenantID, userID int64, modules []Module) error {
	modulesJSON, err := json.Marshal(modules)
	if err != nil {
		return fmt.Errorf("failed to marshal modules: %w", err)
	}
	query := `
		UPDATE tenant_memberships
		SET allowed_modules = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND user_id = $3
	`
	result, err := s.db.ExecContext(ctx, query, modulesJSON, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to set allowed modules: %w", err)
	}
	return requireRowsAffected(result, "membership")
}

func requireRowsAffected(result sql.Result, what string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s not found", what)
	}
	return nil
}

// scanMembership scans a membership from a database row
func scanMembership(scanner interface {
	Scan(dest ...interface{}) error
}) (*Membership, error) {
	var m Membership
	var modulesJSON, contextsJSON []byte
	var defaultModule sql.NullString
	var invitedBy sql.NullInt64

	err := scanner.Scan(
		&m.ID, &m.TenantID, &m.UserID, &m.Role, &m.Status,
		&modulesJSON, &contextsJSON, &defaultModule, &invitedBy,
		&m.JoinedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(modulesJSON) > 0 {
		if err := json.Unmarshal(modulesJSON, &m.AllowedModules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal allowed modules: %w", err)
		}
	}
	if len(contextsJSON) > 0 {
		if err := json.Unmarshal(contextsJSON, &m.AllowedContexts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal allowed contexts: %w", err)
		}
	}
	if defaultModule.Valid {
		m.DefaultModule = Module(defaultModule.String)
	}
	if invitedBy.Valid {
		id := invitedBy.Int64
		m.InvitedBy = &id
	}

	return &m, nil
}
