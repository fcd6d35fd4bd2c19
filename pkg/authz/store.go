package authz

import (
	"context"
	"database/sql"
	"fmt"
)

// DecisionStore is the database-side authorization port. The grant logic
// lives in a stored procedure so tenant admins can be given SQL-level tools
// without a deploy; clearway treats the call as opaque and only interprets
// its verdict.
type DecisionStore interface {
	// AuthorizeModuleAccess asks the database whether a user holds a module
	// permission within a tenant.
	AuthorizeModuleAccess(ctx context.Context, userID, tenantID int64, perm ModulePermission) (bool, error)
}

// PostgresDecisionStore implements DecisionStore over PostgreSQL
type PostgresDecisionStore struct {
	db *sql.DB
}

// NewPostgresDecisionStore creates a new PostgreSQL-backed decision store
func NewPostgresDecisionStore(db *sql.DB) *PostgresDecisionStore {
	return &PostgresDecisionStore{db: db}
}

// AuthorizeModuleAccess calls the authorize_module_access procedure
func (s *PostgresDecisionStore) AuthorizeModuleAccess(ctx context.Context, userID, tenantID int64, perm ModulePermission) (bool, error) {
	var granted bool
	err := s.db.QueryRowContext(ctx,
		`SELECT authorize_module_access($1, $2, $3)`,
		userID, tenantID, string(perm),
	).Scan(&granted)
	if err != nil {
		return false, fmt.Errorf("authorize_module_access failed: %w", err)
	}
	return granted, nil
}
