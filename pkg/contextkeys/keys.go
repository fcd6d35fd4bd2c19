// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/cadenzahq/clearway/pkg/contextkeys"
//   ctx = context.WithValue(ctx, contextkeys.SessionKey, session)
//   session := ctx.Value(contextkeys.SessionKey).(*identity.Session)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *identity.Session
	// Set by: guard.SessionMiddleware (pkg/guard/session.go)
	// Required by: All guards, scope manager, portal handlers
	// Type: *identity.Session
	SessionKey Key = "session"

	// TenantKey contains the tenant identifier for workspace-scoped requests
	// Set by: guard.TenantContextMiddleware (pkg/guard/session.go)
	// Required by: Module guards, context guards
	// Type: int64
	TenantKey Key = "tenant"

	// TabIDKey contains the browser tab identifier string
	// Set by: api request middleware from the X-Clearway-Tab header
	// Used by: scope intent store, continuity monitor
	// Type: string
	TabIDKey Key = "tab_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail, correlation ids
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains user ID string
	// Set by: guard.SessionMiddleware after session resolution
	// Used by: Logger, audit trail
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// AuditLoggerKey contains audit.Logger interface
	// Set by: Audit middleware (pkg/audit/middleware.go)
	// Used by: Guards and handlers that record audit events
	// Type: audit.Logger
	AuditLoggerKey Key = "audit_logger"

	// RequestStartTimeKey contains request start timestamp
	// Set by: Audit middleware
	// Used by: Duration calculation for audit logs
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"

	// SignOutReasonKey contains why the presented cookie's session ended
	// Set by: guard.SessionMiddleware when a stale cookie resolves to nothing
	// Used by: Guard denial rendering, to annotate the sign-in redirect
	// Type: string
	SignOutReasonKey Key = "sign_out_reason"
)

// Helper functions for type-safe context operations

// WithSession adds the resolved session to the context
func WithSession(ctx context.Context, session interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// WithTenant adds the tenant identifier to the context
func WithTenant(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, TenantKey, tenantID)
}

// WithTabID adds the tab identifier to the context
func WithTabID(ctx context.Context, tabID string) context.Context {
	return context.WithValue(ctx, TabIDKey, tabID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithAuditLogger adds audit logger to the context
func WithAuditLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime interface{}) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// WithSignOutReason adds the ended session's sign-out reason to the context
func WithSignOutReason(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, SignOutReasonKey, reason)
}

// GetTenantID retrieves the tenant identifier from context
func GetTenantID(ctx context.Context) (int64, bool) {
	tenantID, ok := ctx.Value(TenantKey).(int64)
	return tenantID, ok
}

// GetTabID retrieves the tab identifier from context
func GetTabID(ctx context.Context) string {
	if tabID, ok := ctx.Value(TabIDKey).(string); ok {
		return tabID
	}
	return ""
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetSignOutReason retrieves the sign-out reason from context
func GetSignOutReason(ctx context.Context) string {
	if reason, ok := ctx.Value(SignOutReasonKey).(string); ok {
		return reason
	}
	return ""
}
