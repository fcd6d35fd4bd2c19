package audit

import "time"

// EventType names what happened. Types are namespaced by the subsystem that
// emits them so the trail can be filtered without parsing details.
type EventType string

const (
	EventSignIn  EventType = "auth.sign_in"
	EventSignOut EventType = "auth.sign_out"

	EventAccessDenied EventType = "authz.access_denied"

	EventScopeEnter     EventType = "scope.enter"
	EventScopeViolation EventType = "scope.violation"

	EventIdleWarning EventType = "session.idle_warning"
	EventIdleExpiry  EventType = "session.idle_expiry"

	EventMembershipUpdated  EventType = "admin.membership_updated"
	EventInvitationAccepted EventType = "admin.invitation_accepted"
)

// Event is one audit trail record. Events are observations, not controls:
// nothing reads them back to make a decision, so recording can be
// best-effort without weakening enforcement.
type Event struct {
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Type          EventType              `json:"type"`
	At            time.Time              `json:"at"`
	UserID        int64                  `json:"user_id,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	TenantID      int64                  `json:"tenant_id,omitempty"`
	TabID         string                 `json:"tab_id,omitempty"`
	RequestID     string                 `json:"request_id,omitempty"`
	Path          string                 `json:"path,omitempty"`
	Effect        string                 `json:"effect,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}
