package identity

import (
	"time"

	"github.com/cadenzahq/clearway/pkg/tenants"
)

// PlatformRole is a global role independent of any tenant
type PlatformRole string

const (
	RolePlatformAdmin   PlatformRole = "platform_admin"
	RolePlatformUser    PlatformRole = "platform_user"
	RoleExternalAuditor PlatformRole = "external_auditor"
)

// Valid reports whether the role is a known platform role
func (r PlatformRole) Valid() bool {
	switch r {
	case RolePlatformAdmin, RolePlatformUser, RoleExternalAuditor:
		return true
	}
	return false
}

// AccessState is the derived account state of a session. It is a pure
// function of (authentication result, profile row, membership rows) and is
// recomputed on every refresh, never patched in place.
type AccessState string

const (
	StateLoading         AccessState = "loading"
	StateUnauthenticated AccessState = "unauthenticated"
	StateNoProfile       AccessState = "no_profile"
	StateSuspended       AccessState = "suspended"
	StateActive          AccessState = "active"
)

// Capability is a platform-level capability flag carried on the profile
type Capability string

const (
	CapManageHelp     Capability = "can_manage_help"
	CapManageTenants  Capability = "can_manage_tenants"
	CapViewAuditTrail Capability = "can_view_audit_trail"
)

// Profile is the user_profiles row for an authenticated subject
type Profile struct {
	UserID       int64        `json:"user_id"`
	Subject      string       `json:"subject"`
	Email        string       `json:"email"`
	DisplayName  string       `json:"display_name,omitempty"`
	PlatformRole PlatformRole `json:"platform_role"`
	Suspended    bool         `json:"suspended"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	LastSeenAt   *time.Time   `json:"last_seen_at,omitempty"`
}

// Session is the client-held projection of server identity state
type Session struct {
	ID           string               `json:"id"`
	UserID       int64                `json:"user_id"`
	Email        string               `json:"email"`
	PlatformRole PlatformRole         `json:"platform_role"`
	Memberships  []tenants.Membership `json:"memberships"`
	Capabilities []Capability         `json:"capabilities,omitempty"`
	AccessState  AccessState          `json:"access_state"`
	LoadedAt     time.Time            `json:"loaded_at"`
}

// Anonymous returns a session representing "no valid session"
func Anonymous() *Session {
	return &Session{AccessState: StateUnauthenticated, LoadedAt: time.Now().UTC()}
}

// Pending returns a session representing "identity data not yet available"
func Pending() *Session {
	return &Session{AccessState: StateLoading, LoadedAt: time.Now().UTC()}
}

// IsActive reports whether the session authorizes anything at all
func (s *Session) IsActive() bool {
	return s != nil && s.AccessState == StateActive
}

// IsLoading reports whether identity data is still pending
func (s *Session) IsLoading() bool {
	return s == nil || s.AccessState == StateLoading
}

// IsPlatformAdmin reports whether the session carries the platform admin role
func (s *Session) IsPlatformAdmin() bool {
	return s.IsActive() && s.PlatformRole == RolePlatformAdmin
}

// IsAuditor reports whether the session carries the external auditor role
func (s *Session) IsAuditor() bool {
	return s.IsActive() && s.PlatformRole == RoleExternalAuditor
}

// HasCapability reports whether the profile carries a capability flag
func (s *Session) HasCapability(c Capability) bool {
	if !s.IsActive() {
		return false
	}
	for _, have := range s.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// MembershipFor returns the membership for a tenant, if any
func (s *Session) MembershipFor(tenantID int64) (*tenants.Membership, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Memberships {
		if s.Memberships[i].TenantID == tenantID {
			return &s.Memberships[i], true
		}
	}
	return nil, false
}

// ActiveMemberships returns only memberships whose status authorizes access
func (s *Session) ActiveMemberships() []tenants.Membership {
	if s == nil {
		return nil
	}
	var active []tenants.Membership
	for _, m := range s.Memberships {
		if m.Status == tenants.StatusActive {
			active = append(active, m)
		}
	}
	return active
}

// ComputeAccessState derives the access state from its inputs. Exported so
// guards and tests can verify the derivation directly.
func ComputeAccessState(authenticated bool, profile *Profile) AccessState {
	if !authenticated {
		return StateUnauthenticated
	}
	if profile == nil {
		return StateNoProfile
	}
	if profile.Suspended {
		return StateSuspended
	}
	return StateActive
}
