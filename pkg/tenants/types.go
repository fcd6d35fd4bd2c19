package tenants

import "time"

// Tenant represents one organization on the platform
type Tenant struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Role represents tenant-level roles
type Role string

const (
	RoleOwner  Role = "owner"  // Full control including billing and membership
	RoleAdmin  Role = "admin"  // Manage members, modules, and settings
	RoleStaff  Role = "staff"  // Day-to-day licensing/publishing work
	RoleClient Role = "client" // External client with portal access only
)

// Valid reports whether the role is a known tenant role
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleStaff, RoleClient:
		return true
	}
	return false
}

// MembershipStatus gates whether a membership authorizes anything.
// Only StatusActive confers access; every other status denies regardless of
// the role value. Memberships are never hard-deleted: status transitions
// preserve the audit trail.
type MembershipStatus string

const (
	StatusActive    MembershipStatus = "active"
	StatusSuspended MembershipStatus = "suspended"
	StatusRevoked   MembershipStatus = "revoked"
	StatusPending   MembershipStatus = "pending"
	StatusDenied    MembershipStatus = "denied"
)

// Authorizing reports whether the status confers access
func (s MembershipStatus) Authorizing() bool {
	return s == StatusActive
}

// Module identifies a portal module a membership can be granted
type Module string

const (
	ModuleLicensing  Module = "licensing"
	ModulePublishing Module = "publishing"
	ModuleRoyalties  Module = "royalties"
	ModuleHelpCenter Module = "helpcenter"
)

// Context is the legacy business-context flag predating module grants
type Context string

const (
	ContextLicensing  Context = "licensing"
	ContextPublishing Context = "publishing"
)

// Membership links a user to a tenant with a role, status, and module grants
type Membership struct {
	ID              int64            `json:"id"`
	TenantID        int64            `json:"tenant_id"`
	UserID          int64            `json:"user_id"`
	Role            Role             `json:"role"`
	Status          MembershipStatus `json:"status"`
	AllowedModules  []Module         `json:"allowed_modules,omitempty"`
	AllowedContexts []Context        `json:"allowed_contexts,omitempty"`
	DefaultModule   Module           `json:"default_module,omitempty"`
	InvitedBy       *int64           `json:"invited_by,omitempty"`
	JoinedAt        time.Time        `json:"joined_at"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// HasModule reports whether the membership grants a module
func (m *Membership) HasModule(mod Module) bool {
	for _, have := range m.AllowedModules {
		if have == mod {
			return true
		}
	}
	return false
}

// HasContext reports whether the membership grants a legacy context
func (m *Membership) HasContext(c Context) bool {
	for _, have := range m.AllowedContexts {
		if have == c {
			return true
		}
	}
	return false
}

// Invitation is a tokened invite to join a tenant; accepting one creates an
// active membership
type Invitation struct {
	ID         int64      `json:"id"`
	TenantID   int64      `json:"tenant_id"`
	Email      string     `json:"email"`
	Role       Role       `json:"role"`
	Token      string     `json:"token"`
	InvitedBy  *int64     `json:"invited_by,omitempty"`
	InvitedAt  time.Time  `json:"invited_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy *int64     `json:"accepted_by,omitempty"`
}
