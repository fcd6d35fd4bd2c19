package authz

// Effect is the outcome of an authorization check. Pending is a real outcome,
// not a failure: identity data has not arrived yet and the caller must hold
// the request rather than deny it.
type Effect string

const (
	Allow   Effect = "allow"
	Deny    Effect = "deny"
	Pending Effect = "pending"
)

// ReasonCode explains a decision in machine-readable form. Reason codes feed
// the audit trail and the denial metrics; they never carry user-facing text.
type ReasonCode string

const (
	ReasonGranted            ReasonCode = "granted"
	ReasonAdminBypass        ReasonCode = "admin_bypass"
	ReasonSessionLoading     ReasonCode = "session_loading"
	ReasonUnauthenticated    ReasonCode = "unauthenticated"
	ReasonNoProfile          ReasonCode = "no_profile"
	ReasonSuspended          ReasonCode = "suspended"
	ReasonNoMembership       ReasonCode = "no_membership"
	ReasonMembershipInactive ReasonCode = "membership_inactive"
	ReasonRoleMismatch       ReasonCode = "role_mismatch"
	ReasonModuleNotGranted   ReasonCode = "module_not_granted"
	ReasonContextNotGranted  ReasonCode = "context_not_granted"
	ReasonUnknownPermission  ReasonCode = "unknown_permission"
	ReasonStoreError         ReasonCode = "store_error"
	ReasonPolicyDenied       ReasonCode = "policy_denied"
)

// Decision is the value every check returns. Denial is data, not an error;
// error returns are reserved for infrastructure failures, and even those
// surface to callers as a deny with ReasonStoreError.
type Decision struct {
	Effect Effect     `json:"effect"`
	Reason ReasonCode `json:"reason"`
}

// Allowed reports whether the decision grants access
func (d Decision) Allowed() bool { return d.Effect == Allow }

// Pending reports whether the decision is waiting on identity data
func (d Decision) Pending() bool { return d.Effect == Pending }

func allow(reason ReasonCode) Decision   { return Decision{Effect: Allow, Reason: reason} }
func deny(reason ReasonCode) Decision    { return Decision{Effect: Deny, Reason: reason} }
func pending(reason ReasonCode) Decision { return Decision{Effect: Pending, Reason: reason} }

// ModulePermission is a fine-grained permission within a module. The set is
// closed: a permission string outside this list is a deny, never a typo that
// silently allows.
type ModulePermission string

const (
	PermLicensingView    ModulePermission = "licensing.view"
	PermLicensingSubmit  ModulePermission = "licensing.submit"
	PermLicensingManage  ModulePermission = "licensing.manage"
	PermPublishingView   ModulePermission = "publishing.view"
	PermPublishingManage ModulePermission = "publishing.manage"
	PermRoyaltiesView    ModulePermission = "royalties.view"
	PermHelpCenterManage ModulePermission = "helpcenter.manage"
	PermConsoleAccess    ModulePermission = "console.access"
	PermAuditView        ModulePermission = "audit.view"
)

// Valid reports whether the permission is part of the closed set
func (p ModulePermission) Valid() bool {
	switch p {
	case PermLicensingView, PermLicensingSubmit, PermLicensingManage,
		PermPublishingView, PermPublishingManage, PermRoyaltiesView,
		PermHelpCenterManage, PermConsoleAccess, PermAuditView:
		return true
	}
	return false
}
