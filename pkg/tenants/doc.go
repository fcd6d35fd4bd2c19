// Package tenants manages tenant organizations and the memberships that bind
// users to them.
//
// A membership carries a tenant role, a status, and the per-tenant module and
// context grants that the authorization layer evaluates. Only a membership in
// the active status authorizes anything; suspended, revoked, pending and
// denied rows exist so callers can distinguish "never invited" from "no longer
// welcome". Memberships are never deleted, revocation is a status transition.
//
// Invitations are token-based and single-use. Acceptance is transactional and
// row-locked so concurrent accepts of the same token create one membership.
package tenants
