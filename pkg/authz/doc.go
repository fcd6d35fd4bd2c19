// Package authz turns sessions into access decisions.
//
// Every check returns a Decision with one of three effects. Allow and deny
// are terminal; pending means identity data has not arrived and the caller
// must hold the request. Denial is a value, not an error, and every decision
// carries a machine-readable reason code for the audit trail.
//
// Checks fail closed: an unreadable policy, an unknown permission string or
// a database failure all deny. The platform admin role has no implicit
// superpowers; the only shortcut is the policy file's explicit bypass list.
package authz
