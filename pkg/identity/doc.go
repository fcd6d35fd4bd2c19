// Package identity owns sessions and the access state derived from them.
//
// A session is a whole-value projection of the profile row and membership
// rows at a point in time. It is rebuilt on sign-in and on every refresh and
// replaced atomically; nothing edits a live session, so a half-updated
// identity can never authorize anything. The access state (loading,
// unauthenticated, no_profile, suspended, active) is a pure function of the
// authentication result and profile row, and only active authorizes.
//
// Sessions live in Redis so every instance sees the same state. Auth changes
// fan out to in-process subscribers, which is how the authorization layer
// learns to drop its cached decisions.
package identity
