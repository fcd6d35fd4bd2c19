// Package guard is the route guard family: stateless middleware that turns
// access decisions into HTTP outcomes.
//
// The rendering contract is uniform across guards. Allow passes the request
// through. Pending returns 202 with Retry-After and no content; the identity
// is still loading and the client retries. Deny is exactly one 303 redirect
// to a page chosen by the denial reason, with the audit event written off
// the request path. A denied response never leaks what would have been
// served.
package guard
