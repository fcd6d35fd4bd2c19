// Package api provides the HTTP server for the Clearway access control portal.
//
// # Architecture
//
// The server is built on gorilla/mux. A global middleware stack resolves the
// request ID, structured logging, panic recovery, the audit sink, the session
// cookie and the acting tenant before any handler runs. Route groups then
// stack the guards they need:
//
//   - /console/**       Scope + Auth + console.access permission
//   - /console/audit    Scope + Auth + Auditor
//   - /licensing/**     Scope + Auth + module or permission guards
//   - /publishing/**    Scope + Auth + legacy context or permission guards
//   - /account/**       Scope + Auth
//   - /auth/**          no guards; classified as auth scope
//
// # API Endpoints
//
//	GET    /auth/sign-in                      - Start the OIDC flow
//	GET    /auth/callback                     - OIDC callback, mints the session
//	GET    /api/v1/session                    - Current session projection
//	POST   /api/v1/session/refresh            - Rebuild the session from stores
//	POST   /api/v1/session/sign-out           - End the session
//	POST   /api/v1/session/activity           - Session continuity heartbeat
//	POST   /api/v1/scope/enter-console        - Mint an entry intent for the console
//	POST   /api/v1/scope/enter-organization   - Mint an entry intent for a tenant
//	DELETE /api/v1/scope/intent               - Drop a pending entry intent
//	GET    /api/v1/account/preferences        - Read user preferences
//	PUT    /api/v1/account/preferences        - Update user preferences
//	POST   /api/v1/invitations/accept         - Accept a tenant invitation
//	PUT    /api/v1/console/tenants/{t}/members/{u}/status  - Admin: membership status
//	PUT    /api/v1/console/tenants/{t}/members/{u}/role    - Admin: membership role
//	PUT    /api/v1/console/tenants/{t}/members/{u}/modules - Admin: module grants
//	GET    /api/v1/console/audit/events       - Auditor: read the trail
//
// # Design Decisions
//
// Page routes and API routes render denials differently. Guards on page
// routes redirect to the page that explains the denial; API endpoints return
// status codes and reason strings so clients can branch on them.
//
// The surface handlers are placeholders. Clearway is the access control
// layer; the module applications it fronts live elsewhere and each surface
// handler only confirms which guard stack admitted the request.
package api
