package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cadenzahq/clearway/pkg/audit"
	"github.com/cadenzahq/clearway/pkg/authz"
	"github.com/cadenzahq/clearway/pkg/continuity"
	"github.com/cadenzahq/clearway/pkg/guard"
	"github.com/cadenzahq/clearway/pkg/httputil"
	"github.com/cadenzahq/clearway/pkg/identity"
	"github.com/cadenzahq/clearway/pkg/observability"
	"github.com/cadenzahq/clearway/pkg/prefs"
	"github.com/cadenzahq/clearway/pkg/scope"
	"github.com/cadenzahq/clearway/pkg/tenants"
)

// TrailReader reads back the audit trail for the auditor surface. The write
// path goes through audit.Logger; reads are a separate, narrower concern.
type TrailReader interface {
	RecentEvents(ctx context.Context, limit int) ([]audit.Event, error)
}

// Deps carries everything the server needs. The server owns no stores of its
// own; every handler delegates to one of these.
type Deps struct {
	Sessions *identity.Provider
	Auth     identity.Authenticator
	Tenants  tenants.Service
	Guards   *guard.Guards
	Scopes   *scope.Manager
	Monitor  *continuity.Monitor
	Prefs    prefs.Store
	Audit    audit.Logger
	Trail    TrailReader
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Server represents our API server
type Server struct {
	router   *mux.Router
	sessions *identity.Provider
	auth     identity.Authenticator
	tenants  tenants.Service
	guards   *guard.Guards
	scopes   *scope.Manager
	monitor  *continuity.Monitor
	prefs    prefs.Store
	audit    audit.Logger
	trail    TrailReader
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		sessions: deps.Sessions,
		auth:     deps.Auth,
		tenants:  deps.Tenants,
		guards:   deps.Guards,
		scopes:   deps.Scopes,
		monitor:  deps.Monitor,
		prefs:    deps.Prefs,
		audit:    deps.Audit,
		trail:    deps.Trail,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.LoggingMiddleware(s.logger))
	s.router.Use(httputil.RecoveryMiddleware(s.logger))
	s.router.Use(audit.Middleware(s.audit))
	s.router.Use(guard.SessionMiddleware(s.sessions, s.logger))
	s.router.Use(guard.TenantContextMiddleware())

	// Authentication routes
	s.router.HandleFunc("/auth/sign-in", s.signIn).Methods("GET")
	s.router.HandleFunc("/auth/callback", s.authCallback).Methods("GET")

	// Session routes
	s.router.HandleFunc("/api/v1/session", s.getSession).Methods("GET")
	s.router.HandleFunc("/api/v1/session/refresh", s.refreshSession).Methods("POST")
	s.router.HandleFunc("/api/v1/session/sign-out", s.signOut).Methods("POST")
	s.router.HandleFunc("/api/v1/session/activity", s.recordActivity).Methods("POST")

	// Scope transition routes
	s.router.HandleFunc("/api/v1/scope/enter-console", s.enterConsole).Methods("POST")
	s.router.HandleFunc("/api/v1/scope/enter-organization", s.enterOrganization).Methods("POST")
	s.router.HandleFunc("/api/v1/scope/intent", s.clearEntryIntent).Methods("DELETE")

	// Account routes
	s.router.Handle("/api/v1/account/preferences",
		s.guards.Auth(http.HandlerFunc(s.getPreferences))).Methods("GET")
	s.router.Handle("/api/v1/account/preferences",
		s.guards.Auth(http.HandlerFunc(s.updatePreferences))).Methods("PUT")
	s.router.Handle("/api/v1/invitations/accept",
		s.guards.Auth(http.HandlerFunc(s.acceptInvitation))).Methods("POST")

	// Console administration routes
	consoleAPI := httputil.Chain(s.guards.Auth, s.guards.Permission(authz.PermConsoleAccess))
	s.router.Handle("/api/v1/console/tenants/{tenantID}/members/{userID}/status",
		consoleAPI(http.HandlerFunc(s.updateMemberStatus))).Methods("PUT")
	s.router.Handle("/api/v1/console/tenants/{tenantID}/members/{userID}/role",
		consoleAPI(http.HandlerFunc(s.updateMemberRole))).Methods("PUT")
	s.router.Handle("/api/v1/console/tenants/{tenantID}/members/{userID}/modules",
		consoleAPI(http.HandlerFunc(s.setMemberModules))).Methods("PUT")
	s.router.Handle("/api/v1/console/audit/events",
		httputil.Chain(s.guards.Auth, s.guards.Auditor)(http.HandlerFunc(s.listAuditEvents))).Methods("GET")

	// System console surface
	console := httputil.Chain(s.guards.Scope, s.guards.Auth, s.guards.Permission(authz.PermConsoleAccess))
	s.router.Handle("/console", console(s.surface("console"))).Methods("GET")
	s.router.Handle("/console/tenants", console(s.surface("console.tenants"))).Methods("GET")
	s.router.Handle("/console/audit",
		httputil.Chain(s.guards.Scope, s.guards.Auth, s.guards.Auditor)(s.surface("console.audit"))).Methods("GET")

	// Tenant workspace surfaces
	workspace := func(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
		return httputil.Chain(s.guards.Scope, s.guards.Auth, mw)
	}
	s.router.Handle("/licensing",
		workspace(s.guards.Module(tenants.ModuleLicensing))(s.surface("licensing"))).Methods("GET")
	s.router.Handle("/licensing/requests",
		workspace(s.guards.Permission(authz.PermLicensingSubmit))(s.surface("licensing.requests"))).Methods("GET", "POST")
	s.router.Handle("/licensing/manage",
		workspace(s.guards.Permission(authz.PermLicensingManage))(s.surface("licensing.manage"))).Methods("GET")
	s.router.Handle("/publishing",
		workspace(s.guards.LegacyContext(tenants.ContextPublishing))(s.surface("publishing"))).Methods("GET")
	s.router.Handle("/publishing/catalog",
		workspace(s.guards.Permission(authz.PermPublishingManage))(s.surface("publishing.catalog"))).Methods("GET")
	s.router.Handle("/royalties",
		workspace(s.guards.Module(tenants.ModuleRoyalties))(s.surface("royalties"))).Methods("GET")
	s.router.Handle("/helpcenter",
		workspace(s.guards.Module(tenants.ModuleHelpCenter))(s.surface("helpcenter"))).Methods("GET")
	s.router.Handle("/helpcenter/manage",
		workspace(s.guards.Permission(authz.PermHelpCenterManage))(s.surface("helpcenter.manage"))).Methods("GET")

	// User-scoped pages
	s.router.Handle("/account",
		httputil.Chain(s.guards.Scope, s.guards.Auth)(s.surface("account"))).Methods("GET")

	// Landing pages for denial redirects. These carry no guard beyond the
	// scope classifier treating them as auth or user scope.
	s.router.HandleFunc("/auth/complete-profile", s.staticPage("complete-profile")).Methods("GET")
	s.router.HandleFunc("/account/suspended", s.staticPage("suspended")).Methods("GET")
	s.router.HandleFunc("/denied", s.staticPage("denied")).Methods("GET")
}

// ServeHTTP delegates to the router
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// surface is a placeholder page handler. The access control layer is the
// product here; each surface just confirms which guard stack admitted you.
func (s *Server) surface(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := guard.SessionFromContext(r.Context())
		httputil.WriteSuccess(w, map[string]interface{}{
			"surface": name,
			"user_id": session.UserID,
		})
	})
}

func (s *Server) staticPage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteSuccess(w, map[string]interface{}{"page": name})
	}
}

// writeDecision renders a non-allow decision on an API endpoint. API callers
// get status codes and reasons, not the page redirects the guards issue.
func writeDecision(w http.ResponseWriter, decision authz.Decision) {
	if decision.Pending() {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusAccepted)
		return
	}
	httputil.WriteErrorMessage(w, http.StatusForbidden, string(decision.Reason))
}
