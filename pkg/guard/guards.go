package guard

import (
	"net/http"

	"github.com/cadenzahq/clearway/pkg/authz"
	"github.com/cadenzahq/clearway/pkg/contextkeys"
	"github.com/cadenzahq/clearway/pkg/identity"
	"github.com/cadenzahq/clearway/pkg/observability"
	"github.com/cadenzahq/clearway/pkg/scope"
	"github.com/cadenzahq/clearway/pkg/tenants"
)

// Guards is the route guard family. Every guard is stateless middleware: it
// reads the session from the context, asks the resolver, and renders the
// outcome. Guards compose; a tenant route typically stacks Scope, Auth and a
// Module or Permission guard.
type Guards struct {
	resolver *authz.Resolver
	scopes   *scope.Manager
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// New creates the guard family
func New(resolver *authz.Resolver, scopes *scope.Manager, logger *observability.Logger, metrics *observability.Metrics) *Guards {
	return &Guards{resolver: resolver, scopes: scopes, logger: logger, metrics: metrics}
}

// Auth requires an active session, nothing more
func (g *Guards) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := SessionFromContext(r.Context())

		decision := authz.Decision{Effect: authz.Allow, Reason: authz.ReasonGranted}
		switch {
		case session.IsLoading():
			decision = authz.Decision{Effect: authz.Pending, Reason: authz.ReasonSessionLoading}
		case session.AccessState == identity.StateUnauthenticated:
			decision = authz.Decision{Effect: authz.Deny, Reason: authz.ReasonUnauthenticated}
		case session.AccessState == identity.StateNoProfile:
			decision = authz.Decision{Effect: authz.Deny, Reason: authz.ReasonNoProfile}
		case session.AccessState == identity.StateSuspended:
			decision = authz.Decision{Effect: authz.Deny, Reason: authz.ReasonSuspended}
		}

		if g.render(w, r, "auth", decision) {
			next.ServeHTTP(w, r)
		}
	})
}

// Role requires one of the given tenant roles within the acting tenant
func (g *Guards) Role(roles ...tenants.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := SessionFromContext(r.Context())
			tenantID, _ := contextkeys.GetTenantID(r.Context())

			decision := g.resolver.CanAccessByRole(session, tenantID, roles...)
			if g.render(w, r, "role", decision) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// Module requires the acting tenant's membership to grant a module
func (g *Guards) Module(module tenants.Module) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := SessionFromContext(r.Context())
			tenantID, _ := contextkeys.GetTenantID(r.Context())

			decision := g.resolver.CanAccessModule(session, tenantID, module)
			if g.render(w, r, "module", decision) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// Permission requires a fine-grained module permission
func (g *Guards) Permission(perm authz.ModulePermission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := SessionFromContext(r.Context())
			tenantID, _ := contextkeys.GetTenantID(r.Context())

			decision := g.resolver.CanAccessByModulePermission(r.Context(), session, tenantID, perm)
			if g.render(w, r, "permission", decision) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// LegacyContext requires a legacy context grant within the acting tenant
func (g *Guards) LegacyContext(c tenants.Context) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := SessionFromContext(r.Context())
			tenantID, _ := contextkeys.GetTenantID(r.Context())

			decision := g.resolver.CanAccessContext(session, tenantID, c)
			if g.render(w, r, "context", decision) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// Auditor admits external auditors and anyone the policy grants audit.view
// to. Auditors read the trail; they hold no tenant membership.
func (g *Guards) Auditor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := SessionFromContext(r.Context())
		tenantID, _ := contextkeys.GetTenantID(r.Context())

		decision := authz.Decision{Effect: authz.Allow, Reason: authz.ReasonGranted}
		if !session.IsAuditor() {
			decision = g.resolver.CanAccessByModulePermission(r.Context(), session, tenantID, authz.PermAuditView)
		}

		if g.render(w, r, "auditor", decision) {
			next.ServeHTTP(w, r)
		}
	})
}

// Scope enforces scope classification and cross-scope entry intents for the
// request path
func (g *Guards) Scope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		session := SessionFromContext(ctx)
		tabID := contextkeys.GetTabID(ctx)

		decision, _ := g.scopes.ValidateScopeAccess(ctx, session, tabID, r.URL.Path)

		// A rejected scope transition bounces the tab back to where it was,
		// not to an error page; the tab never sees the other scope.
		target := ""
		if decision.Effect == authz.Deny && scope.IsScopeReason(decision.Reason) {
			target = g.scopes.BounceTarget(ctx, session, tabID)
		}
		if g.renderTo(w, r, "scope", decision, target) {
			next.ServeHTTP(w, r)
		}
	})
}
