package guard

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cadenzahq/clearway/pkg/contextkeys"
	"github.com/cadenzahq/clearway/pkg/identity"
	"github.com/cadenzahq/clearway/pkg/observability"
)

// SessionCookie carries the session ID between requests
const SessionCookie = "clearway_session"

// TabHeader identifies the browser tab making the request
const TabHeader = "X-Clearway-Tab"

// TenantHeader names the tenant a workspace request acts within
const TenantHeader = "X-Clearway-Tenant"

// SessionFromContext returns the resolved session. Without the session
// middleware the request is treated as anonymous, never as trusted.
func SessionFromContext(ctx context.Context) *identity.Session {
	if session, ok := ctx.Value(contextkeys.SessionKey).(*identity.Session); ok {
		return session
	}
	return identity.Anonymous()
}

// SessionMiddleware resolves the session cookie into a session and stores it
// on the request context.
//
// Three outcomes: no cookie is anonymous, a resolvable cookie is whatever
// the provider returns, and a cache failure is the loading state. Loading is
// deliberate: the identity may exist and a transient Redis blip must make
// guards hold, not deny or allow.
func SessionMiddleware(provider *identity.Provider, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if tabID := r.Header.Get(TabHeader); tabID != "" {
				ctx = contextkeys.WithTabID(ctx, tabID)
			}

			session := identity.Anonymous()
			if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
				loaded, err := provider.Load(ctx, cookie.Value)
				if err != nil {
					logger.WithError(err).Warn("session load failed")
					session = identity.Pending()
				} else {
					session = loaded
					if session.AccessState == identity.StateUnauthenticated {
						// Stale cookie for a session that no longer exists.
						// When the provider still knows why it ended, carry
						// that so the sign-in redirect can say so.
						if reason := provider.EndReason(ctx, cookie.Value); reason != "" {
							ctx = contextkeys.WithSignOutReason(ctx, reason)
						}
					}
				}
			}

			ctx = contextkeys.WithSession(ctx, session)
			if session.UserID != 0 {
				ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(session.UserID, 10))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantContextMiddleware resolves the acting tenant from the route variable
// or header and stores it on the context. Requests without a tenant pass
// through; tenant-scoped guards deny them downstream.
func TenantContextMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := mux.Vars(r)["tenantID"]
			if raw == "" {
				raw = r.Header.Get(TenantHeader)
			}
			if raw != "" {
				if tenantID, err := strconv.ParseInt(raw, 10, 64); err == nil && tenantID > 0 {
					r = r.WithContext(contextkeys.WithTenant(r.Context(), tenantID))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
