package authz

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cadenzahq/clearway/pkg/identity"
	"github.com/cadenzahq/clearway/pkg/observability"
	"github.com/cadenzahq/clearway/pkg/tenants"
)

const decisionCacheSize = 4096

// Resolver evaluates access checks against a session. Checks are pure with
// two exceptions: module permission checks consult the database, and their
// results are cached per session until the session changes.
type Resolver struct {
	store   DecisionStore
	policy  *PolicyWatcher
	logger  *observability.Logger
	metrics *observability.Metrics
	cache   *lru.Cache[string, Decision]
}

// NewResolver creates a resolver. The cache holds database-backed decisions
// only; pure checks are cheap enough to rerun.
func NewResolver(store DecisionStore, policy *PolicyWatcher, logger *observability.Logger, metrics *observability.Metrics) (*Resolver, error) {
	cache, err := lru.New[string, Decision](decisionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}
	return &Resolver{store: store, policy: policy, logger: logger, metrics: metrics, cache: cache}, nil
}

// OnAuthChange drops cached decisions for the session named in the event.
// Wire this to the identity provider's subscription so role edits and
// sign-outs take effect on the next check.
func (r *Resolver) OnAuthChange(event identity.ChangeEvent) {
	prefix := event.SessionID + "|"
	for _, key := range r.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Remove(key)
		}
	}
}

// gate applies the session-level checks every access path shares. A loading
// session is pending, never denied; everything short of active denies.
func gate(session *identity.Session) (Decision, bool) {
	if session.IsLoading() {
		return pending(ReasonSessionLoading), false
	}
	switch session.AccessState {
	case identity.StateUnauthenticated:
		return deny(ReasonUnauthenticated), false
	case identity.StateNoProfile:
		return deny(ReasonNoProfile), false
	case identity.StateSuspended:
		return deny(ReasonSuspended), false
	}
	return Decision{}, true
}

// membershipFor resolves the session's authorizing membership for a tenant
func membershipFor(session *identity.Session, tenantID int64) (*tenants.Membership, Decision, bool) {
	m, ok := session.MembershipFor(tenantID)
	if !ok {
		return nil, deny(ReasonNoMembership), false
	}
	if !m.Status.Authorizing() {
		return nil, deny(ReasonMembershipInactive), false
	}
	return m, Decision{}, true
}

// CanAccessByRole checks that the session holds one of the given tenant
// roles. There is no admin shortcut here: role checks protect tenant-scoped
// surfaces and a platform admin without a membership is denied like anyone
// else.
func (r *Resolver) CanAccessByRole(session *identity.Session, tenantID int64, roles ...tenants.Role) Decision {
	if d, ok := gate(session); !ok {
		return d
	}
	m, d, ok := membershipFor(session, tenantID)
	if !ok {
		return d
	}
	for _, role := range roles {
		if m.Role == role {
			return allow(ReasonGranted)
		}
	}
	return deny(ReasonRoleMismatch)
}

// CanAccessModule checks that the session's membership grants a module. A
// membership with no explicit grant list falls back to the policy's role
// defaults.
func (r *Resolver) CanAccessModule(session *identity.Session, tenantID int64, module tenants.Module) Decision {
	if d, ok := gate(session); !ok {
		return d
	}
	m, d, ok := membershipFor(session, tenantID)
	if !ok {
		return d
	}
	if len(m.AllowedModules) > 0 {
		if m.HasModule(module) {
			return allow(ReasonGranted)
		}
		return deny(ReasonModuleNotGranted)
	}
	for _, def := range r.policy.Current().DefaultModulesFor(m.Role) {
		if def == module {
			return allow(ReasonGranted)
		}
	}
	return deny(ReasonModuleNotGranted)
}

// CanAccessContext checks a legacy context grant. A module grant of the same
// name satisfies the check; the explicit context list only matters for
// memberships that predate module grants.
func (r *Resolver) CanAccessContext(session *identity.Session, tenantID int64, c tenants.Context) Decision {
	if d, ok := gate(session); !ok {
		return d
	}
	m, d, ok := membershipFor(session, tenantID)
	if !ok {
		return d
	}
	if m.HasModule(tenants.Module(c)) {
		return allow(ReasonGranted)
	}
	if m.HasContext(c) {
		return allow(ReasonGranted)
	}
	return deny(ReasonContextNotGranted)
}

// CanAccessByModulePermission checks a fine-grained permission. The verdict
// comes from the database; a store failure denies. Platform admins pass only
// the permissions the policy's bypass list names.
func (r *Resolver) CanAccessByModulePermission(ctx context.Context, session *identity.Session, tenantID int64, perm ModulePermission) Decision {
	if !perm.Valid() {
		return deny(ReasonUnknownPermission)
	}
	if d, ok := gate(session); !ok {
		return d
	}

	if session.IsPlatformAdmin() && r.policy.Current().BypassAllows(perm) {
		return allow(ReasonAdminBypass)
	}

	if _, d, ok := membershipFor(session, tenantID); !ok {
		return d
	}

	key := fmt.Sprintf("%s|%d|%s", session.ID, tenantID, perm)
	if cached, ok := r.cache.Get(key); ok {
		if r.metrics != nil {
			r.metrics.DecisionCacheHits.WithLabelValues("module_permission").Inc()
		}
		return cached
	}
	if r.metrics != nil {
		r.metrics.DecisionCacheMisses.WithLabelValues("module_permission").Inc()
	}

	granted, err := r.store.AuthorizeModuleAccess(ctx, session.UserID, tenantID, perm)
	if err != nil {
		// Fail closed. Store errors are never cached so a recovered
		// database clears the denial on the next check.
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id":    session.UserID,
			"tenant_id":  tenantID,
			"permission": perm,
		}).Error("authorization store check failed")
		return deny(ReasonStoreError)
	}

	decision := deny(ReasonPolicyDenied)
	if granted {
		decision = allow(ReasonGranted)
	}
	r.cache.Add(key, decision)
	return decision
}
