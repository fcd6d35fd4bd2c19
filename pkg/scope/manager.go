package scope

import (
	"context"
	"time"

	"github.com/cadenzahq/clearway/pkg/authz"
	"github.com/cadenzahq/clearway/pkg/identity"
	"github.com/cadenzahq/clearway/pkg/observability"
)

// Reason codes for scope decisions
const (
	ReasonScopeGranted  = authz.ReasonCode("scope_granted")
	ReasonNotAdmin      = authz.ReasonCode("not_platform_admin")
	ReasonNoTenant      = authz.ReasonCode("no_active_tenant_membership")
	ReasonMissingIntent = authz.ReasonCode("missing_entry_intent")
	ReasonIntentExpired = authz.ReasonCode("entry_intent_expired")
	ReasonIntentTarget  = authz.ReasonCode("entry_intent_target_mismatch")
)

// Manager enforces scope transitions. The rule it exists for: a tab cannot
// wander between the system console and tenant surfaces by URL alone. The
// crossing must be announced with a short-lived, single-use entry intent.
type Manager struct {
	classifier *Classifier
	store      StateStore
	logger     *observability.Logger
	metrics    *observability.Metrics

	// now is swappable for tests; intents expire on wall clock.
	now func() time.Time
}

// NewManager creates a scope manager
func NewManager(classifier *Classifier, store StateStore, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		classifier: classifier,
		store:      store,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Classify maps a request path to its scope
func (m *Manager) Classify(path string) Scope {
	return m.classifier.Classify(path)
}

// IsCrossScope reports whether moving between two scopes needs an entry
// intent. Only the system/organization boundary is guarded; auth, public and
// user scopes are freely reachable from anywhere.
func (m *Manager) IsCrossScope(from, to Scope) bool {
	if from == to {
		return false
	}
	switch {
	case from == ScopeSystem && to == ScopeOrganization:
		return true
	case from == ScopeOrganization && to == ScopeSystem:
		return true
	}
	return false
}

// CanAccessScope checks whether a session may occupy a scope at all,
// independent of how it got there
func (m *Manager) CanAccessScope(session *identity.Session, target Scope) authz.Decision {
	switch target {
	case ScopeAuth, ScopePublic:
		return authz.Decision{Effect: authz.Allow, Reason: ReasonScopeGranted}
	}

	if session.IsLoading() {
		return authz.Decision{Effect: authz.Pending, Reason: authz.ReasonSessionLoading}
	}
	if !session.IsActive() {
		return authz.Decision{Effect: authz.Deny, Reason: authz.ReasonUnauthenticated}
	}

	switch target {
	case ScopeSystem:
		// Auditors enter the system scope to reach the trail; what they can
		// see inside it is the permission guards' problem.
		if !session.IsPlatformAdmin() && !session.IsAuditor() {
			return authz.Decision{Effect: authz.Deny, Reason: ReasonNotAdmin}
		}
	case ScopeOrganization:
		if len(session.ActiveMemberships()) == 0 {
			return authz.Decision{Effect: authz.Deny, Reason: ReasonNoTenant}
		}
	}
	return authz.Decision{Effect: authz.Allow, Reason: ReasonScopeGranted}
}

// SetEntryIntent records a deliberate request to enter a scope from a tab.
// The intent expires in IntentTTL and is consumed by the first navigation
// that uses it; path is the landing page the intent is bound to.
func (m *Manager) SetEntryIntent(ctx context.Context, session *identity.Session, tabID string, target Scope, path string, tenantID int64) error {
	intent := EntryIntent{TargetScope: target, TargetPath: path, TenantID: tenantID, CreatedAt: m.now()}
	if err := m.store.PutIntent(ctx, session.ID, tabID, intent); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.EntryIntentsCreated.Inc()
	}
	return nil
}

// ClearEntryIntent drops any pending intent for a tab
func (m *Manager) ClearEntryIntent(ctx context.Context, session *identity.Session, tabID string) error {
	return m.store.ClearIntent(ctx, session.ID, tabID)
}

// ValidateScopeAccess decides whether a tab's navigation to path is allowed.
// The target scope comes from the path, the source scope from the tab's last
// valid position. A guarded crossing consumes the tab's entry intent
// synchronously; by the time this returns, the intent is gone whether or not
// the navigation was allowed.
func (m *Manager) ValidateScopeAccess(ctx context.Context, session *identity.Session, tabID, path string) (authz.Decision, Scope) {
	target := m.classifier.Classify(path)

	decision := m.CanAccessScope(session, target)
	if !decision.Allowed() {
		return decision, target
	}

	// Auth and public scopes are not positions; passing through them does
	// not move the tab, so a sign-in round trip cannot launder a crossing.
	if target == ScopeAuth || target == ScopePublic {
		return decision, target
	}

	from := m.lastScope(ctx, session, tabID)

	if m.IsCrossScope(from, target) {
		intent, err := m.store.TakeIntent(ctx, session.ID, tabID)
		if err != nil {
			m.logger.WithError(err).Error("failed to read entry intent")
			return m.violation(session, from, target, authz.ReasonStoreError), target
		}
		switch {
		case intent == nil:
			return m.violation(session, from, target, ReasonMissingIntent), target
		case intent.Expired(m.now()):
			if m.metrics != nil {
				m.metrics.EntryIntentsExpired.Inc()
			}
			return m.violation(session, from, target, ReasonIntentExpired), target
		case intent.TargetScope != target, !intent.Covers(path):
			// The intent opens one destination: the scope and landing path
			// it was minted for. A crossing to any other path in the scope
			// is as uninvited as one with no intent at all.
			return m.violation(session, from, target, ReasonIntentTarget), target
		}
		if m.metrics != nil {
			m.metrics.EntryIntentsConsumed.Inc()
		}
	}

	if from != target {
		if err := m.store.SetLastScope(ctx, session.ID, tabID, target); err != nil {
			m.logger.WithError(err).Error("failed to record tab scope")
		}
		if m.metrics != nil {
			m.metrics.ScopeTransitionsTotal.WithLabelValues(string(from), string(target)).Inc()
		}
	}
	return decision, target
}

// EnterSystemConsole mints an intent for the system scope and returns the
// console landing path. The caller redirects; the intent authorizes exactly
// that one navigation.
func (m *Manager) EnterSystemConsole(ctx context.Context, session *identity.Session, tabID string) (string, authz.Decision) {
	if d := m.CanAccessScope(session, ScopeSystem); !d.Allowed() {
		return "", d
	}
	if err := m.SetEntryIntent(ctx, session, tabID, ScopeSystem, "/console", 0); err != nil {
		m.logger.WithError(err).Error("failed to store entry intent")
		return "", authz.Decision{Effect: authz.Deny, Reason: authz.ReasonStoreError}
	}
	return "/console", authz.Decision{Effect: authz.Allow, Reason: ReasonScopeGranted}
}

// EnterOrganization mints an intent for a tenant surface and returns the
// landing path for that membership
func (m *Manager) EnterOrganization(ctx context.Context, session *identity.Session, tabID string, tenantID int64) (string, authz.Decision) {
	if d := m.CanAccessScope(session, ScopeOrganization); !d.Allowed() {
		return "", d
	}
	membership, ok := session.MembershipFor(tenantID)
	if !ok || !membership.Status.Authorizing() {
		return "", authz.Decision{Effect: authz.Deny, Reason: ReasonNoTenant}
	}
	landing := "/licensing"
	if membership.DefaultModule != "" {
		landing = "/" + string(membership.DefaultModule)
	}
	if err := m.SetEntryIntent(ctx, session, tabID, ScopeOrganization, landing, tenantID); err != nil {
		m.logger.WithError(err).Error("failed to store entry intent")
		return "", authz.Decision{Effect: authz.Deny, Reason: authz.ReasonStoreError}
	}
	return landing, authz.Decision{Effect: authz.Allow, Reason: ReasonScopeGranted}
}

// lastScope resolves the tab's source scope. A tab with no recorded position
// starts from the session's natural home: the console for a platform admin,
// tenant surfaces for anyone with a membership, the account page otherwise.
func (m *Manager) lastScope(ctx context.Context, session *identity.Session, tabID string) Scope {
	sc, ok, err := m.store.LastScope(ctx, session.ID, tabID)
	if err != nil {
		m.logger.WithError(err).Error("failed to read tab scope")
	}
	if ok {
		return sc
	}
	return DefaultScopeFor(session)
}

// DefaultScopeFor is the scope a fresh tab is presumed to start in
func DefaultScopeFor(session *identity.Session) Scope {
	switch {
	case session.IsPlatformAdmin(), session.IsAuditor():
		return ScopeSystem
	case len(session.ActiveMemberships()) > 0:
		return ScopeOrganization
	default:
		return ScopeUser
	}
}

// BounceTarget is where a tab lands when a navigation is rejected: the
// landing page of the scope it was last legitimately in, never an error page
func (m *Manager) BounceTarget(ctx context.Context, session *identity.Session, tabID string) string {
	switch m.lastScope(ctx, session, tabID) {
	case ScopeSystem:
		return "/console"
	case ScopeOrganization:
		if memberships := session.ActiveMemberships(); len(memberships) > 0 && memberships[0].DefaultModule != "" {
			return "/" + string(memberships[0].DefaultModule)
		}
		return "/licensing"
	case ScopeUser:
		return "/account"
	default:
		return "/auth/sign-in"
	}
}

// IsScopeReason reports whether a reason code came from scope validation
func IsScopeReason(reason authz.ReasonCode) bool {
	switch reason {
	case ReasonNotAdmin, ReasonNoTenant, ReasonMissingIntent, ReasonIntentExpired, ReasonIntentTarget:
		return true
	}
	return false
}

func (m *Manager) violation(session *identity.Session, from, to Scope, reason authz.ReasonCode) authz.Decision {
	if m.metrics != nil {
		m.metrics.ScopeViolationsTotal.WithLabelValues(string(from), string(to), string(reason)).Inc()
	}
	m.logger.WithFields(map[string]interface{}{
		"user_id": session.UserID,
		"from":    from,
		"to":      to,
		"reason":  reason,
	}).Warn("scope transition blocked")
	return authz.Decision{Effect: authz.Deny, Reason: reason}
}
