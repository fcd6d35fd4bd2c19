package scope

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/clearway/pkg/authz"
	"github.com/cadenzahq/clearway/pkg/identity"
	"github.com/cadenzahq/clearway/pkg/observability"
	"github.com/cadenzahq/clearway/pkg/tenants"
)

func newTestManager(t *testing.T) *Manager {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewManager(NewClassifier(DefaultRules()), NewMemoryStateStore(), logger, nil)
}

func adminSession() *identity.Session {
	return &identity.Session{
		ID: "sess-admin", UserID: 1,
		PlatformRole: identity.RolePlatformAdmin,
		AccessState:  identity.StateActive,
		Memberships: []tenants.Membership{
			{TenantID: 1, UserID: 1, Role: tenants.RoleOwner, Status: tenants.StatusActive, DefaultModule: tenants.ModulePublishing},
		},
	}
}

func memberSession() *identity.Session {
	return &identity.Session{
		ID: "sess-staff", UserID: 10,
		PlatformRole: identity.RolePlatformUser,
		AccessState:  identity.StateActive,
		Memberships: []tenants.Membership{
			{TenantID: 1, UserID: 10, Role: tenants.RoleStaff, Status: tenants.StatusActive},
		},
	}
}

func TestCanAccessScope(t *testing.T) {
	m := newTestManager(t)

	t.Run("public and auth need nothing", func(t *testing.T) {
		assert.True(t, m.CanAccessScope(identity.Anonymous(), ScopePublic).Allowed())
		assert.True(t, m.CanAccessScope(nil, ScopeAuth).Allowed())
	})

	t.Run("loading session is pending elsewhere", func(t *testing.T) {
		d := m.CanAccessScope(identity.Pending(), ScopeOrganization)
		assert.True(t, d.Pending())
	})

	t.Run("system scope needs platform admin", func(t *testing.T) {
		assert.True(t, m.CanAccessScope(adminSession(), ScopeSystem).Allowed())

		d := m.CanAccessScope(memberSession(), ScopeSystem)
		assert.Equal(t, authz.Deny, d.Effect)
		assert.Equal(t, ReasonNotAdmin, d.Reason)
	})

	t.Run("external auditor may enter the system scope", func(t *testing.T) {
		auditor := &identity.Session{
			ID: "sess-aud", UserID: 20,
			PlatformRole: identity.RoleExternalAuditor,
			AccessState:  identity.StateActive,
		}
		assert.True(t, m.CanAccessScope(auditor, ScopeSystem).Allowed())
	})

	t.Run("organization scope needs an active membership", func(t *testing.T) {
		assert.True(t, m.CanAccessScope(memberSession(), ScopeOrganization).Allowed())

		s := memberSession()
		s.Memberships[0].Status = tenants.StatusSuspended
		d := m.CanAccessScope(s, ScopeOrganization)
		assert.Equal(t, ReasonNoTenant, d.Reason)
	})
}

func TestIsCrossScope(t *testing.T) {
	m := newTestManager(t)

	assert.True(t, m.IsCrossScope(ScopeSystem, ScopeOrganization))
	assert.True(t, m.IsCrossScope(ScopeOrganization, ScopeSystem))

	assert.False(t, m.IsCrossScope(ScopeSystem, ScopeSystem))
	assert.False(t, m.IsCrossScope(ScopeOrganization, ScopeUser))
	assert.False(t, m.IsCrossScope(ScopeUser, ScopeSystem))
	assert.False(t, m.IsCrossScope(ScopeAuth, ScopeOrganization))
}

func TestValidateScopeAccess(t *testing.T) {
	ctx := context.Background()

	t.Run("guarded crossing without intent denies", func(t *testing.T) {
		m := newTestManager(t)
		session := adminSession()

		// Admin tab starts in system scope; tenant surface is a crossing.
		d, target := m.ValidateScopeAccess(ctx, session, "tab-1", "/licensing")
		assert.Equal(t, authz.Deny, d.Effect)
		assert.Equal(t, ReasonMissingIntent, d.Reason)
		assert.Equal(t, ScopeOrganization, target)
	})

	t.Run("intent authorizes exactly one crossing", func(t *testing.T) {
		m := newTestManager(t)
		session := adminSession()

		landing, d := m.EnterOrganization(ctx, session, "tab-1", 1)
		require.True(t, d.Allowed())
		assert.Equal(t, "/publishing", landing)

		d, _ = m.ValidateScopeAccess(ctx, session, "tab-1", landing)
		assert.True(t, d.Allowed())

		// Same-scope navigation stays free.
		d, _ = m.ValidateScopeAccess(ctx, session, "tab-1", "/licensing")
		assert.True(t, d.Allowed())

		// Crossing back needs a fresh intent.
		d, _ = m.ValidateScopeAccess(ctx, session, "tab-1", "/console")
		assert.Equal(t, ReasonMissingIntent, d.Reason)
	})

	t.Run("expired intent denies and is consumed", func(t *testing.T) {
		m := newTestManager(t)
		session := adminSession()

		_, d := m.EnterOrganization(ctx, session, "tab-1", 1)
		require.True(t, d.Allowed())

		m.now = func() time.Time { return time.Now().Add(IntentTTL + time.Second) }

		d, _ = m.ValidateScopeAccess(ctx, session, "tab-1", "/licensing")
		assert.Equal(t, ReasonIntentExpired, d.Reason)

		// The expired intent is gone, not retryable.
		d, _ = m.ValidateScopeAccess(ctx, session, "tab-1", "/licensing")
		assert.Equal(t, ReasonMissingIntent, d.Reason)
	})

	t.Run("intent for the wrong scope denies", func(t *testing.T) {
		m := newTestManager(t)
		session := adminSession()

		// Tab sits in organization scope, then asks to enter it again while
		// actually navigating to the console.
		require.NoError(t, m.store.SetLastScope(ctx, session.ID, "tab-1", ScopeOrganization))
		require.NoError(t, m.SetEntryIntent(ctx, session, "tab-1", ScopeOrganization, "/licensing", 1))

		d, _ := m.ValidateScopeAccess(ctx, session, "tab-1", "/console")
		assert.Equal(t, ReasonIntentTarget, d.Reason)
	})

	t.Run("intent is bound to its landing path", func(t *testing.T) {
		m := newTestManager(t)
		session := adminSession()

		landing, d := m.EnterOrganization(ctx, session, "tab-1", 1)
		require.True(t, d.Allowed())
		require.Equal(t, "/publishing", landing)

		// Same scope, different surface: the intent does not transfer.
		d, _ = m.ValidateScopeAccess(ctx, session, "tab-1", "/royalties")
		assert.Equal(t, authz.Deny, d.Effect)
		assert.Equal(t, ReasonIntentTarget, d.Reason)
	})

	t.Run("landing sub-paths are covered", func(t *testing.T) {
		m := newTestManager(t)
		session := adminSession()

		landing, d := m.EnterOrganization(ctx, session, "tab-1", 1)
		require.True(t, d.Allowed())

		d, _ = m.ValidateScopeAccess(ctx, session, "tab-1", landing+"/catalog")
		assert.True(t, d.Allowed())
	})

	t.Run("intents are tab scoped", func(t *testing.T) {
		m := newTestManager(t)
		session := adminSession()

		landing, d := m.EnterOrganization(ctx, session, "tab-1", 1)
		require.True(t, d.Allowed())

		d, _ = m.ValidateScopeAccess(ctx, session, "tab-2", landing)
		assert.Equal(t, ReasonMissingIntent, d.Reason)

		// tab-1's intent is untouched by tab-2's attempt.
		d, _ = m.ValidateScopeAccess(ctx, session, "tab-1", landing)
		assert.True(t, d.Allowed())
	})

	t.Run("auth and public do not move the tab", func(t *testing.T) {
		m := newTestManager(t)
		session := adminSession()

		landing, d := m.EnterOrganization(ctx, session, "tab-1", 1)
		require.True(t, d.Allowed())
		d, _ = m.ValidateScopeAccess(ctx, session, "tab-1", landing)
		require.True(t, d.Allowed())

		d, _ = m.ValidateScopeAccess(ctx, session, "tab-1", "/auth/sign-in")
		require.True(t, d.Allowed())
		d, _ = m.ValidateScopeAccess(ctx, session, "tab-1", "/about")
		require.True(t, d.Allowed())

		// Still in organization scope: console remains a guarded crossing.
		d, _ = m.ValidateScopeAccess(ctx, session, "tab-1", "/console")
		assert.Equal(t, ReasonMissingIntent, d.Reason)
	})

	t.Run("non-guarded transitions need no intent", func(t *testing.T) {
		m := newTestManager(t)
		session := memberSession()

		// Staff tab starts in organization scope; account pages are free.
		d, _ := m.ValidateScopeAccess(ctx, session, "tab-1", "/account")
		assert.True(t, d.Allowed())

		d, _ = m.ValidateScopeAccess(ctx, session, "tab-1", "/royalties")
		assert.True(t, d.Allowed())
	})
}

func TestEnterSystemConsole(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	t.Run("admin gets intent and landing path", func(t *testing.T) {
		session := adminSession()
		require.NoError(t, m.store.SetLastScope(ctx, session.ID, "tab-1", ScopeOrganization))

		landing, d := m.EnterSystemConsole(ctx, session, "tab-1")
		require.True(t, d.Allowed())
		assert.Equal(t, "/console", landing)

		d, _ = m.ValidateScopeAccess(ctx, session, "tab-1", "/console")
		assert.True(t, d.Allowed())
	})

	t.Run("non-admin denied, no intent minted", func(t *testing.T) {
		session := memberSession()

		_, d := m.EnterSystemConsole(ctx, session, "tab-1")
		assert.Equal(t, ReasonNotAdmin, d.Reason)

		intent, err := m.store.TakeIntent(ctx, session.ID, "tab-1")
		require.NoError(t, err)
		assert.Nil(t, intent)
	})
}

func TestEnterOrganization(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	t.Run("membership without default module lands on licensing", func(t *testing.T) {
		landing, d := m.EnterOrganization(ctx, memberSession(), "tab-1", 1)
		require.True(t, d.Allowed())
		assert.Equal(t, "/licensing", landing)
	})

	t.Run("no membership for tenant denies", func(t *testing.T) {
		_, d := m.EnterOrganization(ctx, memberSession(), "tab-1", 99)
		assert.Equal(t, ReasonNoTenant, d.Reason)
	})
}

func TestDefaultScopeFor(t *testing.T) {
	assert.Equal(t, ScopeSystem, DefaultScopeFor(adminSession()))
	assert.Equal(t, ScopeOrganization, DefaultScopeFor(memberSession()))

	solo := &identity.Session{ID: "s", AccessState: identity.StateActive, PlatformRole: identity.RolePlatformUser}
	assert.Equal(t, ScopeUser, DefaultScopeFor(solo))
}

func TestBounceTarget(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	t.Run("fresh tabs bounce to the session's home", func(t *testing.T) {
		assert.Equal(t, "/console", m.BounceTarget(ctx, adminSession(), "tab-1"))
		assert.Equal(t, "/licensing", m.BounceTarget(ctx, memberSession(), "tab-1"))
	})

	t.Run("default module steers the organization landing", func(t *testing.T) {
		member := memberSession()
		member.Memberships[0].DefaultModule = tenants.ModulePublishing
		assert.Equal(t, "/publishing", m.BounceTarget(ctx, member, "tab-1"))
	})

	t.Run("recorded tab position wins over the default", func(t *testing.T) {
		member := memberSession()
		require.NoError(t, m.store.SetLastScope(ctx, member.ID, "tab-2", ScopeUser))
		assert.Equal(t, "/account", m.BounceTarget(ctx, member, "tab-2"))
	})
}
