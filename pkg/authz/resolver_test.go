package authz

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/clearway/pkg/identity"
	"github.com/cadenzahq/clearway/pkg/observability"
	"github.com/cadenzahq/clearway/pkg/tenants"
)

type stubDecisionStore struct {
	granted bool
	err     error
	calls   int
}

func (s *stubDecisionStore) AuthorizeModuleAccess(context.Context, int64, int64, ModulePermission) (bool, error) {
	s.calls++
	return s.granted, s.err
}

func newTestResolver(t *testing.T, store DecisionStore) *Resolver {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	policy, err := NewPolicyWatcher("", logger)
	require.NoError(t, err)
	resolver, err := NewResolver(store, policy, logger, nil)
	require.NoError(t, err)
	return resolver
}

func activeSession(role tenants.Role, status tenants.MembershipStatus, modules ...tenants.Module) *identity.Session {
	return &identity.Session{
		ID:           "sess-1",
		UserID:       10,
		PlatformRole: identity.RolePlatformUser,
		AccessState:  identity.StateActive,
		Memberships: []tenants.Membership{
			{TenantID: 1, UserID: 10, Role: role, Status: status, AllowedModules: modules},
		},
	}
}

func TestSessionGate(t *testing.T) {
	resolver := newTestResolver(t, &stubDecisionStore{})

	tests := []struct {
		name    string
		session *identity.Session
		effect  Effect
		reason  ReasonCode
	}{
		{"nil session is pending", nil, Pending, ReasonSessionLoading},
		{"loading session is pending", identity.Pending(), Pending, ReasonSessionLoading},
		{"anonymous denies", identity.Anonymous(), Deny, ReasonUnauthenticated},
		{"no profile denies", &identity.Session{AccessState: identity.StateNoProfile}, Deny, ReasonNoProfile},
		{"suspended denies", &identity.Session{AccessState: identity.StateSuspended}, Deny, ReasonSuspended},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := resolver.CanAccessByRole(tt.session, 1, tenants.RoleStaff)
			assert.Equal(t, tt.effect, d.Effect)
			assert.Equal(t, tt.reason, d.Reason)

			// Every check family applies the same gate.
			d = resolver.CanAccessModule(tt.session, 1, tenants.ModuleLicensing)
			assert.Equal(t, tt.effect, d.Effect)
			d = resolver.CanAccessByModulePermission(context.Background(), tt.session, 1, PermLicensingView)
			assert.Equal(t, tt.effect, d.Effect)
		})
	}
}

func TestCanAccessByRole(t *testing.T) {
	resolver := newTestResolver(t, &stubDecisionStore{})

	t.Run("matching role allows", func(t *testing.T) {
		d := resolver.CanAccessByRole(activeSession(tenants.RoleStaff, tenants.StatusActive), 1, tenants.RoleAdmin, tenants.RoleStaff)
		assert.True(t, d.Allowed())
	})

	t.Run("role mismatch denies", func(t *testing.T) {
		d := resolver.CanAccessByRole(activeSession(tenants.RoleClient, tenants.StatusActive), 1, tenants.RoleAdmin)
		assert.Equal(t, Deny, d.Effect)
		assert.Equal(t, ReasonRoleMismatch, d.Reason)
	})

	t.Run("no membership denies", func(t *testing.T) {
		d := resolver.CanAccessByRole(activeSession(tenants.RoleOwner, tenants.StatusActive), 99, tenants.RoleOwner)
		assert.Equal(t, ReasonNoMembership, d.Reason)
	})

	t.Run("inactive membership denies regardless of role", func(t *testing.T) {
		for _, status := range []tenants.MembershipStatus{
			tenants.StatusSuspended, tenants.StatusRevoked, tenants.StatusPending, tenants.StatusDenied,
		} {
			d := resolver.CanAccessByRole(activeSession(tenants.RoleOwner, status), 1, tenants.RoleOwner)
			assert.Equal(t, Deny, d.Effect, "status %s", status)
			assert.Equal(t, ReasonMembershipInactive, d.Reason)
		}
	})

	t.Run("platform admin without membership denies", func(t *testing.T) {
		s := &identity.Session{
			ID: "sess-admin", UserID: 1,
			PlatformRole: identity.RolePlatformAdmin,
			AccessState:  identity.StateActive,
		}
		d := resolver.CanAccessByRole(s, 1, tenants.RoleOwner)
		assert.Equal(t, ReasonNoMembership, d.Reason)
	})
}

func TestCanAccessModule(t *testing.T) {
	resolver := newTestResolver(t, &stubDecisionStore{})

	t.Run("explicit grant wins", func(t *testing.T) {
		d := resolver.CanAccessModule(activeSession(tenants.RoleStaff, tenants.StatusActive, tenants.ModuleRoyalties), 1, tenants.ModuleRoyalties)
		assert.True(t, d.Allowed())
	})

	t.Run("explicit grant list is exhaustive", func(t *testing.T) {
		// Staff role defaults include licensing, but the explicit list on
		// the membership overrides the defaults entirely.
		d := resolver.CanAccessModule(activeSession(tenants.RoleStaff, tenants.StatusActive, tenants.ModuleRoyalties), 1, tenants.ModuleLicensing)
		assert.Equal(t, ReasonModuleNotGranted, d.Reason)
	})

	t.Run("empty grant list falls back to role defaults", func(t *testing.T) {
		d := resolver.CanAccessModule(activeSession(tenants.RoleStaff, tenants.StatusActive), 1, tenants.ModuleLicensing)
		assert.True(t, d.Allowed())

		d = resolver.CanAccessModule(activeSession(tenants.RoleClient, tenants.StatusActive), 1, tenants.ModulePublishing)
		assert.Equal(t, ReasonModuleNotGranted, d.Reason)
	})
}

func TestCanAccessContext(t *testing.T) {
	resolver := newTestResolver(t, &stubDecisionStore{})

	t.Run("module grant satisfies matching context", func(t *testing.T) {
		d := resolver.CanAccessContext(activeSession(tenants.RoleStaff, tenants.StatusActive, tenants.ModuleLicensing), 1, tenants.ContextLicensing)
		assert.True(t, d.Allowed())
	})

	t.Run("legacy context grant still honored", func(t *testing.T) {
		s := activeSession(tenants.RoleClient, tenants.StatusActive, tenants.ModuleRoyalties)
		s.Memberships[0].AllowedContexts = []tenants.Context{tenants.ContextPublishing}
		d := resolver.CanAccessContext(s, 1, tenants.ContextPublishing)
		assert.True(t, d.Allowed())
	})

	t.Run("no grant denies", func(t *testing.T) {
		d := resolver.CanAccessContext(activeSession(tenants.RoleClient, tenants.StatusActive, tenants.ModuleRoyalties), 1, tenants.ContextLicensing)
		assert.Equal(t, ReasonContextNotGranted, d.Reason)
	})
}

func TestCanAccessByModulePermission(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown permission denies before anything else", func(t *testing.T) {
		resolver := newTestResolver(t, &stubDecisionStore{granted: true})
		d := resolver.CanAccessByModulePermission(ctx, activeSession(tenants.RoleOwner, tenants.StatusActive), 1, ModulePermission("licensing.everything"))
		assert.Equal(t, Deny, d.Effect)
		assert.Equal(t, ReasonUnknownPermission, d.Reason)
	})

	t.Run("store grant allows and is cached", func(t *testing.T) {
		store := &stubDecisionStore{granted: true}
		resolver := newTestResolver(t, store)
		session := activeSession(tenants.RoleStaff, tenants.StatusActive)

		d := resolver.CanAccessByModulePermission(ctx, session, 1, PermLicensingView)
		assert.True(t, d.Allowed())
		d = resolver.CanAccessByModulePermission(ctx, session, 1, PermLicensingView)
		assert.True(t, d.Allowed())
		assert.Equal(t, 1, store.calls)
	})

	t.Run("store denial is cached too", func(t *testing.T) {
		store := &stubDecisionStore{granted: false}
		resolver := newTestResolver(t, store)
		session := activeSession(tenants.RoleStaff, tenants.StatusActive)

		d := resolver.CanAccessByModulePermission(ctx, session, 1, PermLicensingManage)
		assert.Equal(t, ReasonPolicyDenied, d.Reason)
		resolver.CanAccessByModulePermission(ctx, session, 1, PermLicensingManage)
		assert.Equal(t, 1, store.calls)
	})

	t.Run("store error fails closed and is not cached", func(t *testing.T) {
		store := &stubDecisionStore{err: fmt.Errorf("connection refused")}
		resolver := newTestResolver(t, store)
		session := activeSession(tenants.RoleStaff, tenants.StatusActive)

		d := resolver.CanAccessByModulePermission(ctx, session, 1, PermLicensingView)
		assert.Equal(t, Deny, d.Effect)
		assert.Equal(t, ReasonStoreError, d.Reason)

		// Database comes back: next check recovers without invalidation.
		store.err = nil
		store.granted = true
		d = resolver.CanAccessByModulePermission(ctx, session, 1, PermLicensingView)
		assert.True(t, d.Allowed())
	})

	t.Run("admin bypass only for listed permissions", func(t *testing.T) {
		store := &stubDecisionStore{granted: false}
		resolver := newTestResolver(t, store)
		admin := &identity.Session{
			ID: "sess-admin", UserID: 1,
			PlatformRole: identity.RolePlatformAdmin,
			AccessState:  identity.StateActive,
		}

		// console.access is on the default bypass list.
		d := resolver.CanAccessByModulePermission(ctx, admin, 1, PermConsoleAccess)
		assert.True(t, d.Allowed())
		assert.Equal(t, ReasonAdminBypass, d.Reason)
		assert.Equal(t, 0, store.calls)

		// licensing.manage is not: the admin needs a membership like anyone.
		d = resolver.CanAccessByModulePermission(ctx, admin, 1, PermLicensingManage)
		assert.Equal(t, Deny, d.Effect)
		assert.Equal(t, ReasonNoMembership, d.Reason)
	})

	t.Run("auth change drops the session's cached decisions", func(t *testing.T) {
		store := &stubDecisionStore{granted: true}
		resolver := newTestResolver(t, store)
		session := activeSession(tenants.RoleStaff, tenants.StatusActive)

		resolver.CanAccessByModulePermission(ctx, session, 1, PermLicensingView)
		require.Equal(t, 1, store.calls)

		resolver.OnAuthChange(identity.ChangeEvent{Type: identity.ChangeRefreshed, SessionID: session.ID})

		store.granted = false
		d := resolver.CanAccessByModulePermission(ctx, session, 1, PermLicensingView)
		assert.Equal(t, Deny, d.Effect)
		assert.Equal(t, 2, store.calls)
	})
}
