package guard

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/clearway/pkg/audit"
	"github.com/cadenzahq/clearway/pkg/authz"
	"github.com/cadenzahq/clearway/pkg/contextkeys"
	"github.com/cadenzahq/clearway/pkg/continuity"
	"github.com/cadenzahq/clearway/pkg/identity"
	"github.com/cadenzahq/clearway/pkg/observability"
	"github.com/cadenzahq/clearway/pkg/scope"
	"github.com/cadenzahq/clearway/pkg/tenants"
)

type grantingStore struct{ granted bool }

func (s *grantingStore) AuthorizeModuleAccess(context.Context, int64, int64, authz.ModulePermission) (bool, error) {
	return s.granted, nil
}

type syncSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *syncSink) Record(_ context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *syncSink) all() []*audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*audit.Event(nil), s.events...)
}

func newTestGuards(t *testing.T, store authz.DecisionStore) *Guards {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	policy, err := authz.NewPolicyWatcher("", logger)
	require.NoError(t, err)
	resolver, err := authz.NewResolver(store, policy, logger, nil)
	require.NoError(t, err)
	scopes := scope.NewManager(scope.NewClassifier(scope.DefaultRules()), scope.NewMemoryStateStore(), logger, nil)
	return New(resolver, scopes, logger, nil)
}

func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte("secret content"))
	}), &called
}

func requestWith(t *testing.T, path string, session *identity.Session, tenantID int64, sink audit.Logger) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	ctx := r.Context()
	if session != nil {
		ctx = contextkeys.WithSession(ctx, session)
	}
	if tenantID != 0 {
		ctx = contextkeys.WithTenant(ctx, tenantID)
	}
	if sink != nil {
		ctx = audit.WithLogger(ctx, sink)
	}
	return r.WithContext(ctx)
}

func staffSession(status tenants.MembershipStatus, modules ...tenants.Module) *identity.Session {
	return &identity.Session{
		ID: "sess-1", UserID: 10,
		PlatformRole: identity.RolePlatformUser,
		AccessState:  identity.StateActive,
		Memberships: []tenants.Membership{
			{TenantID: 1, UserID: 10, Role: tenants.RoleStaff, Status: status, AllowedModules: modules},
		},
	}
}

func TestAuthGuard(t *testing.T) {
	g := newTestGuards(t, &grantingStore{})

	t.Run("loading session gets 202 with Retry-After and no content", func(t *testing.T) {
		next, called := okHandler()
		w := httptest.NewRecorder()
		g.Auth(next).ServeHTTP(w, requestWith(t, "/licensing", identity.Pending(), 0, nil))

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "1", w.Header().Get("Retry-After"))
		assert.Empty(t, w.Body.String())
		assert.Empty(t, w.Header().Get("Location"))
		assert.False(t, *called)
	})

	t.Run("missing session middleware is anonymous, not trusted", func(t *testing.T) {
		next, called := okHandler()
		w := httptest.NewRecorder()
		g.Auth(next).ServeHTTP(w, requestWith(t, "/licensing", nil, 0, nil))

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/auth/sign-in", w.Header().Get("Location"))
		assert.False(t, *called)
	})

	t.Run("denial is a single redirect with nothing else", func(t *testing.T) {
		next, called := okHandler()
		w := httptest.NewRecorder()
		g.Auth(next).ServeHTTP(w, requestWith(t, "/licensing", identity.Anonymous(), 0, nil))

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/auth/sign-in", w.Header().Get("Location"))
		assert.NotContains(t, w.Body.String(), "secret")
		assert.False(t, *called)
	})

	t.Run("idle-expired session redirect names the reason", func(t *testing.T) {
		next, called := okHandler()
		w := httptest.NewRecorder()
		r := requestWith(t, "/licensing", identity.Anonymous(), 0, nil)
		r = r.WithContext(contextkeys.WithSignOutReason(r.Context(), continuity.SignOutReasonIdle))
		g.Auth(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/auth/sign-in?reason=inactivity", w.Header().Get("Location"))
		assert.False(t, *called)
	})

	t.Run("suspended account redirects to the suspension page", func(t *testing.T) {
		next, _ := okHandler()
		w := httptest.NewRecorder()
		s := &identity.Session{ID: "s", UserID: 10, AccessState: identity.StateSuspended}
		g.Auth(next).ServeHTTP(w, requestWith(t, "/licensing", s, 0, nil))

		assert.Equal(t, "/account/suspended", w.Header().Get("Location"))
	})

	t.Run("active session passes", func(t *testing.T) {
		next, called := okHandler()
		w := httptest.NewRecorder()
		g.Auth(next).ServeHTTP(w, requestWith(t, "/licensing", staffSession(tenants.StatusActive), 0, nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, *called)
	})
}

func TestModuleGuard(t *testing.T) {
	g := newTestGuards(t, &grantingStore{})

	t.Run("granted module passes", func(t *testing.T) {
		next, called := okHandler()
		w := httptest.NewRecorder()
		session := staffSession(tenants.StatusActive, tenants.ModuleLicensing)
		g.Module(tenants.ModuleLicensing)(next).ServeHTTP(w, requestWith(t, "/licensing", session, 1, nil))

		assert.True(t, *called)
	})

	t.Run("suspended membership denies even with the module granted", func(t *testing.T) {
		next, called := okHandler()
		w := httptest.NewRecorder()
		session := staffSession(tenants.StatusSuspended, tenants.ModuleLicensing)
		g.Module(tenants.ModuleLicensing)(next).ServeHTTP(w, requestWith(t, "/licensing", session, 1, nil))

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, deniedPath, w.Header().Get("Location"))
		assert.False(t, *called)
	})

	t.Run("missing tenant context denies", func(t *testing.T) {
		next, called := okHandler()
		w := httptest.NewRecorder()
		session := staffSession(tenants.StatusActive, tenants.ModuleLicensing)
		g.Module(tenants.ModuleLicensing)(next).ServeHTTP(w, requestWith(t, "/licensing", session, 0, nil))

		assert.False(t, *called)
	})
}

func TestRoleGuard(t *testing.T) {
	g := newTestGuards(t, &grantingStore{})

	next, called := okHandler()
	w := httptest.NewRecorder()
	g.Role(tenants.RoleOwner, tenants.RoleAdmin)(next).ServeHTTP(w,
		requestWith(t, "/licensing/settings", staffSession(tenants.StatusActive), 1, nil))

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.False(t, *called)

	w = httptest.NewRecorder()
	g.Role(tenants.RoleStaff)(next).ServeHTTP(w,
		requestWith(t, "/licensing/settings", staffSession(tenants.StatusActive), 1, nil))
	assert.True(t, *called)
}

func TestPermissionGuard(t *testing.T) {
	t.Run("store verdict decides", func(t *testing.T) {
		g := newTestGuards(t, &grantingStore{granted: true})
		next, called := okHandler()
		w := httptest.NewRecorder()
		g.Permission(authz.PermLicensingManage)(next).ServeHTTP(w,
			requestWith(t, "/licensing/manage", staffSession(tenants.StatusActive), 1, nil))
		assert.True(t, *called)
	})

	t.Run("store denial redirects", func(t *testing.T) {
		g := newTestGuards(t, &grantingStore{granted: false})
		next, called := okHandler()
		w := httptest.NewRecorder()
		g.Permission(authz.PermLicensingManage)(next).ServeHTTP(w,
			requestWith(t, "/licensing/manage", staffSession(tenants.StatusActive), 1, nil))
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.False(t, *called)
	})
}

func TestAuditorGuard(t *testing.T) {
	g := newTestGuards(t, &grantingStore{})

	t.Run("external auditor passes", func(t *testing.T) {
		next, called := okHandler()
		w := httptest.NewRecorder()
		auditor := &identity.Session{
			ID: "sess-aud", UserID: 20,
			PlatformRole: identity.RoleExternalAuditor,
			AccessState:  identity.StateActive,
		}
		g.Auditor(next).ServeHTTP(w, requestWith(t, "/console/audit", auditor, 0, nil))
		assert.True(t, *called)
	})

	t.Run("ordinary staff denied", func(t *testing.T) {
		next, called := okHandler()
		w := httptest.NewRecorder()
		g.Auditor(next).ServeHTTP(w, requestWith(t, "/console/audit", staffSession(tenants.StatusActive), 1, nil))
		assert.False(t, *called)
	})
}

func TestDenialWritesAuditEvent(t *testing.T) {
	g := newTestGuards(t, &grantingStore{})
	sink := &syncSink{}

	next, _ := okHandler()
	w := httptest.NewRecorder()
	session := staffSession(tenants.StatusActive)
	g.Module(tenants.ModuleRoyalties)(next).ServeHTTP(w,
		requestWith(t, "/royalties", session, 1, sink))

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 10*time.Millisecond)

	event := sink.all()[0]
	assert.Equal(t, audit.EventAccessDenied, event.Type)
	assert.Equal(t, int64(10), event.UserID)
	assert.Equal(t, int64(1), event.TenantID)
	assert.Equal(t, "/royalties", event.Path)
	assert.Equal(t, string(authz.ReasonModuleNotGranted), event.Reason)
}

func TestScopeGuard(t *testing.T) {
	g := newTestGuards(t, &grantingStore{})
	sink := &syncSink{}

	admin := &identity.Session{
		ID: "sess-admin", UserID: 1,
		PlatformRole: identity.RolePlatformAdmin,
		AccessState:  identity.StateActive,
		Memberships: []tenants.Membership{
			{TenantID: 1, UserID: 1, Role: tenants.RoleOwner, Status: tenants.StatusActive},
		},
	}

	t.Run("cross-scope navigation without intent bounces", func(t *testing.T) {
		next, called := okHandler()
		w := httptest.NewRecorder()

		r := requestWith(t, "/licensing", admin, 1, sink)
		r = r.WithContext(contextkeys.WithTabID(r.Context(), "tab-1"))
		g.Scope(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/console", w.Header().Get("Location"), "tab bounces back to where it was")
		assert.False(t, *called)

		require.Eventually(t, func() bool { return len(sink.all()) >= 1 }, time.Second, 10*time.Millisecond)
		assert.Equal(t, audit.EventScopeViolation, sink.all()[0].Type)
	})

	t.Run("same-scope navigation passes", func(t *testing.T) {
		next, called := okHandler()
		w := httptest.NewRecorder()

		r := requestWith(t, "/console/tenants", admin, 0, nil)
		r = r.WithContext(contextkeys.WithTabID(r.Context(), "tab-1"))
		g.Scope(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, *called)
	})
}
