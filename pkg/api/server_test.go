package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/clearway/pkg/audit"
	"github.com/cadenzahq/clearway/pkg/authz"
	"github.com/cadenzahq/clearway/pkg/continuity"
	"github.com/cadenzahq/clearway/pkg/guard"
	"github.com/cadenzahq/clearway/pkg/identity"
	"github.com/cadenzahq/clearway/pkg/observability"
	"github.com/cadenzahq/clearway/pkg/prefs"
	"github.com/cadenzahq/clearway/pkg/scope"
	"github.com/cadenzahq/clearway/pkg/tenants"
)

type stubProfiles struct {
	bySubject map[string]*identity.Profile
	byID      map[int64]*identity.Profile
}

func (s *stubProfiles) GetProfileBySubject(_ context.Context, subject string) (*identity.Profile, error) {
	if p, ok := s.bySubject[subject]; ok {
		return p, nil
	}
	return nil, identity.ErrProfileNotFound
}

func (s *stubProfiles) GetProfileByID(_ context.Context, userID int64) (*identity.Profile, error) {
	if p, ok := s.byID[userID]; ok {
		return p, nil
	}
	return nil, identity.ErrProfileNotFound
}

func (s *stubProfiles) TouchLastSeen(context.Context, int64) error      { return nil }
func (s *stubProfiles) SetSuspended(context.Context, int64, bool) error { return nil }

type stubTenants struct {
	tenants.Service

	mu          sync.Mutex
	memberships map[int64][]tenants.Membership
	updates     []string
}

func (s *stubTenants) ListMembershipsByUser(_ context.Context, userID int64) ([]tenants.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memberships[userID], nil
}

func (s *stubTenants) GetMembership(_ context.Context, tenantID, userID int64) (*tenants.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.memberships[userID] {
		if s.memberships[userID][i].TenantID == tenantID {
			return &s.memberships[userID][i], nil
		}
	}
	return nil, tenants.ErrNotFound
}

func (s *stubTenants) UpdateMembershipStatus(_ context.Context, tenantID, userID int64, status tenants.MembershipStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.memberships[userID] {
		if s.memberships[userID][i].TenantID == tenantID {
			s.memberships[userID][i].Status = status
			s.updates = append(s.updates, "status")
			return nil
		}
	}
	return tenants.ErrNotFound
}

type stubAuth struct {
	claims *identity.Claims
}

func (a *stubAuth) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) {
	http.Redirect(w, r, "https://idp.example.com/authorize?state="+state, http.StatusFound)
}

func (a *stubAuth) HandleCallback(context.Context, *http.Request) (*identity.Claims, error) {
	return a.claims, nil
}

func (a *stubAuth) VerifyToken(context.Context, string) (*identity.Claims, error) {
	return a.claims, nil
}

type stubPrefs struct {
	mu    sync.Mutex
	saved map[int64]*prefs.Preferences
}

func (s *stubPrefs) Get(_ context.Context, userID int64) (*prefs.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.saved[userID]; ok {
		return p, nil
	}
	return &prefs.Preferences{UserID: userID, IdleMinutes: 30, ContinuityEnabled: true, Density: "comfortable"}, nil
}

func (s *stubPrefs) Upsert(_ context.Context, p *prefs.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = map[int64]*prefs.Preferences{}
	}
	s.saved[p.UserID] = p
	return nil
}

func (s *stubPrefs) ContinuityPrefs(context.Context, int64) (continuity.Prefs, error) {
	return continuity.Prefs{IdleTimeout: 30 * time.Minute, WarningLead: 5 * time.Minute, Enabled: true}, nil
}

type stubTrail struct{ events []audit.Event }

func (s *stubTrail) RecentEvents(context.Context, int) ([]audit.Event, error) {
	return s.events, nil
}

type grantingStore struct{ granted bool }

func (s *grantingStore) AuthorizeModuleAccess(context.Context, int64, int64, authz.ModulePermission) (bool, error) {
	return s.granted, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *recordingSink) Record(_ context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) byType(eventType audit.EventType) []*audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*audit.Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	server   *Server
	provider *identity.Provider
	redis    *miniredis.Miniredis
	tenants  *stubTenants
	sink     *recordingSink
	trail    *stubTrail
}

func newHarness(t *testing.T, granted bool) *harness {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	profiles := &stubProfiles{
		bySubject: map[string]*identity.Profile{
			"idp|admin":   {UserID: 1, Subject: "idp|admin", Email: "ops@cadenza.fm", PlatformRole: identity.RolePlatformAdmin},
			"idp|staff":   {UserID: 10, Subject: "idp|staff", Email: "staff@label.fm", PlatformRole: identity.RolePlatformUser},
			"idp|auditor": {UserID: 20, Subject: "idp|auditor", Email: "audit@ext.fm", PlatformRole: identity.RoleExternalAuditor},
		},
		byID: map[int64]*identity.Profile{},
	}
	for _, p := range profiles.bySubject {
		profiles.byID[p.UserID] = p
	}
	tenantSvc := &stubTenants{memberships: map[int64][]tenants.Membership{
		1: {{TenantID: 1, UserID: 1, Role: tenants.RoleAdmin, Status: tenants.StatusActive}},
		10: {{
			TenantID: 1, UserID: 10, Role: tenants.RoleStaff, Status: tenants.StatusActive,
			AllowedModules: []tenants.Module{tenants.ModuleLicensing},
		}},
	}}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := identity.NewRedisSessionCache(client)

	provider := identity.NewProvider(profiles, tenantSvc, cache, logger, nil, time.Hour)

	policy, err := authz.NewPolicyWatcher("", logger)
	require.NoError(t, err)
	resolver, err := authz.NewResolver(&grantingStore{granted: granted}, policy, logger, nil)
	require.NoError(t, err)
	provider.Subscribe(resolver.OnAuthChange)

	scopes := scope.NewManager(scope.NewClassifier(scope.DefaultRules()), scope.NewMemoryStateStore(), logger, nil)
	guards := guard.New(resolver, scopes, logger, nil)

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	prefsStore := &stubPrefs{}
	monitor := continuity.NewMonitor(continuity.NewMemoryBroadcast(), prefsStore, provider.SignOut, quiet, nil, 0, continuity.Prefs{
		IdleTimeout: 30 * time.Minute, WarningLead: 5 * time.Minute, Enabled: true,
	})

	sink := &recordingSink{}
	trail := &stubTrail{events: []audit.Event{{Type: audit.EventSignIn, UserID: 10}}}

	server := NewServer(Deps{
		Sessions: provider,
		Auth:     &stubAuth{claims: &identity.Claims{Subject: "idp|staff", Email: "staff@label.fm"}},
		Tenants:  tenantSvc,
		Guards:   guards,
		Scopes:   scopes,
		Monitor:  monitor,
		Prefs:    prefsStore,
		Audit:    sink,
		Trail:    trail,
		Logger:   logger,
		Metrics:  nil,
	})
	return &harness{server: server, provider: provider, redis: mr, tenants: tenantSvc, sink: sink, trail: trail}
}

func (h *harness) signIn(t *testing.T, subject string) *identity.Session {
	t.Helper()
	session, err := h.provider.SignIn(context.Background(), &identity.Claims{Subject: subject})
	require.NoError(t, err)
	return session
}

func (h *harness) do(t *testing.T, method, path string, body io.Reader, session *identity.Session, tabID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if session != nil {
		req.AddCookie(&http.Cookie{Name: guard.SessionCookie, Value: session.ID})
	}
	if tabID != "" {
		req.Header.Set(guard.TabHeader, tabID)
	}
	req.Header.Set(guard.TenantHeader, "1")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	return data
}

func TestSignInCallbackFlow(t *testing.T) {
	h := newHarness(t, true)

	rec := h.do(t, http.MethodGet, "/auth/sign-in", nil, nil, "")
	require.Equal(t, http.StatusFound, rec.Code)

	var state string
	for _, c := range rec.Result().Cookies() {
		if c.Name == oauthStateCookie {
			state = c.Value
		}
	}
	require.NotEmpty(t, state)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state="+state+"&code=abc", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: state})
	cb := httptest.NewRecorder()
	h.server.ServeHTTP(cb, req)

	require.Equal(t, http.StatusSeeOther, cb.Code)
	assert.Equal(t, "/licensing", cb.Header().Get("Location"))

	var sessionID string
	for _, c := range cb.Result().Cookies() {
		if c.Name == guard.SessionCookie {
			sessionID = c.Value
		}
	}
	require.NotEmpty(t, sessionID)
	assert.Len(t, h.sink.byType(audit.EventSignIn), 1)
}

func TestCallbackRejectsStateMismatch(t *testing.T) {
	h := newHarness(t, true)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state=forged", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "real"})
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionEndpoint(t *testing.T) {
	h := newHarness(t, true)
	session := h.signIn(t, "idp|staff")

	rec := h.do(t, http.MethodGet, "/api/v1/session", nil, session, "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, float64(10), data["user_id"])
	assert.Equal(t, string(identity.StateActive), data["access_state"])
}

func TestUnresolvableSessionHoldsRequests(t *testing.T) {
	h := newHarness(t, true)
	session := h.signIn(t, "idp|staff")

	// A cache outage must make guards hold, never deny or leak content.
	h.redis.Close()

	rec := h.do(t, http.MethodGet, "/account", nil, session, "tab-1")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Empty(t, rec.Body.String())
}

func TestCrossScopeNavigationNeedsIntent(t *testing.T) {
	h := newHarness(t, true)
	admin := h.signIn(t, "idp|admin")

	// A platform admin's fresh tab starts in the system scope. Jumping to a
	// tenant surface by URL alone is a violation and bounces the tab home.
	rec := h.do(t, http.MethodGet, "/licensing", nil, admin, "tab-1")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/console", rec.Header().Get("Location"))
	assert.NotContains(t, rec.Body.String(), "surface")
	require.Eventually(t, func() bool {
		return len(h.sink.byType(audit.EventScopeViolation)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Announcing the crossing first makes the same navigation succeed.
	enter := h.do(t, http.MethodPost, "/api/v1/scope/enter-organization",
		jsonBody(`{"tenant_id": 1}`), admin, "tab-1")
	require.Equal(t, http.StatusOK, enter.Code)
	entered := decodeData(t, enter)
	assert.Equal(t, "/licensing", entered["redirect"])
	assert.Equal(t, true, entered["fresh_start"], "landing resets client view state")

	ok := h.do(t, http.MethodGet, "/licensing", nil, admin, "tab-1")
	assert.Equal(t, http.StatusOK, ok.Code)

	// The intent was consumed; crossing back needs a new one, and the tab
	// bounces to its current home, the tenant workspace.
	back := h.do(t, http.MethodGet, "/console", nil, admin, "tab-1")
	require.Equal(t, http.StatusSeeOther, back.Code)
	assert.Equal(t, "/licensing", back.Header().Get("Location"))
}

func TestIntentIsTabScoped(t *testing.T) {
	h := newHarness(t, true)
	admin := h.signIn(t, "idp|admin")

	enter := h.do(t, http.MethodPost, "/api/v1/scope/enter-organization",
		jsonBody(`{"tenant_id": 1}`), admin, "tab-1")
	require.Equal(t, http.StatusOK, enter.Code)

	// Another tab cannot spend tab-1's intent.
	other := h.do(t, http.MethodGet, "/licensing", nil, admin, "tab-2")
	assert.Equal(t, http.StatusSeeOther, other.Code)

	ok := h.do(t, http.MethodGet, "/licensing", nil, admin, "tab-1")
	assert.Equal(t, http.StatusOK, ok.Code)
}

func TestIntentDoesNotOpenOtherSurfaces(t *testing.T) {
	h := newHarness(t, true)
	admin := h.signIn(t, "idp|admin")

	enter := h.do(t, http.MethodPost, "/api/v1/scope/enter-organization",
		jsonBody(`{"tenant_id": 1}`), admin, "tab-1")
	require.Equal(t, http.StatusOK, enter.Code)
	require.Equal(t, "/licensing", decodeData(t, enter)["redirect"])

	// The intent is bound to the landing it was minted for; it does not
	// authorize a crossing to a different tenant surface.
	rec := h.do(t, http.MethodGet, "/royalties", nil, admin, "tab-1")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/console", rec.Header().Get("Location"))
}

func TestDeepLinkToConsoleBouncesMember(t *testing.T) {
	h := newHarness(t, true)
	staff := h.signIn(t, "idp|staff")

	// A plain member deep links into the system console. They never see
	// console content, not even momentarily; the tab lands on their default
	// workspace.
	rec := h.do(t, http.MethodGet, "/console", nil, staff, "tab-1")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/licensing", rec.Header().Get("Location"))
	assert.NotContains(t, rec.Body.String(), "surface")
}

func TestModuleGuardDeniesUngrantedModule(t *testing.T) {
	h := newHarness(t, true)
	staff := h.signIn(t, "idp|staff")

	ok := h.do(t, http.MethodGet, "/licensing", nil, staff, "tab-1")
	assert.Equal(t, http.StatusOK, ok.Code)

	denied := h.do(t, http.MethodGet, "/royalties", nil, staff, "tab-1")
	require.Equal(t, http.StatusSeeOther, denied.Code)
	assert.Equal(t, "/denied", denied.Header().Get("Location"))
	assert.NotContains(t, denied.Body.String(), "surface")
}

func TestPreferencesRoundTrip(t *testing.T) {
	h := newHarness(t, true)
	staff := h.signIn(t, "idp|staff")

	put := h.do(t, http.MethodPut, "/api/v1/account/preferences",
		jsonBody(`{"idle_minutes": 45, "continuity_enabled": false, "density": "compact"}`), staff, "")
	require.Equal(t, http.StatusOK, put.Code)

	get := h.do(t, http.MethodGet, "/api/v1/account/preferences", nil, staff, "")
	require.Equal(t, http.StatusOK, get.Code)
	data := decodeData(t, get)
	assert.Equal(t, float64(45), data["idle_minutes"])
	assert.Equal(t, false, data["continuity_enabled"])
	assert.Equal(t, "compact", data["density"])
}

func TestPreferencesRejectUnknownDensity(t *testing.T) {
	h := newHarness(t, true)
	staff := h.signIn(t, "idp|staff")

	rec := h.do(t, http.MethodPut, "/api/v1/account/preferences",
		jsonBody(`{"idle_minutes": 45, "density": "cozy"}`), staff, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminMembershipUpdate(t *testing.T) {
	h := newHarness(t, true)
	admin := h.signIn(t, "idp|admin")

	rec := h.do(t, http.MethodPut, "/api/v1/console/tenants/1/members/10/status",
		jsonBody(`{"status": "suspended"}`), admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"status"}, h.tenants.updates)
	assert.Len(t, h.sink.byType(audit.EventMembershipUpdated), 1)

	membership, err := h.tenants.GetMembership(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, tenants.StatusSuspended, membership.Status)
}

func TestMembershipUpdateRejectsUnknownStatus(t *testing.T) {
	h := newHarness(t, true)
	admin := h.signIn(t, "idp|admin")

	rec := h.do(t, http.MethodPut, "/api/v1/console/tenants/1/members/10/status",
		jsonBody(`{"status": "banished"}`), admin, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.tenants.updates)
}

func TestAuditorReadsTrail(t *testing.T) {
	h := newHarness(t, false)
	auditor := h.signIn(t, "idp|auditor")

	rec := h.do(t, http.MethodGet, "/api/v1/console/audit/events", nil, auditor, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var events []audit.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventSignIn, events[0].Type)
}

func TestTrailRequiresAuditorOrGrant(t *testing.T) {
	h := newHarness(t, false)
	staff := h.signIn(t, "idp|staff")

	rec := h.do(t, http.MethodGet, "/api/v1/console/audit/events", nil, staff, "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestSignOutClearsSession(t *testing.T) {
	h := newHarness(t, true)
	staff := h.signIn(t, "idp|staff")

	rec := h.do(t, http.MethodPost, "/api/v1/session/sign-out", nil, staff, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, h.sink.byType(audit.EventSignOut), 1)

	after := h.do(t, http.MethodGet, "/api/v1/session", nil, staff, "")
	require.Equal(t, http.StatusOK, after.Code)
	assert.Equal(t, string(identity.StateUnauthenticated), decodeData(t, after)["access_state"])
}

func TestActivityHeartbeat(t *testing.T) {
	h := newHarness(t, true)
	staff := h.signIn(t, "idp|staff")
	h.server.monitor.Track(staff.ID, staff.UserID)

	rec := h.do(t, http.MethodPost, "/api/v1/session/activity", nil, staff, "tab-1")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	state, ok := h.server.monitor.State(staff.ID)
	require.True(t, ok)
	assert.Equal(t, continuity.StateActive, state)
}

func TestIdleExpiryAnnotatesSignInRedirect(t *testing.T) {
	h := newHarness(t, true)
	staff := h.signIn(t, "idp|staff")

	require.NoError(t, h.provider.SignOut(context.Background(), staff.ID, continuity.SignOutReasonIdle))

	// The stale cookie's next page request lands on sign-in with the reason,
	// so the page can say the session expired for inactivity.
	rec := h.do(t, http.MethodGet, "/licensing", nil, staff, "tab-1")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/sign-in?reason=inactivity", rec.Header().Get("Location"))
}

func TestUserSignOutRedirectCarriesNoReason(t *testing.T) {
	h := newHarness(t, true)
	staff := h.signIn(t, "idp|staff")

	require.NoError(t, h.provider.SignOut(context.Background(), staff.ID, signOutReasonUser))

	rec := h.do(t, http.MethodGet, "/licensing", nil, staff, "tab-1")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/sign-in", rec.Header().Get("Location"))
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}
