package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/cadenzahq/clearway/pkg/audit"
	"github.com/cadenzahq/clearway/pkg/authz"
	"github.com/cadenzahq/clearway/pkg/contextkeys"
	"github.com/cadenzahq/clearway/pkg/guard"
	"github.com/cadenzahq/clearway/pkg/httputil"
	"github.com/cadenzahq/clearway/pkg/identity"
	"github.com/cadenzahq/clearway/pkg/scope"
)

// oauthStateCookie holds the CSRF state between the sign-in redirect and the
// provider callback
const oauthStateCookie = "clearway_oauth_state"

// signOutReasonUser marks a sign-out the user asked for, as opposed to an
// idle expiry
const signOutReasonUser = "user_requested"

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	state := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.auth.InitiateLogin(w, r, state)
}

func (s *Server) authCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		httputil.WriteBadRequest(w, "state mismatch")
		return
	}
	clearCookie(w, oauthStateCookie)

	claims, err := s.auth.HandleCallback(ctx, r)
	if err != nil {
		s.logger.WithError(err).Error("identity provider callback failed")
		httputil.WriteErrorMessage(w, http.StatusBadGateway, "identity provider callback failed")
		return
	}

	session, err := s.sessions.SignIn(ctx, claims)
	if err != nil {
		s.logger.WithError(err).Error("failed to create session")
		httputil.WriteInternalError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     guard.SessionCookie,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	s.monitor.Track(session.ID, session.UserID)
	s.recordAuthEvent(ctx, audit.EventSignIn, session, "")

	http.Redirect(w, r, landingFor(session), http.StatusSeeOther)
}

func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := guard.SessionFromContext(ctx)

	if cookie, err := r.Cookie(guard.SessionCookie); err == nil && cookie.Value != "" {
		if err := s.sessions.SignOut(ctx, cookie.Value, signOutReasonUser); err != nil {
			s.logger.WithError(err).Error("failed to end session")
			httputil.WriteInternalError(w)
			return
		}
		s.monitor.Forget(cookie.Value)
	}
	clearCookie(w, guard.SessionCookie)

	if session.UserID != 0 {
		s.recordAuthEvent(ctx, audit.EventSignOut, session, signOutReasonUser)
	}
	httputil.WriteSuccess(w, map[string]string{"redirect": "/auth/sign-in"})
}

// landingFor picks the post-sign-in destination from the session state. The
// default scope rule keeps this consistent with where a fresh tab is presumed
// to be, so landing here never needs an entry intent.
func landingFor(session *identity.Session) string {
	switch session.AccessState {
	case identity.StateNoProfile:
		return "/auth/complete-profile"
	case identity.StateSuspended:
		return "/account/suspended"
	}
	switch scope.DefaultScopeFor(session) {
	case scope.ScopeSystem:
		return "/console"
	case scope.ScopeOrganization:
		return "/licensing"
	default:
		return "/account"
	}
}

func (s *Server) recordAuthEvent(ctx context.Context, eventType audit.EventType, session *identity.Session, reason string) {
	event := &audit.Event{
		Type:      eventType,
		UserID:    session.UserID,
		SessionID: session.ID,
		RequestID: contextkeys.GetRequestID(ctx),
		Effect:    string(authz.Allow),
		Reason:    reason,
		Details:   map[string]interface{}{"access_state": string(session.AccessState)},
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.WithError(err).Warn("failed to record auth event")
	}
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
