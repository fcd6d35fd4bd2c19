package api

import (
	"net/http"
	"time"

	"github.com/cadenzahq/clearway/pkg/contextkeys"
	"github.com/cadenzahq/clearway/pkg/guard"
	"github.com/cadenzahq/clearway/pkg/httputil"
	"github.com/cadenzahq/clearway/pkg/identity"
)

// sessionResponse is the session projection plus the continuity state the
// client needs to render idle warnings
type sessionResponse struct {
	*identity.Session
	ContinuityState string `json:"continuity_state,omitempty"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session := guard.SessionFromContext(r.Context())

	resp := sessionResponse{Session: session}
	if state, ok := s.monitor.State(session.ID); ok {
		resp.ContinuityState = string(state)
	}
	httputil.WriteSuccess(w, resp)
}

func (s *Server) refreshSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(guard.SessionCookie)
	if err != nil || cookie.Value == "" {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "no session")
		return
	}

	var req struct {
		Trigger string `json:"trigger"`
	}
	if r.ContentLength > 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	refreshed, err := s.sessions.Refresh(r.Context(), cookie.Value, parseTrigger(req.Trigger))
	if err != nil {
		s.logger.WithError(err).Error("session refresh failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, refreshed)
}

func (s *Server) recordActivity(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(guard.SessionCookie)
	if err != nil || cookie.Value == "" {
		httputil.WriteNoContent(w)
		return
	}

	tabID := contextkeys.GetTabID(r.Context())
	s.monitor.RecordActivity(r.Context(), cookie.Value, tabID, time.Now())
	httputil.WriteNoContent(w)
}

// parseTrigger maps a client-supplied refresh trigger onto the known set.
// Anything unrecognized counts as manual.
func parseTrigger(raw string) identity.RefreshTrigger {
	switch trigger := identity.RefreshTrigger(raw); trigger {
	case identity.TriggerInterval, identity.TriggerFocus, identity.TriggerMembershipChange:
		return trigger
	default:
		return identity.TriggerManual
	}
}
