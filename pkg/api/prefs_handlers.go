package api

import (
	"net/http"

	"github.com/cadenzahq/clearway/pkg/guard"
	"github.com/cadenzahq/clearway/pkg/httputil"
	"github.com/cadenzahq/clearway/pkg/prefs"
)

func (s *Server) getPreferences(w http.ResponseWriter, r *http.Request) {
	session := guard.SessionFromContext(r.Context())

	p, err := s.prefs.Get(r.Context(), session.UserID)
	if err != nil {
		s.logger.WithError(err).Error("failed to load preferences")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, p)
}

func (s *Server) updatePreferences(w http.ResponseWriter, r *http.Request) {
	session := guard.SessionFromContext(r.Context())

	var req struct {
		IdleMinutes       int    `json:"idle_minutes"`
		ContinuityEnabled bool   `json:"continuity_enabled"`
		Density           string `json:"density"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	switch req.Density {
	case "comfortable", "compact":
	default:
		httputil.WriteValidationError(w, "density must be comfortable or compact")
		return
	}

	updated := &prefs.Preferences{
		UserID:            session.UserID,
		IdleMinutes:       req.IdleMinutes,
		ContinuityEnabled: req.ContinuityEnabled,
		Density:           req.Density,
	}
	if err := s.prefs.Upsert(r.Context(), updated); err != nil {
		s.logger.WithError(err).Error("failed to save preferences")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, updated)
}
