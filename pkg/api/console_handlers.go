package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/cadenzahq/clearway/pkg/audit"
	"github.com/cadenzahq/clearway/pkg/authz"
	"github.com/cadenzahq/clearway/pkg/contextkeys"
	"github.com/cadenzahq/clearway/pkg/guard"
	"github.com/cadenzahq/clearway/pkg/httputil"
	"github.com/cadenzahq/clearway/pkg/identity"
	"github.com/cadenzahq/clearway/pkg/tenants"
)

func (s *Server) updateMemberStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	status := tenants.MembershipStatus(req.Status)
	switch status {
	case tenants.StatusActive, tenants.StatusSuspended, tenants.StatusRevoked,
		tenants.StatusPending, tenants.StatusDenied:
	default:
		httputil.WriteValidationError(w, "unknown membership status")
		return
	}

	if err := s.tenants.UpdateMembershipStatus(r.Context(), tenantID, userID, status); err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			httputil.WriteNotFoundError(w, "membership not found")
			return
		}
		s.logger.WithError(err).Error("failed to update membership status")
		httputil.WriteInternalError(w)
		return
	}

	s.recordMembershipChange(r.Context(), tenantID, userID, "status", req.Status)
	s.respondMembership(r.Context(), w, tenantID, userID)
}

func (s *Server) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role := tenants.Role(req.Role)
	if !role.Valid() {
		httputil.WriteValidationError(w, "unknown role")
		return
	}

	if err := s.tenants.UpdateMembershipRole(r.Context(), tenantID, userID, role); err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			httputil.WriteNotFoundError(w, "membership not found")
			return
		}
		s.logger.WithError(err).Error("failed to update membership role")
		httputil.WriteInternalError(w)
		return
	}

	s.recordMembershipChange(r.Context(), tenantID, userID, "role", req.Role)
	s.respondMembership(r.Context(), w, tenantID, userID)
}

func (s *Server) setMemberModules(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	var req struct {
		Modules []string `json:"modules"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	modules := make([]tenants.Module, 0, len(req.Modules))
	for _, raw := range req.Modules {
		module := tenants.Module(raw)
		switch module {
		case tenants.ModuleLicensing, tenants.ModulePublishing,
			tenants.ModuleRoyalties, tenants.ModuleHelpCenter:
			modules = append(modules, module)
		default:
			httputil.WriteValidationError(w, "unknown module: "+raw)
			return
		}
	}

	if err := s.tenants.SetAllowedModules(r.Context(), tenantID, userID, modules); err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			httputil.WriteNotFoundError(w, "membership not found")
			return
		}
		s.logger.WithError(err).Error("failed to set allowed modules")
		httputil.WriteInternalError(w)
		return
	}

	s.recordMembershipChange(r.Context(), tenantID, userID, "modules", req.Modules)
	s.respondMembership(r.Context(), w, tenantID, userID)
}

func (s *Server) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := guard.SessionFromContext(ctx)

	var req struct {
		Token string `json:"token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Token == "" {
		httputil.WriteValidationError(w, "token is required")
		return
	}

	if err := s.tenants.AcceptInvitation(ctx, req.Token, session.UserID); err != nil {
		switch {
		case errors.Is(err, tenants.ErrNotFound):
			httputil.WriteNotFoundError(w, "invitation not found")
		case errors.Is(err, tenants.ErrInvitationExpired):
			httputil.WriteErrorMessage(w, http.StatusGone, "invitation expired")
		default:
			s.logger.WithError(err).Error("failed to accept invitation")
			httputil.WriteInternalError(w)
		}
		return
	}

	event := &audit.Event{
		Type:      audit.EventInvitationAccepted,
		UserID:    session.UserID,
		SessionID: session.ID,
		RequestID: contextkeys.GetRequestID(ctx),
		Effect:    string(authz.Allow),
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.WithError(err).Warn("failed to record invitation acceptance")
	}

	// The new membership lands in the session immediately rather than on the
	// next periodic refresh.
	refreshed, err := s.sessions.Refresh(ctx, session.ID, identity.TriggerMembershipChange)
	if err != nil {
		s.logger.WithError(err).Error("session refresh after invitation failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, refreshed)
}

func (s *Server) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	if s.trail == nil {
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "audit trail reads unavailable")
		return
	}

	limit := httputil.QueryInt64(r, "limit", 100)
	events, err := s.trail.RecentEvents(r.Context(), int(limit))
	if err != nil {
		s.logger.WithError(err).Error("failed to read audit trail")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, events)
}

// recordMembershipChange writes the admin action to the trail. Affected
// sessions pick the change up on their next refresh; decision caches are not
// per-membership so no targeted invalidation happens here.
func (s *Server) recordMembershipChange(ctx context.Context, tenantID, userID int64, field string, value interface{}) {
	actor := guard.SessionFromContext(ctx)
	event := &audit.Event{
		Type:      audit.EventMembershipUpdated,
		UserID:    actor.UserID,
		SessionID: actor.ID,
		TenantID:  tenantID,
		RequestID: contextkeys.GetRequestID(ctx),
		Effect:    string(authz.Allow),
		Details: map[string]interface{}{
			"subject_user_id": userID,
			"field":           field,
			"value":           value,
		},
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.WithError(err).Warn("failed to record membership change")
	}
}

func (s *Server) respondMembership(ctx context.Context, w http.ResponseWriter, tenantID, userID int64) {
	membership, err := s.tenants.GetMembership(ctx, tenantID, userID)
	if err != nil {
		s.logger.WithError(err).Error("failed to load membership")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, membership)
}
