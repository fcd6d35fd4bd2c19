package api

import (
	"context"
	"net/http"

	"github.com/cadenzahq/clearway/pkg/audit"
	"github.com/cadenzahq/clearway/pkg/authz"
	"github.com/cadenzahq/clearway/pkg/contextkeys"
	"github.com/cadenzahq/clearway/pkg/guard"
	"github.com/cadenzahq/clearway/pkg/httputil"
	"github.com/cadenzahq/clearway/pkg/identity"
	"github.com/cadenzahq/clearway/pkg/scope"
)

func (s *Server) enterConsole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := guard.SessionFromContext(ctx)
	tabID := contextkeys.GetTabID(ctx)

	landing, decision := s.scopes.EnterSystemConsole(ctx, session, tabID)
	if !decision.Allowed() {
		writeDecision(w, decision)
		return
	}

	s.recordScopeEnter(ctx, session, tabID, scope.ScopeSystem, 0)
	// fresh_start tells the client the landing is a new beginning in the
	// target scope, so scroll and per-surface view state get reset.
	httputil.WriteSuccess(w, map[string]interface{}{"redirect": landing, "fresh_start": true})
}

func (s *Server) enterOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := guard.SessionFromContext(ctx)
	tabID := contextkeys.GetTabID(ctx)

	var req struct {
		TenantID int64 `json:"tenant_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.TenantID <= 0 {
		httputil.WriteValidationError(w, "tenant_id is required")
		return
	}

	landing, decision := s.scopes.EnterOrganization(ctx, session, tabID, req.TenantID)
	if !decision.Allowed() {
		writeDecision(w, decision)
		return
	}

	s.recordScopeEnter(ctx, session, tabID, scope.ScopeOrganization, req.TenantID)
	httputil.WriteSuccess(w, map[string]interface{}{"redirect": landing, "fresh_start": true})
}

func (s *Server) clearEntryIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := guard.SessionFromContext(ctx)
	tabID := contextkeys.GetTabID(ctx)

	if err := s.scopes.ClearEntryIntent(ctx, session, tabID); err != nil {
		s.logger.WithError(err).Error("failed to clear entry intent")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) recordScopeEnter(ctx context.Context, session *identity.Session, tabID string, target scope.Scope, tenantID int64) {
	event := &audit.Event{
		Type:      audit.EventScopeEnter,
		UserID:    session.UserID,
		SessionID: session.ID,
		TenantID:  tenantID,
		TabID:     tabID,
		RequestID: contextkeys.GetRequestID(ctx),
		Effect:    string(authz.Allow),
		Details:   map[string]interface{}{"target_scope": string(target)},
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.WithError(err).Warn("failed to record scope entry")
	}
}
