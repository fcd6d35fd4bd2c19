package guard

import (
	"context"
	"net/http"
	"time"

	"github.com/cadenzahq/clearway/pkg/async"
	"github.com/cadenzahq/clearway/pkg/audit"
	"github.com/cadenzahq/clearway/pkg/authz"
	"github.com/cadenzahq/clearway/pkg/contextkeys"
	"github.com/cadenzahq/clearway/pkg/continuity"
	"github.com/cadenzahq/clearway/pkg/scope"
)

// Redirect targets by denial reason. Every deny is one 303; the target page
// explains, the response itself says nothing an attacker can probe.
var redirectTargets = map[authz.ReasonCode]string{
	authz.ReasonUnauthenticated: "/auth/sign-in",
	authz.ReasonNoProfile:       "/auth/complete-profile",
	authz.ReasonSuspended:       "/account/suspended",
}

const deniedPath = "/denied"

// signInParams maps internal sign-out reasons to the query value the sign-in
// page renders, so being signed out for inactivity reads differently from an
// ordinary sign-out.
var signInParams = map[string]string{
	continuity.SignOutReasonIdle: "inactivity",
}

func redirectFor(reason authz.ReasonCode) string {
	if target, ok := redirectTargets[reason]; ok {
		return target
	}
	return deniedPath
}

// render terminates the request according to the decision, returning true
// when the request may proceed.
//
// Pending is neither content nor redirect: a 202 with Retry-After tells the
// client to hold and retry, because denying a request that raced the
// identity load would bounce a legitimate user, and allowing it would be an
// authorization hole.
func (g *Guards) render(w http.ResponseWriter, r *http.Request, guardName string, decision authz.Decision) bool {
	return g.renderTo(w, r, guardName, decision, "")
}

// renderTo is render with an explicit redirect target for denials. An empty
// target falls back to the reason-mapped page.
func (g *Guards) renderTo(w http.ResponseWriter, r *http.Request, guardName string, decision authz.Decision, target string) bool {
	if g.metrics != nil {
		g.metrics.AccessDecisionsTotal.WithLabelValues(guardName, string(decision.Effect)).Inc()
	}

	switch decision.Effect {
	case authz.Allow:
		return true

	case authz.Pending:
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusAccepted)
		return false

	default:
		if g.metrics != nil {
			g.metrics.AccessDenialsTotal.WithLabelValues(guardName, string(decision.Reason)).Inc()
		}
		g.recordDenial(r, guardName, decision)
		if target == "" {
			target = redirectFor(decision.Reason)
			if decision.Reason == authz.ReasonUnauthenticated {
				if param, ok := signInParams[contextkeys.GetSignOutReason(r.Context())]; ok {
					target += "?reason=" + param
				}
			}
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return false
	}
}

// recordDenial writes the audit event off the request goroutine. The
// response does not wait for the trail, and a sink outage cannot slow or
// fail enforcement.
func (g *Guards) recordDenial(r *http.Request, guardName string, decision authz.Decision) {
	ctx := r.Context()
	session := SessionFromContext(ctx)
	tenantID, _ := contextkeys.GetTenantID(ctx)

	event := &audit.Event{
		Type:      eventTypeFor(decision.Reason),
		At:        time.Now().UTC(),
		UserID:    session.UserID,
		SessionID: session.ID,
		TenantID:  tenantID,
		TabID:     contextkeys.GetTabID(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
		Path:      r.URL.Path,
		Effect:    string(decision.Effect),
		Reason:    string(decision.Reason),
		Details:   map[string]interface{}{"guard": guardName},
	}

	logger := audit.FromContext(ctx)
	async.SafeGoDetached(ctx, 5*time.Second, "audit-denial", func(taskCtx context.Context) error {
		return logger.Record(taskCtx, event)
	})
}

func eventTypeFor(reason authz.ReasonCode) audit.EventType {
	switch reason {
	case scope.ReasonMissingIntent, scope.ReasonIntentExpired, scope.ReasonIntentTarget:
		return audit.EventScopeViolation
	}
	return audit.EventAccessDenied
}
