package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadenzahq/clearway/pkg/observability"
	"github.com/cadenzahq/clearway/pkg/tenants"
)

// RefreshTrigger names why a session was rebuilt
type RefreshTrigger string

const (
	TriggerSignIn           RefreshTrigger = "sign_in"
	TriggerInterval         RefreshTrigger = "interval"
	TriggerFocus            RefreshTrigger = "focus"
	TriggerManual           RefreshTrigger = "manual"
	TriggerMembershipChange RefreshTrigger = "membership_change"
)

// ChangeType classifies an auth change event
type ChangeType string

const (
	ChangeSignedIn  ChangeType = "signed_in"
	ChangeRefreshed ChangeType = "refreshed"
	ChangeSignedOut ChangeType = "signed_out"
)

// ChangeEvent notifies subscribers that a session changed. The authorization
// layer subscribes to drop cached decisions for the affected session.
type ChangeEvent struct {
	Type      ChangeType
	SessionID string
	UserID    int64
	Reason    string
}

// ChangeHandler receives auth change events
type ChangeHandler func(event ChangeEvent)

// Provider owns the session lifecycle. A session is always rebuilt whole
// from the profile and membership rows; nothing mutates a live session.
type Provider struct {
	profiles ProfileStore
	tenants  tenants.Service
	cache    SessionCache
	logger   *observability.Logger
	metrics  *observability.Metrics
	ttl      time.Duration

	mu       sync.RWMutex
	handlers []ChangeHandler
}

// NewProvider creates a session provider
func NewProvider(profiles ProfileStore, tenantSvc tenants.Service, cache SessionCache, logger *observability.Logger, metrics *observability.Metrics, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Provider{
		profiles: profiles,
		tenants:  tenantSvc,
		cache:    cache,
		logger:   logger,
		metrics:  metrics,
		ttl:      ttl,
	}
}

// Subscribe registers a handler for auth change events. Handlers run
// synchronously on the goroutine that triggered the change.
func (p *Provider) Subscribe(handler ChangeHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

func (p *Provider) publish(event ChangeEvent) {
	p.mu.RLock()
	handlers := make([]ChangeHandler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

// SignIn materializes a session for verified identity provider claims. A
// subject with no profile row still gets a session, in the no_profile state,
// so the UI can route to onboarding instead of looping on sign-in.
func (p *Provider) SignIn(ctx context.Context, claims *Claims) (*Session, error) {
	session, err := p.build(ctx, claims.Subject, claims.Email)
	if err != nil {
		return nil, err
	}
	session.ID = uuid.New().String()

	if err := p.cache.Set(ctx, session, p.ttl); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	if session.UserID != 0 {
		if err := p.profiles.TouchLastSeen(ctx, session.UserID); err != nil {
			p.logger.WithError(err).Warn("failed to touch last seen")
		}
	}

	if p.metrics != nil {
		p.metrics.SessionRefreshTotal.WithLabelValues(string(TriggerSignIn)).Inc()
		p.metrics.SessionsActive.Inc()
	}
	p.logger.WithFields(map[string]interface{}{
		"session_id":   session.ID,
		"user_id":      session.UserID,
		"access_state": session.AccessState,
	}).Info("session created")

	p.publish(ChangeEvent{Type: ChangeSignedIn, SessionID: session.ID, UserID: session.UserID})
	return session, nil
}

// Load returns the cached session for an ID. An unknown or expired ID yields
// the anonymous session, not an error.
func (p *Provider) Load(ctx context.Context, sessionID string) (*Session, error) {
	session, err := p.cache.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return Anonymous(), nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Refresh rebuilds a session from current store state. Role changes,
// suspensions and membership edits land on the next refresh; the session is
// replaced atomically, never patched.
func (p *Provider) Refresh(ctx context.Context, sessionID string, trigger RefreshTrigger) (*Session, error) {
	current, err := p.cache.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return Anonymous(), nil
	}
	if err != nil {
		return nil, err
	}

	profile, err := p.profiles.GetProfileByID(ctx, current.UserID)
	if err != nil && !errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}

	rebuilt := &Session{ID: current.ID, LoadedAt: time.Now().UTC()}
	if profile != nil {
		rebuilt.UserID = profile.UserID
		rebuilt.Email = profile.Email
		rebuilt.PlatformRole = profile.PlatformRole
		rebuilt.Capabilities = profile.Capabilities
		memberships, err := p.tenants.ListMembershipsByUser(ctx, profile.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load memberships: %w", err)
		}
		rebuilt.Memberships = memberships
	}
	rebuilt.AccessState = ComputeAccessState(true, profile)

	if err := p.cache.Set(ctx, rebuilt, p.ttl); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	if p.metrics != nil {
		p.metrics.SessionRefreshTotal.WithLabelValues(string(trigger)).Inc()
	}
	p.publish(ChangeEvent{Type: ChangeRefreshed, SessionID: rebuilt.ID, UserID: rebuilt.UserID, Reason: string(trigger)})
	return rebuilt, nil
}

// endReasonTTL bounds how long a sign-out reason tombstone is kept
const endReasonTTL = 5 * time.Minute

// SignOut drops the session. The reason is forwarded to subscribers so the
// sign-in page can explain why the user landed there.
func (p *Provider) SignOut(ctx context.Context, sessionID string, reason string) error {
	session, err := p.cache.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := p.cache.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	// The tombstone outlives the session just long enough for the stale
	// cookie's next request to learn why it was signed out.
	if err := p.cache.SetEndReason(ctx, sessionID, reason, endReasonTTL); err != nil {
		p.logger.WithError(err).Warn("failed to record sign-out reason")
	}

	if p.metrics != nil {
		p.metrics.SessionsActive.Dec()
	}
	p.logger.WithFields(map[string]interface{}{
		"session_id": sessionID,
		"user_id":    session.UserID,
		"reason":     reason,
	}).Info("session ended")

	p.publish(ChangeEvent{Type: ChangeSignedOut, SessionID: sessionID, UserID: session.UserID, Reason: reason})
	return nil
}

// EndReason reports why a now-gone session ended, when that is still known.
// Unknown or long-ended sessions yield the empty string.
func (p *Provider) EndReason(ctx context.Context, sessionID string) string {
	reason, err := p.cache.EndReason(ctx, sessionID)
	if err != nil {
		p.logger.WithError(err).Warn("failed to read sign-out reason")
		return ""
	}
	return reason
}

// build materializes session fields from the stores for a subject
func (p *Provider) build(ctx context.Context, subject, email string) (*Session, error) {
	session := &Session{Email: email, LoadedAt: time.Now().UTC()}

	profile, err := p.profiles.GetProfileBySubject(ctx, subject)
	if err != nil && !errors.Is(err, ErrProfileNotFound) {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile != nil {
		session.UserID = profile.UserID
		session.Email = profile.Email
		session.PlatformRole = profile.PlatformRole
		session.Capabilities = profile.Capabilities

		memberships, err := p.tenants.ListMembershipsByUser(ctx, profile.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load memberships: %w", err)
		}
		session.Memberships = memberships
	}

	session.AccessState = ComputeAccessState(true, profile)
	return session, nil
}
