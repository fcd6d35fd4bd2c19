package continuity

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cadenzahq/clearway/pkg/observability"
)

// SessionState is a session's position in the idle lifecycle
type SessionState string

const (
	StateActive  SessionState = "active"
	StateWarning SessionState = "warning"
	StateExpired SessionState = "expired"
)

// SignOutReasonIdle is the reason forwarded when the monitor ends a session
const SignOutReasonIdle = "idle_timeout"

// Prefs are a user's continuity preferences. Disabled suppresses the idle
// machinery entirely, warnings included.
type Prefs struct {
	IdleTimeout time.Duration
	WarningLead time.Duration
	Enabled     bool
}

// PrefsSource resolves continuity preferences per user
type PrefsSource interface {
	ContinuityPrefs(ctx context.Context, userID int64) (Prefs, error)
}

// SignOutFunc ends a session with a reason
type SignOutFunc func(ctx context.Context, sessionID, reason string) error

type sessionTrack struct {
	userID       int64
	lastActivity time.Time
	state        SessionState
}

// Monitor drives the active, warning, expired lifecycle for every tracked
// session. Expiry is decided by comparing wall-clock timestamps on a sweep,
// never by an armed timer: a laptop that slept through its deadline expires
// on the first sweep after waking, exactly as if the timer had fired.
type Monitor struct {
	broadcast Broadcast
	prefs     PrefsSource
	signOut   SignOutFunc
	log       *logrus.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	defaults  Prefs

	mu       sync.Mutex
	sessions map[string]*sessionTrack

	now func() time.Time
}

// NewMonitor creates a continuity monitor. defaults apply to users whose
// preferences cannot be loaded.
func NewMonitor(broadcast Broadcast, prefs PrefsSource, signOut SignOutFunc, log *logrus.Logger, metrics *observability.Metrics, interval time.Duration, defaults Prefs) *Monitor {
	if log == nil {
		log = logrus.New()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		broadcast: broadcast,
		prefs:     prefs,
		signOut:   signOut,
		log:       log,
		metrics:   metrics,
		interval:  interval,
		defaults:  defaults,
		sessions:  make(map[string]*sessionTrack),
		now:       time.Now,
	}
}

// Track starts monitoring a session. Call on sign-in.
func (m *Monitor) Track(sessionID string, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = &sessionTrack{
		userID:       userID,
		lastActivity: m.now(),
		state:        StateActive,
	}
}

// Forget stops monitoring a session. Call on sign-out.
func (m *Monitor) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// State returns the session's current lifecycle state
func (m *Monitor) State(sessionID string) (SessionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	track, ok := m.sessions[sessionID]
	if !ok {
		return "", false
	}
	return track.state, true
}

// RecordActivity notes user activity in a tab. Activity anywhere keeps every
// tab of the session alive; a pending warning is withdrawn. The activity is
// rebroadcast so instances serving the session's other tabs converge.
func (m *Monitor) RecordActivity(ctx context.Context, sessionID, tabID string, at time.Time) {
	if m.touch(sessionID, at) {
		msg := Message{Type: MessageActivity, SessionID: sessionID, TabID: tabID, At: at}
		if err := m.broadcast.Publish(ctx, msg); err != nil {
			m.log.WithError(err).Warn("failed to broadcast activity")
		}
	}
}

// touch advances the session's last activity, returning whether the session
// is tracked. Timestamps only move forward; a delayed broadcast from another
// instance cannot rewind the clock.
func (m *Monitor) touch(sessionID string, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	track, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	if at.After(track.lastActivity) {
		track.lastActivity = at
	}
	if track.state == StateWarning {
		track.state = StateActive
	}
	return true
}

// Run drives the sweep loop and the broadcast subscription until ctx is done
func (m *Monitor) Run(ctx context.Context) error {
	go func() {
		err := m.broadcast.Subscribe(ctx, m.handleMessage)
		if err != nil && ctx.Err() == nil {
			m.log.WithError(err).Error("continuity subscription ended")
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

func (m *Monitor) handleMessage(msg Message) {
	switch msg.Type {
	case MessageActivity:
		m.touch(msg.SessionID, msg.At)
	case MessageSignedOut:
		m.Forget(msg.SessionID)
	}
}

// Sweep evaluates every tracked session against its owner's preferences.
// Exported so tests and the activity endpoint can force an immediate pass.
func (m *Monitor) Sweep(ctx context.Context) {
	now := m.now()

	// Preferences come from the database. Loading them while holding the lock
	// would stall activity recording for every session behind a slow query,
	// so snapshot the tracked users first and query unlocked.
	m.mu.Lock()
	userIDs := make(map[int64]struct{}, len(m.sessions))
	for _, track := range m.sessions {
		userIDs[track.userID] = struct{}{}
	}
	m.mu.Unlock()

	prefsByUser := make(map[int64]Prefs, len(userIDs))
	for userID := range userIDs {
		prefsByUser[userID] = m.prefsFor(ctx, userID)
	}

	type verdict struct {
		sessionID string
		userID    int64
	}
	var expired, warned []verdict

	m.mu.Lock()
	for sessionID, track := range m.sessions {
		prefs, ok := prefsByUser[track.userID]
		if !ok {
			// Tracked after the snapshot; the next sweep evaluates it.
			continue
		}
		if !prefs.Enabled {
			track.state = StateActive
			continue
		}
		// lastActivity is read again here, so a touch that landed while the
		// preferences were loading still counts.
		idle := now.Sub(track.lastActivity)
		switch {
		case idle >= prefs.IdleTimeout:
			track.state = StateExpired
			expired = append(expired, verdict{sessionID, track.userID})
		case idle >= prefs.IdleTimeout-prefs.WarningLead:
			if track.state == StateActive {
				track.state = StateWarning
				warned = append(warned, verdict{sessionID, track.userID})
			}
		}
	}
	for _, v := range expired {
		delete(m.sessions, v.sessionID)
	}
	m.mu.Unlock()

	for _, v := range warned {
		if m.metrics != nil {
			m.metrics.IdleWarningsTotal.Inc()
		}
		m.publish(ctx, Message{Type: MessageWarning, SessionID: v.sessionID, UserID: v.userID, At: now})
	}
	for _, v := range expired {
		if m.metrics != nil {
			m.metrics.IdleExpiriesTotal.Inc()
		}
		m.log.WithFields(logrus.Fields{
			"session_id": v.sessionID,
			"user_id":    v.userID,
		}).Info("session expired for inactivity")

		if err := m.signOut(ctx, v.sessionID, SignOutReasonIdle); err != nil {
			m.log.WithError(err).WithField("session_id", v.sessionID).Error("failed to sign out idle session")
		}
		m.publish(ctx, Message{Type: MessageSignedOut, SessionID: v.sessionID, UserID: v.userID, Reason: SignOutReasonIdle, At: now})
	}
}

func (m *Monitor) publish(ctx context.Context, msg Message) {
	if err := m.broadcast.Publish(ctx, msg); err != nil {
		m.log.WithError(err).Warn("failed to broadcast continuity event")
	}
}

func (m *Monitor) prefsFor(ctx context.Context, userID int64) Prefs {
	if m.prefs == nil {
		return m.defaults
	}
	prefs, err := m.prefs.ContinuityPrefs(ctx, userID)
	if err != nil {
		m.log.WithError(err).WithField("user_id", userID).Warn("failed to load continuity prefs, using defaults")
		return m.defaults
	}
	if prefs.IdleTimeout <= 0 {
		prefs.IdleTimeout = m.defaults.IdleTimeout
	}
	if prefs.WarningLead <= 0 || prefs.WarningLead >= prefs.IdleTimeout {
		prefs.WarningLead = m.defaults.WarningLead
	}
	return prefs
}
