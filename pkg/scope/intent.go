package scope

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// IntentTTL is how long an entry intent stays valid. The window covers a
// redirect round trip, nothing more; a stale tab cannot replay an intent
// minted minutes ago.
const IntentTTL = 30 * time.Second

// EntryIntent records that a session deliberately asked to cross into a
// restricted scope. Intents are tab-scoped and single use, and bound to the
// landing path the crossing was minted for.
type EntryIntent struct {
	TargetScope Scope     `json:"target_scope"`
	TargetPath  string    `json:"target_path"`
	TenantID    int64     `json:"tenant_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the intent's wall-clock window has passed
func (i *EntryIntent) Expired(now time.Time) bool {
	return now.Sub(i.CreatedAt) > IntentTTL
}

// Covers reports whether the intent authorizes a navigation to path. The
// landing page and anything under it qualify; an intent minted for
// /publishing opens /publishing/catalog but not /royalties.
func (i *EntryIntent) Covers(path string) bool {
	return path == i.TargetPath || strings.HasPrefix(path, i.TargetPath+"/")
}

// StateStore keeps per-tab scope state: the pending entry intent and the
// last scope the tab validly occupied. Keys are (session, tab) pairs so two
// tabs of one session never share an intent.
type StateStore interface {
	PutIntent(ctx context.Context, sessionID, tabID string, intent EntryIntent) error
	// TakeIntent removes and returns the pending intent, or nil when there
	// is none. Removal happens even for an expired intent.
	TakeIntent(ctx context.Context, sessionID, tabID string) (*EntryIntent, error)
	ClearIntent(ctx context.Context, sessionID, tabID string) error

	SetLastScope(ctx context.Context, sessionID, tabID string, s Scope) error
	LastScope(ctx context.Context, sessionID, tabID string) (Scope, bool, error)
}

// MemoryStateStore implements StateStore in process memory, for tests and
// single-instance deployments
type MemoryStateStore struct {
	mu         sync.Mutex
	intents    map[string]EntryIntent
	lastScopes map[string]Scope
}

// NewMemoryStateStore creates an in-memory state store
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		intents:    make(map[string]EntryIntent),
		lastScopes: make(map[string]Scope),
	}
}

func tabKey(sessionID, tabID string) string {
	return sessionID + "|" + tabID
}

func (s *MemoryStateStore) PutIntent(_ context.Context, sessionID, tabID string, intent EntryIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[tabKey(sessionID, tabID)] = intent
	return nil
}

func (s *MemoryStateStore) TakeIntent(_ context.Context, sessionID, tabID string) (*EntryIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tabKey(sessionID, tabID)
	intent, ok := s.intents[key]
	if !ok {
		return nil, nil
	}
	delete(s.intents, key)
	return &intent, nil
}

func (s *MemoryStateStore) ClearIntent(_ context.Context, sessionID, tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intents, tabKey(sessionID, tabID))
	return nil
}

func (s *MemoryStateStore) SetLastScope(_ context.Context, sessionID, tabID string, sc Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScopes[tabKey(sessionID, tabID)] = sc
	return nil
}

func (s *MemoryStateStore) LastScope(_ context.Context, sessionID, tabID string) (Scope, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.lastScopes[tabKey(sessionID, tabID)]
	return sc, ok, nil
}

// RedisStateStore implements StateStore over Redis so tab state survives an
// instance restart and is shared behind a load balancer
type RedisStateStore struct {
	client *redis.Client
}

// NewRedisStateStore creates a Redis-backed state store
func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func intentKey(sessionID, tabID string) string {
	return "clearway:intent:" + sessionID + ":" + tabID
}

func lastScopeKey(sessionID, tabID string) string {
	return "clearway:lastscope:" + sessionID + ":" + tabID
}

func (s *RedisStateStore) PutIntent(ctx context.Context, sessionID, tabID string, intent EntryIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}
	// Redis expiry is a safety net slightly past the wall-clock window; the
	// manager still checks CreatedAt itself.
	if err := s.client.Set(ctx, intentKey(sessionID, tabID), data, IntentTTL+5*time.Second).Err(); err != nil {
		return fmt.Errorf("failed to store intent: %w", err)
	}
	return nil
}

func (s *RedisStateStore) TakeIntent(ctx context.Context, sessionID, tabID string) (*EntryIntent, error) {
	data, err := s.client.GetDel(ctx, intentKey(sessionID, tabID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take intent: %w", err)
	}
	var intent EntryIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal intent: %w", err)
	}
	return &intent, nil
}

func (s *RedisStateStore) ClearIntent(ctx context.Context, sessionID, tabID string) error {
	if err := s.client.Del(ctx, intentKey(sessionID, tabID)).Err(); err != nil {
		return fmt.Errorf("failed to clear intent: %w", err)
	}
	return nil
}

func (s *RedisStateStore) SetLastScope(ctx context.Context, sessionID, tabID string, sc Scope) error {
	if err := s.client.Set(ctx, lastScopeKey(sessionID, tabID), string(sc), 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to set last scope: %w", err)
	}
	return nil
}

func (s *RedisStateStore) LastScope(ctx context.Context, sessionID, tabID string) (Scope, bool, error) {
	val, err := s.client.Get(ctx, lastScopeKey(sessionID, tabID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get last scope: %w", err)
	}
	return Scope(val), true, nil
}
