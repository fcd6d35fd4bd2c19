package continuity

import (
	"context"
	"sync"
	"time"
)

// MessageType classifies a continuity broadcast
type MessageType string

const (
	// MessageActivity announces user activity in some tab.
	MessageActivity MessageType = "activity"
	// MessageWarning announces that a session entered the idle warning state.
	MessageWarning MessageType = "warning"
	// MessageSignedOut announces that a session ended, every tab must drop it.
	MessageSignedOut MessageType = "signed_out"
)

// Message is a continuity event fanned out to every tab and instance
// holding the session
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TabID     string      `json:"tab_id,omitempty"`
	UserID    int64       `json:"user_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	At        time.Time   `json:"at"`
}

// Broadcast fans continuity messages out across instances. Delivery is best
// effort; the monitor's wall-clock sweep is the authority, broadcasts only
// make the other tabs react sooner.
type Broadcast interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe delivers messages to handler until ctx is done.
	Subscribe(ctx context.Context, handler func(Message)) error
}

// MemoryBroadcast implements Broadcast in process, for tests and
// single-instance deployments
type MemoryBroadcast struct {
	mu       sync.RWMutex
	handlers []func(Message)
}

// NewMemoryBroadcast creates an in-process broadcast
func NewMemoryBroadcast() *MemoryBroadcast {
	return &MemoryBroadcast{}
}

// Publish delivers the message synchronously to every subscriber
func (b *MemoryBroadcast) Publish(_ context.Context, msg Message) error {
	b.mu.RLock()
	handlers := make([]func(Message), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

// Subscribe registers the handler and blocks until ctx is done
func (b *MemoryBroadcast) Subscribe(ctx context.Context, handler func(Message)) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
	<-ctx.Done()
	return nil
}
