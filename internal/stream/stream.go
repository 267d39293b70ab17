// Package stream fan-outs security events (logins, 2FA completions, session
// revocations) to live subscribers such as the SSE activity feed.
package stream

import (
	"context"
	"sync"
	"time"
)

// EventType labels one security event.
type EventType string

const (
	EventLogin          EventType = "login"
	EventLoginFailed    EventType = "login_failed"
	EventTwoFactorOK    EventType = "twofactor_completed"
	EventTwoFactorFail  EventType = "twofactor_failed"
	EventLogout         EventType = "logout"
	EventSessionRevoked EventType = "session_revoked"
)

// Event describes one security-relevant occurrence for the activity feed.
type Event struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream fan-outs events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
	now  func() time.Time
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{
		subs: make(map[int]chan Event),
		now:  time.Now,
	}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers. A zero timestamp is filled
// in at publish time.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports the number of active subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
