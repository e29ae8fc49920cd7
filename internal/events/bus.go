package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventRequestSuccess EventType = "request_success"
	EventRequestError   EventType = "request_error"
	EventQuotaRejected  EventType = "quota_rejected"
	EventBudgetRejected EventType = "budget_rejected"
	EventBreakerOpened  EventType = "breaker_opened"
	EventBreakerClosed  EventType = "breaker_closed"
	EventFailover       EventType = "failover"
)

// Event is a single gateway event published on the bus for the dashboard's
// live activity feed.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Request fields (populated for request_success/request_error).
	ModelID      string  `json:"model_id,omitempty"`
	Endpoint     string  `json:"endpoint,omitempty"`
	TokenID      string  `json:"token_id,omitempty"`
	LatencyMs    float64 `json:"latency_ms,omitempty"`
	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
	ErrorClass   string  `json:"error_class,omitempty"`
	ErrorMsg     string  `json:"error_msg,omitempty"`

	// Quota/budget fields (populated for *_rejected events).
	Dimension string `json:"dimension,omitempty"`
	Scope     string `json:"scope,omitempty"`

	// Breaker fields (populated for breaker_* and failover events).
	FromEndpoint string `json:"from_endpoint,omitempty"`
	ToEndpoint   string `json:"to_endpoint,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Bus is an in-memory pub/sub event bus for routing events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe creates a new subscriber with a buffered channel.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its internal done channel;
// the subscriber's C channel is left open.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	close(s.done)
}

// Publish sends an event to all subscribers (non-blocking).
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
			// Drop event if subscriber is slow (back-pressure).
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
