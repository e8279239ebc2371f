// Package events fans out reply-job lifecycle events to live subscribers
// (websocket clients, an AMQP exchange). Publishing never blocks the
// pipeline: slow subscribers lose events rather than stall job processing.
package events

import (
	"context"
	"sync"
	"time"
)

// Type names a job lifecycle event.
type Type string

const (
	JobEnqueued  Type = "job.enqueued"
	JobSent      Type = "job.sent"
	JobRetry     Type = "job.retry"
	JobFailed    Type = "job.failed"
	JobCancelled Type = "job.cancelled"
	WatchStopped Type = "watch.stopped"
)

// Event is one lifecycle notification.
type Event struct {
	Type      Type      `json:"type"`
	TenantID  string    `json:"tenant_id"`
	JobID     string    `json:"job_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher accepts events. Implementations must not block for long.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Multi publishes to every non-nil publisher in order.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) {}

// subscriberBuffer is the per-subscriber backlog before events are dropped.
const subscriberBuffer = 32

// Hub is an in-process, per-tenant fan-out.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a listener for tenantID. The returned cancel func
// unregisters it and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(tenantID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	if h.subs[tenantID] == nil {
		h.subs[tenantID] = make(map[chan Event]struct{})
	}
	h.subs[tenantID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[tenantID], ch)
			if len(h.subs[tenantID]) == 0 {
				delete(h.subs, tenantID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the number of listeners for tenantID.
func (h *Hub) Subscribers(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}

// Publish implements Publisher. Full subscriber buffers drop the event.
func (h *Hub) Publish(_ context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[e.TenantID] {
		select {
		case ch <- e:
		default:
		}
	}
}
