// Package mailbox abstracts the tenant's mail provider: the incremental
// change log (history), raw message retrieval, sending, and push watch
// registration. The Gmail implementation lives in gmail.go; tests use
// in-memory doubles of Provider.
package mailbox

import (
	"context"
	"time"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
)

// Label ids the pipeline cares about.
const (
	LabelInbox = "INBOX"
	LabelSent  = "SENT"
	LabelDraft = "DRAFT"
)

// HistoryRef is one message added to the mailbox since a cursor.
type HistoryRef struct {
	MessageID string
	ThreadID  string
	LabelIDs  []string
}

// HistoryPage is the flattened result of listing history from a cursor.
// LatestCursor is the provider's current position after the listed changes.
type HistoryPage struct {
	Messages     []HistoryRef
	LatestCursor uint64
}

// SentMessage identifies a message accepted by the provider.
type SentMessage struct {
	ID       string
	ThreadID string
}

// WatchResult is returned by a successful push registration.
type WatchResult struct {
	Cursor     uint64
	Expiration time.Time
}

// Provider is the per-tenant mailbox API.
type Provider interface {
	// ListHistory returns messages added to INBOX after start.
	ListHistory(ctx context.Context, start uint64) (HistoryPage, error)
	// GetMessage fetches and parses one message.
	GetMessage(ctx context.Context, id string) (domain.InboundMessage, error)
	// Send delivers an RFC 5322 message, threading it with threadID when set.
	Send(ctx context.Context, raw []byte, threadID string) (SentMessage, error)
	// Watch registers push notifications for INBOX on topic.
	Watch(ctx context.Context, topic string) (WatchResult, error)
	// Stop cancels push notifications.
	Stop(ctx context.Context) error
}

// Factory builds a Provider bound to a tenant's credentials.
type Factory interface {
	ForTenant(ctx context.Context, tenant *domain.Tenant) (Provider, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, tenant *domain.Tenant) (Provider, error)

// ForTenant calls f.
func (f FactoryFunc) ForTenant(ctx context.Context, tenant *domain.Tenant) (Provider, error) {
	return f(ctx, tenant)
}
