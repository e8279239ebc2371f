package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/mailbox"
	"github.com/tbourn/go-autoreply-backend/internal/repo"
)

// ConsumeFunc receives each new inbound message. An error aborts the batch
// and leaves the cursor where it was.
type ConsumeFunc func(ctx context.Context, msg domain.InboundMessage) error

// ResolveResult summarizes one history resolution.
type ResolveResult struct {
	Listed      int
	Consumed    int
	Skipped     int
	Failed      int
	Cursor      uint64
	Rebaselined bool
}

// HistoryResolver turns a push notification into the inbound messages added
// since the tenant's stored cursor.
type HistoryResolver struct {
	DB          *gorm.DB
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewHistoryResolver returns a resolver retrying each message fetch up to
// maxAttempts times with exponential backoff from baseDelay.
func NewHistoryResolver(db *gorm.DB, maxAttempts int, baseDelay time.Duration) *HistoryResolver {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &HistoryResolver{DB: db, MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// Resolve lists history after sub's cursor, hands each new inbound message to
// consume, and advances the cursor once the whole batch was consumed.
//
// Messages labelled SENT or DRAFT and messages from the tenant's own address
// are skipped. A message that cannot be fetched after the retry budget is
// logged and skipped. When the provider no longer retains history for the
// stored cursor, notificationCursor becomes the new baseline and the gap is
// logged; messages inside the gap are not answered.
func (r *HistoryResolver) Resolve(
	ctx context.Context,
	tenant *domain.Tenant,
	provider mailbox.Provider,
	sub *domain.WatchSubscription,
	notificationCursor uint64,
	consume ConsumeFunc,
) (ResolveResult, error) {
	ctx, span := otel.Tracer("services/resolver").Start(ctx, "HistoryResolver.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenant.ID),
		attribute.Int64("history.start", int64(sub.HistoryCursor)),
	)

	lg := zerolog.Ctx(ctx).With().Str("tenant_id", tenant.ID).Logger()
	res := ResolveResult{Cursor: sub.HistoryCursor}

	if sub.HistoryCursor != 0 && notificationCursor != 0 && notificationCursor <= sub.HistoryCursor {
		return res, nil
	}

	page, err := provider.ListHistory(ctx, sub.HistoryCursor)
	if errors.Is(err, mailbox.ErrCursorExpired) {
		lg.Warn().
			Uint64("stored_cursor", sub.HistoryCursor).
			Uint64("new_cursor", notificationCursor).
			Msg("history cursor expired; re-baselining, changes in the gap are skipped")
		if _, err := repo.AdvanceCursor(ctx, r.DB, tenant.ID, notificationCursor); err != nil {
			return res, err
		}
		res.Cursor = max(sub.HistoryCursor, notificationCursor)
		res.Rebaselined = true
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.Listed = len(page.Messages)

	self := domain.NormalizeEmail(tenant.Email)
	for _, ref := range page.Messages {
		if hasAny(ref.LabelIDs, mailbox.LabelSent, mailbox.LabelDraft) {
			res.Skipped++
			continue
		}
		msg, err := r.fetch(ctx, provider, ref.MessageID)
		if err != nil {
			if mailbox.IsAuth(err) || ctx.Err() != nil {
				return res, err
			}
			lg.Error().Err(err).Str("message_id", ref.MessageID).Msg("message fetch failed; skipping")
			res.Failed++
			continue
		}
		if msg.ID == "" {
			msg.ID = ref.MessageID
		}
		if msg.ThreadID == "" {
			msg.ThreadID = ref.ThreadID
		}
		if len(msg.LabelIDs) == 0 {
			msg.LabelIDs = ref.LabelIDs
		}
		if msg.From == self || msg.HasLabel(mailbox.LabelSent) || msg.HasLabel(mailbox.LabelDraft) {
			res.Skipped++
			continue
		}
		if err := consume(ctx, msg); err != nil {
			return res, err
		}
		res.Consumed++
	}

	next := max(page.LatestCursor, notificationCursor)
	if next > sub.HistoryCursor {
		if _, err := repo.AdvanceCursor(ctx, r.DB, tenant.ID, next); err != nil {
			return res, err
		}
		res.Cursor = next
	}
	span.SetAttributes(attribute.Int("history.consumed", res.Consumed))
	return res, nil
}

// fetch retries transient failures with exponential backoff; anything else
// ends the attempts immediately.
func (r *HistoryResolver) fetch(ctx context.Context, p mailbox.Provider, id string) (domain.InboundMessage, error) {
	b := backoff.NewExponentialBackOff()
	if r.BaseDelay > 0 {
		b.InitialInterval = r.BaseDelay
	}
	return backoff.Retry(ctx, func() (domain.InboundMessage, error) {
		msg, err := p.GetMessage(ctx, id)
		if err != nil && !mailbox.IsTransient(err) {
			return msg, backoff.Permanent(err)
		}
		return msg, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(r.MaxAttempts)))
}

func hasAny(labels []string, want ...string) bool {
	for _, l := range labels {
		for _, w := range want {
			if l == w {
				return true
			}
		}
	}
	return false
}
