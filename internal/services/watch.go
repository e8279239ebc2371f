package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/events"
	"github.com/tbourn/go-autoreply-backend/internal/mailbox"
	"github.com/tbourn/go-autoreply-backend/internal/repo"
)

// minRenewDelay keeps an already-due renewal from spinning.
const minRenewDelay = time.Second

// WatchManager establishes, renews and stops tenants' push subscriptions.
// Each active subscription has one renewal timer firing RenewBuffer before
// it expires.
type WatchManager struct {
	DB          *gorm.DB
	Factory     mailbox.Factory
	Topic       string
	RenewBuffer time.Duration
	Events      events.Publisher

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	// base is detached from request contexts; renewals outlive the request
	// that started the watch.
	base   context.Context
	cancel context.CancelFunc
}

// NewWatchManager wires a WatchManager.
func NewWatchManager(db *gorm.DB, factory mailbox.Factory, topic string, renewBuffer time.Duration, pub events.Publisher) *WatchManager {
	if pub == nil {
		pub = events.Discard{}
	}
	base, cancel := context.WithCancel(context.Background())
	return &WatchManager{
		DB:          db,
		Factory:     factory,
		Topic:       topic,
		RenewBuffer: renewBuffer,
		Events:      pub,
		now:         func() time.Time { return time.Now().UTC() },
		afterFunc:   time.AfterFunc,
		timers:      make(map[string]*time.Timer),
		base:        base,
		cancel:      cancel,
	}
}

// Start registers a watch for the tenant, stores the returned cursor as the
// baseline and schedules renewal.
func (w *WatchManager) Start(ctx context.Context, tenantID string) (*domain.WatchSubscription, error) {
	if w.Topic == "" {
		return nil, ErrWatchUnavailable
	}
	tenant, provider, err := w.provider(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	res, err := provider.Watch(ctx, w.Topic)
	if err != nil {
		return nil, err
	}
	if err := repo.ActivateSubscription(ctx, w.DB, tenant.ID, w.Topic, res.Cursor, res.Expiration, w.now()); err != nil {
		return nil, err
	}
	w.schedule(tenant.ID, res.Expiration)
	log.Info().Str("tenant_id", tenant.ID).Time("expiration", res.Expiration).Msg("watch started")
	return repo.GetSubscription(ctx, w.DB, tenant.ID)
}

// Renew re-registers the watch ahead of expiration. The stored cursor is
// kept so no history is skipped. On failure the subscription is marked
// inactive with its error count raised.
func (w *WatchManager) Renew(ctx context.Context, tenantID string) error {
	err := w.renew(ctx, tenantID)
	if err == nil {
		return nil
	}
	log.Error().Err(err).Str("tenant_id", tenantID).Msg("watch renewal failed; subscription deactivated")
	if ferr := repo.RecordSubscriptionFailure(ctx, w.DB, tenantID, err.Error()); ferr != nil {
		log.Error().Err(ferr).Str("tenant_id", tenantID).Msg("failed to record renewal failure")
	}
	w.cancelTimer(tenantID)
	w.Events.Publish(ctx, events.Event{Type: events.WatchStopped, TenantID: tenantID, Reason: err.Error(), At: w.now()})
	return err
}

func (w *WatchManager) renew(ctx context.Context, tenantID string) error {
	sub, err := repo.GetSubscription(ctx, w.DB, tenantID)
	if err != nil {
		return err
	}
	tenant, provider, err := w.provider(ctx, tenantID)
	if err != nil {
		return err
	}
	topic := sub.TopicName
	if topic == "" {
		topic = w.Topic
	}
	res, err := provider.Watch(ctx, topic)
	if err != nil {
		return err
	}
	cursor := res.Cursor
	if sub.HistoryCursor > 0 {
		cursor = 0
	}
	if err := repo.ActivateSubscription(ctx, w.DB, tenant.ID, topic, cursor, res.Expiration, w.now()); err != nil {
		return err
	}
	w.schedule(tenant.ID, res.Expiration)
	log.Info().Str("tenant_id", tenant.ID).Time("expiration", res.Expiration).Msg("watch renewed")
	return nil
}

// Stop cancels the provider watch, the renewal timer and marks the
// subscription inactive. A provider failure is logged; the local state is
// still stopped.
func (w *WatchManager) Stop(ctx context.Context, tenantID string) error {
	w.cancelTimer(tenantID)
	if _, err := repo.GetSubscription(ctx, w.DB, tenantID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriptionInactive
		}
		return err
	}
	if _, provider, err := w.provider(ctx, tenantID); err == nil {
		if err := provider.Stop(ctx); err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("provider stop failed")
		}
	} else if !errors.Is(err, ErrTenantNotFound) {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("provider unavailable for stop")
	}
	if err := repo.DeactivateSubscription(ctx, w.DB, tenantID, "stopped"); err != nil {
		return err
	}
	w.Events.Publish(ctx, events.Event{Type: events.WatchStopped, TenantID: tenantID, Reason: "stopped", At: w.now()})
	log.Info().Str("tenant_id", tenantID).Msg("watch stopped")
	return nil
}

// RestoreAll schedules renewal timers for every active subscription. Run it
// once at boot.
func (w *WatchManager) RestoreAll(ctx context.Context) (int, error) {
	subs, err := repo.ListActiveSubscriptions(ctx, w.DB)
	if err != nil {
		return 0, err
	}
	for _, s := range subs {
		w.schedule(s.TenantID, s.Expiration)
	}
	log.Info().Int("subscriptions", len(subs)).Msg("watch timers restored")
	return len(subs), nil
}

// Shutdown cancels every pending renewal.
func (w *WatchManager) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.cancel()
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
}

// Pending reports the number of scheduled renewals.
func (w *WatchManager) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}

func (w *WatchManager) schedule(tenantID string, expiration time.Time) {
	delay := max(expiration.Sub(w.now())-w.RenewBuffer, minRenewDelay)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[tenantID]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = w.afterFunc(delay, func() {
		w.mu.Lock()
		current := w.timers[tenantID] == t
		if current {
			delete(w.timers, tenantID)
		}
		w.mu.Unlock()
		if current {
			_ = w.Renew(w.base, tenantID)
		}
	})
	w.timers[tenantID] = t
}

func (w *WatchManager) cancelTimer(tenantID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[tenantID]; ok {
		t.Stop()
		delete(w.timers, tenantID)
	}
}

func (w *WatchManager) provider(ctx context.Context, tenantID string) (*domain.Tenant, mailbox.Provider, error) {
	tenant, err := repo.GetTenant(ctx, w.DB, tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	p, err := w.Factory.ForTenant(ctx, tenant)
	if err != nil {
		return nil, nil, err
	}
	return tenant, p, nil
}
