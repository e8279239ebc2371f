package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/events"
	"github.com/tbourn/go-autoreply-backend/internal/filter"
	"github.com/tbourn/go-autoreply-backend/internal/generator"
	"github.com/tbourn/go-autoreply-backend/internal/mailbox"
	"github.com/tbourn/go-autoreply-backend/internal/repo"
)

// Notification is a decoded push message.
type Notification struct {
	// PushID is the transport message id; redeliveries repeat it.
	PushID       string
	EmailAddress string
	HistoryID    uint64
}

// IngestResult summarizes the handling of one notification.
type IngestResult struct {
	TenantID    string `json:"tenant_id"`
	Replayed    bool   `json:"replayed"`
	Listed      int    `json:"listed"`
	Enqueued    int    `json:"enqueued"`
	Duplicates  int    `json:"duplicates"`
	Rejected    int    `json:"rejected"`
	Skipped     int    `json:"skipped"`
	Rebaselined bool   `json:"rebaselined"`
}

// IngestService handles push notifications end to end: tenant routing, the
// per-tenant webhook budget, history resolution, filtering and enqueueing.
type IngestService struct {
	DB       *gorm.DB
	Factory  mailbox.Factory
	Resolver *HistoryResolver
	Rules    *filter.RuleSet
	Locks    *TenantLocks
	Events   events.Publisher

	// ReceiptTTL bounds how long a push id is remembered.
	ReceiptTTL time.Duration
	// DefaultMaxRetries applies when a tenant has no override.
	DefaultMaxRetries int
	// RatePerMin is the per-tenant webhook budget.
	RatePerMin int

	now func() time.Time

	limMu    sync.Mutex
	limiters map[string]*tenantBucket
	limHits  uint64
}

// Idle tenant buckets are swept every limiterSweepEvery lookups. A bucket
// idle for a full minute has refilled, so dropping it loses no state.
const (
	limiterSweepEvery = 256
	limiterIdleTTL    = 10 * time.Minute
)

type tenantBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIngestService wires an IngestService.
func NewIngestService(db *gorm.DB, factory mailbox.Factory, resolver *HistoryResolver, rules *filter.RuleSet, locks *TenantLocks, pub events.Publisher) *IngestService {
	if pub == nil {
		pub = events.Discard{}
	}
	return &IngestService{
		DB:                db,
		Factory:           factory,
		Resolver:          resolver,
		Rules:             rules,
		Locks:             locks,
		Events:            pub,
		ReceiptTTL:        24 * time.Hour,
		DefaultMaxRetries: 3,
		RatePerMin:        60,
		now:               func() time.Time { return time.Now().UTC() },
		limiters:          make(map[string]*tenantBucket),
	}
}

// HandleNotification processes n. It returns only after every new message
// was filtered and, when accepted, durably enqueued.
func (s *IngestService) HandleNotification(ctx context.Context, n Notification) (IngestResult, error) {
	ctx, span := otel.Tracer("services/ingest").Start(ctx, "IngestService.HandleNotification")
	defer span.End()

	var res IngestResult
	tenant, err := repo.GetTenantByEmail(ctx, s.DB, n.EmailAddress)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		notificationsTotal.WithLabelValues("unknown_tenant").Inc()
		return res, ErrTenantNotFound
	}
	if err != nil {
		return res, err
	}
	res.TenantID = tenant.ID
	span.SetAttributes(attribute.String("tenant.id", tenant.ID))
	lg := zerolog.Ctx(ctx).With().Str("tenant_id", tenant.ID).Str("push_id", n.PushID).Logger()
	ctx = lg.WithContext(ctx)

	if !s.limiter(tenant.ID).Allow() {
		notificationsTotal.WithLabelValues("rate_limited").Inc()
		return res, ErrRateLimited
	}

	if _, err := s.activeSubscription(ctx, tenant.ID); err != nil {
		return res, err
	}

	unlock := s.Locks.Lock(tenant.ID)
	defer unlock()

	// Re-read under the lock: a concurrent notification may have moved it.
	sub, err := s.activeSubscription(ctx, tenant.ID)
	if err != nil {
		return res, err
	}

	if n.PushID != "" {
		_, err := repo.CreateReceipt(ctx, s.DB, tenant.ID, n.PushID, n.HistoryID, s.ReceiptTTL)
		if errors.Is(err, repo.ErrDuplicate) {
			lg.Debug().Msg("push redelivery ignored")
			notificationsTotal.WithLabelValues("replayed").Inc()
			res.Replayed = true
			return res, nil
		}
		if err != nil {
			return res, err
		}
	}

	res, err = s.ingest(ctx, tenant, sub, n.HistoryID)
	if err != nil {
		if n.PushID != "" {
			// Let the provider's redelivery retry the notification.
			if derr := repo.DeleteReceipt(context.WithoutCancel(ctx), s.DB, tenant.ID, n.PushID); derr != nil {
				lg.Error().Err(derr).Msg("failed to release notification receipt")
			}
		}
		if mailbox.IsAuth(err) {
			s.stopTenant(ctx, tenant.ID, err)
		}
		notificationsTotal.WithLabelValues("error").Inc()
		return res, err
	}
	notificationsTotal.WithLabelValues("ok").Inc()
	lg.Info().
		Int("listed", res.Listed).
		Int("enqueued", res.Enqueued).
		Int("rejected", res.Rejected).
		Int("duplicates", res.Duplicates).
		Bool("rebaselined", res.Rebaselined).
		Msg("notification processed")
	return res, nil
}

func (s *IngestService) ingest(ctx context.Context, tenant *domain.Tenant, sub *domain.WatchSubscription, cursor uint64) (IngestResult, error) {
	res := IngestResult{TenantID: tenant.ID}

	provider, err := s.Factory.ForTenant(ctx, tenant)
	if err != nil {
		return res, err
	}
	settings, err := s.settings(ctx, tenant.ID)
	if err != nil {
		return res, err
	}
	rules := s.Rules.Current()

	rr, err := s.Resolver.Resolve(ctx, tenant, provider, sub, cursor, func(ctx context.Context, msg domain.InboundMessage) error {
		d, err := s.decide(ctx, tenant, settings, rules, msg)
		if err != nil {
			return err
		}
		filterDecisions.WithLabelValues(string(d.Stage)).Inc()
		if !d.Accept {
			zerolog.Ctx(ctx).Debug().
				Str("message_id", msg.ID).
				Str("stage", string(d.Stage)).
				Str("reason", d.Reason).
				Str("rules_version", rules.Version).
				Msg("message filtered")
			res.Rejected++
			return nil
		}
		created, err := s.enqueue(ctx, tenant, settings, msg, d)
		if err != nil {
			return err
		}
		if created {
			res.Enqueued++
		} else {
			res.Duplicates++
		}
		return nil
	})
	res.Listed = rr.Listed
	res.Skipped = rr.Skipped + rr.Failed
	res.Rebaselined = rr.Rebaselined
	return res, err
}

// decide gathers the tenant-side history for msg and runs the filter.
func (s *IngestService) decide(ctx context.Context, tenant *domain.Tenant, settings domain.ReplySettings, rules *filter.Rules, msg domain.InboundMessage) (filter.Decision, error) {
	h := filter.History{TenantEmail: tenant.Email}

	ob, err := repo.FindCorrelatedOutbound(ctx, s.DB, tenant.ID, msg.From)
	switch {
	case err == nil:
		h.CorrelatedEmailID = ob.ID
	case !errors.Is(err, repo.ErrNotFound):
		return filter.Decision{}, err
	}
	if h.LastReplyAt, err = repo.LastReplyTo(ctx, s.DB, tenant.ID, msg.From); err != nil {
		return filter.Decision{}, err
	}
	if h.ThreadReplied, err = repo.ThreadReplied(ctx, s.DB, tenant.ID, msg.ThreadID); err != nil {
		return filter.Decision{}, err
	}

	return filter.Evaluate(rules, filter.Input{
		Message:  msg,
		Settings: settings,
		History:  h,
		Now:      s.now(),
	}), nil
}

func (s *IngestService) enqueue(ctx context.Context, tenant *domain.Tenant, settings domain.ReplySettings, msg domain.InboundMessage, d filter.Decision) (bool, error) {
	now := s.now()
	job := &domain.ReplyJob{
		TenantID:        tenant.ID,
		MessageID:       msg.ID,
		Message:         msg,
		MaxRetries:      settings.EffectiveMaxRetries(s.DefaultMaxRetries),
		ScheduledFor:    settings.ScheduleAfter(now),
		OutboundEmailID: d.OutboundEmailID,
	}
	if generator.Analyze(msg).Urgency == generator.UrgencyHigh {
		job.Priority = 1
	}
	out, created, err := repo.EnqueueJob(ctx, s.DB, job)
	if err != nil {
		return false, err
	}
	if created {
		s.Events.Publish(ctx, events.Event{
			Type:      events.JobEnqueued,
			TenantID:  tenant.ID,
			JobID:     out.ID,
			MessageID: out.MessageID,
			At:        now,
		})
	}
	zerolog.Ctx(ctx).Info().
		Str("job_id", out.ID).
		Str("message_id", msg.ID).
		Bool("created", created).
		Time("scheduled_for", out.ScheduledFor).
		Msg("reply job enqueued")
	return created, nil
}

func (s *IngestService) activeSubscription(ctx context.Context, tenantID string) (*domain.WatchSubscription, error) {
	sub, err := repo.GetSubscription(ctx, s.DB, tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !sub.Active) {
		notificationsTotal.WithLabelValues("inactive").Inc()
		return nil, ErrSubscriptionInactive
	}
	return sub, err
}

// settings returns the tenant's settings; a tenant without a row is disabled.
func (s *IngestService) settings(ctx context.Context, tenantID string) (domain.ReplySettings, error) {
	st, err := repo.GetSettings(ctx, s.DB, tenantID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ReplySettings{TenantID: tenantID}, nil
	}
	if err != nil {
		return domain.ReplySettings{}, err
	}
	return *st, nil
}

func (s *IngestService) stopTenant(ctx context.Context, tenantID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := repo.DeactivateSubscription(ctx, s.DB, tenantID, cause.Error()); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to deactivate subscription")
	}
	zerolog.Ctx(ctx).Error().Err(cause).Msg("mailbox credentials rejected; subscription deactivated")
	s.Events.Publish(ctx, events.Event{Type: events.WatchStopped, TenantID: tenantID, Reason: cause.Error(), At: s.now()})
}

func (s *IngestService) limiter(tenantID string) *rate.Limiter {
	now := s.now()
	s.limMu.Lock()
	defer s.limMu.Unlock()

	s.limHits++
	if s.limHits >= limiterSweepEvery {
		for id, b := range s.limiters {
			if now.Sub(b.lastSeen) >= limiterIdleTTL {
				delete(s.limiters, id)
			}
		}
		s.limHits = 0
	}

	if b, ok := s.limiters[tenantID]; ok {
		b.lastSeen = now
		return b.limiter
	}
	n := max(s.RatePerMin, 1)
	l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	s.limiters[tenantID] = &tenantBucket{limiter: l, lastSeen: now}
	return l
}
