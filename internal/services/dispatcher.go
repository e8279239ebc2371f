package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/events"
	"github.com/tbourn/go-autoreply-backend/internal/filter"
	"github.com/tbourn/go-autoreply-backend/internal/generator"
	"github.com/tbourn/go-autoreply-backend/internal/mailbox"
	"github.com/tbourn/go-autoreply-backend/internal/repo"
)

// Dispatcher processes one claimed job: it re-checks eligibility, generates
// the reply, sends it through the tenant's mailbox and records the result.
type Dispatcher struct {
	DB        *gorm.DB
	Factory   mailbox.Factory
	Generator *generator.Generator
	Events    events.Publisher
	// Rules supplies the loop window re-checked before sending.
	Rules *filter.RuleSet

	// RetryBase is the exponential base of the retry delay in minutes.
	RetryBase float64

	now func() time.Time
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(db *gorm.DB, factory mailbox.Factory, gen *generator.Generator, rules *filter.RuleSet, pub events.Publisher, retryBase float64) *Dispatcher {
	if pub == nil {
		pub = events.Discard{}
	}
	if rules == nil {
		rules = filter.NewRuleSet(nil)
	}
	return &Dispatcher{
		DB:        db,
		Factory:   factory,
		Generator: gen,
		Events:    pub,
		Rules:     rules,
		RetryBase: retryBase,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RetryDelay is base^retryCount minutes.
func RetryDelay(base float64, retryCount int) time.Duration {
	return time.Duration(math.Pow(base, float64(retryCount)) * float64(time.Minute))
}

// Process runs a job that is already in processing. It returns the status
// the job ended in. When ctx ends first the job is left in processing for
// the lease sweep and ctx's error is returned.
func (d *Dispatcher) Process(ctx context.Context, job *domain.ReplyJob) (domain.JobStatus, error) {
	ctx, span := otel.Tracer("services/dispatcher").Start(ctx, "Dispatcher.Process")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.String("tenant.id", job.TenantID))

	lg := zerolog.Ctx(ctx).With().
		Str("job_id", job.ID).
		Str("tenant_id", job.TenantID).
		Str("message_id", job.MessageID).
		Logger()
	ctx = lg.WithContext(ctx)

	tenant, err := repo.GetTenant(ctx, d.DB, job.TenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.fail(ctx, job, "tenant no longer exists")
	}
	if err != nil {
		return d.retry(ctx, job, err)
	}

	settings, err := repo.GetSettings(ctx, d.DB, job.TenantID)
	switch {
	case errors.Is(err, repo.ErrNotFound) || (err == nil && !settings.Enabled):
		return d.cancel(ctx, job, "auto-reply disabled")
	case err != nil:
		return d.retry(ctx, job, err)
	}

	if reason, err := d.duplicate(ctx, job, *settings); err != nil {
		return d.retry(ctx, job, err)
	} else if reason != "" {
		return d.cancel(ctx, job, fmt.Sprintf("%v: %s", ErrDuplicate, reason))
	}

	provider, err := d.Factory.ForTenant(ctx, tenant)
	if err != nil {
		return d.sendFailed(ctx, job, err)
	}

	gen, err := d.Generator.Generate(ctx, generator.Request{Tenant: tenant, Settings: *settings, Message: job.Message})
	if err != nil {
		return job.Status, err
	}
	path := "template"
	if gen.AIGenerated {
		path = "ai"
	}
	generationPaths.WithLabelValues(path).Inc()

	reply, err := mailbox.ComposeReply(tenant, job.Message, gen.Content, d.now())
	if err != nil {
		return d.fail(ctx, job, err.Error())
	}

	sent, err := provider.Send(ctx, reply.Raw, job.Message.ThreadID)
	if err != nil {
		return d.sendFailed(ctx, job, err)
	}

	threadID := sent.ThreadID
	if threadID == "" {
		threadID = job.Message.ThreadID
	}
	now := d.now()
	result := domain.ReplyResult{
		Content:        gen.Content,
		AIGenerated:    gen.AIGenerated,
		TokensUsed:     gen.TokensUsed,
		Classification: string(gen.Classification),
		SentMessageID:  sent.ID,
		ThreadID:       threadID,
	}
	record := &domain.SentReplyRecord{
		TenantID:         job.TenantID,
		ThreadID:         threadID,
		Recipient:        reply.To,
		InboundMessageID: job.MessageID,
		ReplyMessageID:   sent.ID,
		JobID:            job.ID,
		SentAt:           now,
	}
	// The mail is out; the record must land even if ctx just expired.
	if err := repo.MarkJobSent(context.WithoutCancel(ctx), d.DB, job.ID, result, record, now); err != nil {
		lg.Error().Err(err).Str("sent_message_id", sent.ID).Msg("reply sent but job not recorded")
		return job.Status, err
	}
	d.finish(ctx, job, domain.JobSent, "")
	lg.Info().
		Str("classification", result.Classification).
		Bool("ai_generated", result.AIGenerated).
		Str("sent_message_id", sent.ID).
		Msg("auto-reply sent")
	return domain.JobSent, nil
}

// duplicate reports why job must not be answered, or "".
func (d *Dispatcher) duplicate(ctx context.Context, job *domain.ReplyJob, settings domain.ReplySettings) (string, error) {
	sent, err := repo.ReplySentFor(ctx, d.DB, job.TenantID, job.MessageID)
	if err != nil || sent {
		return "message already answered", err
	}
	if settings.OncePerThread {
		replied, err := repo.ThreadReplied(ctx, d.DB, job.TenantID, job.Message.ThreadID)
		if err != nil || replied {
			return "thread already answered", err
		}
	}
	// Jobs queued before an earlier reply to the same sender went out were
	// accepted without seeing it.
	last, err := repo.LastReplyTo(ctx, d.DB, job.TenantID, job.Message.From)
	if err != nil {
		return "", err
	}
	if last != nil && d.now().Sub(*last) < d.Rules.Current().LoopWindow {
		return "replied to sender within loop window", nil
	}
	return "", nil
}

// sendFailed routes a provider error: rejected credentials stop the tenant's
// pipeline and fail the job, anything else goes through the retry policy.
func (d *Dispatcher) sendFailed(ctx context.Context, job *domain.ReplyJob, err error) (domain.JobStatus, error) {
	if !mailbox.IsAuth(err) {
		return d.retry(ctx, job, err)
	}
	if derr := repo.DeactivateSubscription(ctx, d.DB, job.TenantID, err.Error()); derr != nil {
		zerolog.Ctx(ctx).Error().Err(derr).Msg("failed to deactivate subscription")
	}
	d.Events.Publish(ctx, events.Event{Type: events.WatchStopped, TenantID: job.TenantID, Reason: err.Error(), At: d.now()})
	return d.fail(ctx, job, err.Error())
}

// retry applies the retry policy: another attempt at base^retryCount
// minutes while budget remains, otherwise a terminal failure.
func (d *Dispatcher) retry(ctx context.Context, job *domain.ReplyJob, cause error) (domain.JobStatus, error) {
	if ctx.Err() != nil {
		return job.Status, ctx.Err()
	}
	count := job.RetryCount + 1
	if count >= job.MaxRetries {
		return d.failCounted(ctx, job, count, cause.Error())
	}
	next := d.now().Add(RetryDelay(d.RetryBase, count))
	if err := repo.MarkJobRetry(ctx, d.DB, job.ID, count, next, cause.Error()); err != nil {
		return job.Status, err
	}
	job.RetryCount = count
	d.finish(ctx, job, domain.JobRetry, cause.Error())
	zerolog.Ctx(ctx).Warn().Err(cause).
		Int("retry_count", count).
		Time("next_attempt", next).
		Msg("reply attempt failed; retry scheduled")
	return domain.JobRetry, nil
}

func (d *Dispatcher) fail(ctx context.Context, job *domain.ReplyJob, reason string) (domain.JobStatus, error) {
	return d.failCounted(ctx, job, job.RetryCount, reason)
}

func (d *Dispatcher) failCounted(ctx context.Context, job *domain.ReplyJob, count int, reason string) (domain.JobStatus, error) {
	if ctx.Err() != nil {
		return job.Status, ctx.Err()
	}
	if err := repo.MarkJobFailed(ctx, d.DB, job.ID, count, reason, d.now()); err != nil {
		return job.Status, err
	}
	job.RetryCount = count
	d.finish(ctx, job, domain.JobFailed, reason)
	zerolog.Ctx(ctx).Error().Str("reason", reason).Int("retry_count", count).Msg("reply job failed")
	return domain.JobFailed, nil
}

func (d *Dispatcher) cancel(ctx context.Context, job *domain.ReplyJob, reason string) (domain.JobStatus, error) {
	if ctx.Err() != nil {
		return job.Status, ctx.Err()
	}
	if err := repo.CancelJob(ctx, d.DB, job.ID, reason, d.now()); err != nil {
		return job.Status, err
	}
	d.finish(ctx, job, domain.JobCancelled, reason)
	zerolog.Ctx(ctx).Info().Str("reason", reason).Msg("reply job cancelled")
	return domain.JobCancelled, nil
}

func (d *Dispatcher) finish(ctx context.Context, job *domain.ReplyJob, status domain.JobStatus, reason string) {
	job.Status = status
	jobOutcomes.WithLabelValues(string(status)).Inc()
	typ := map[domain.JobStatus]events.Type{
		domain.JobSent:      events.JobSent,
		domain.JobRetry:     events.JobRetry,
		domain.JobFailed:    events.JobFailed,
		domain.JobCancelled: events.JobCancelled,
	}[status]
	d.Events.Publish(ctx, events.Event{
		Type:      typ,
		TenantID:  job.TenantID,
		JobID:     job.ID,
		MessageID: job.MessageID,
		Reason:    reason,
		At:        d.now(),
	})
}
