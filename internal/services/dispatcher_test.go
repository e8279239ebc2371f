package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/go-autoreply-backend/internal/config"
	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/events"
	"github.com/tbourn/go-autoreply-backend/internal/generator"
	"github.com/tbourn/go-autoreply-backend/internal/mailbox"
	"github.com/tbourn/go-autoreply-backend/internal/repo"
)

type stubCompleter struct{ calls int }

func (s *stubCompleter) Complete(context.Context, generator.CompletionRequest) (generator.Completion, error) {
	s.calls++
	return generator.Completion{Text: "AI reply.\n\nBest,\nAlex", TokensUsed: 10}, nil
}

func newDispatcher(db *gorm.DB, p mailbox.Provider, gen *generator.Generator, pub events.Publisher) *Dispatcher {
	if gen == nil {
		gen = generator.New(nil, config.GeneratorConfig{RatePerMin: 10})
	}
	return NewDispatcher(db, factoryFor(p), gen, nil, pub, 2)
}

// claimedJob enqueues msg for tenant and claims it.
func claimedJob(t *testing.T, db *gorm.DB, tenantID string, msg domain.InboundMessage, maxRetries int) *domain.ReplyJob {
	t.Helper()
	ctx := context.Background()
	j, _, err := repo.EnqueueJob(ctx, db, &domain.ReplyJob{TenantID: tenantID, MessageID: msg.ID, Message: msg, MaxRetries: maxRetries})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := repo.ClaimJob(ctx, db, j.ID, time.Now()); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	j.Status = domain.JobProcessing
	return j
}

func TestProcess_SendsAndRecords(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tn := seedTenant(t, db, "owner@acme.io", 1)
	p := newFakeProvider()
	rec := &recorder{}
	d := newDispatcher(db, p, nil, rec)

	job := claimedJob(t, db, tn.ID, replyMessage("m1", "client@example.com", "th1"), 3)
	status, err := d.Process(ctx, job)
	if err != nil || status != domain.JobSent {
		t.Fatalf("status=%s err=%v", status, err)
	}

	if p.sentCount() != 1 || p.sent[0].threadID != "th1" {
		t.Fatalf("send not threaded: %+v", p.sent)
	}
	raw := string(p.sent[0].raw)
	for _, want := range []string{"In-Reply-To: <m1@mail.example.com>", "Auto-Submitted: auto-replied", "Subject: Re: Project Update"} {
		if !strings.Contains(raw, want) {
			t.Errorf("reply missing %q", want)
		}
	}

	got, _ := repo.GetJob(ctx, db, job.ID)
	if got.Status != domain.JobSent || got.SentMessageID != "sent-1" || got.AIGenerated || got.ResultContent == "" {
		t.Fatalf("unexpected job %+v", got)
	}
	at, _ := repo.LastReplyTo(ctx, db, tn.ID, "client@example.com")
	if at == nil {
		t.Fatalf("sent reply record missing")
	}
	if types := rec.types(); len(types) != 1 || types[0] != events.JobSent {
		t.Fatalf("events = %v", types)
	}
}

func TestProcess_RateLimitedUsesTemplate(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tn := seedTenant(t, db, "owner@acme.io", 1)
	if err := repo.UpsertSettings(ctx, db, &domain.ReplySettings{TenantID: tn.ID, Enabled: true, Mode: domain.ModeAI, Tone: domain.ToneProfessional}); err != nil {
		t.Fatal(err)
	}
	comp := &stubCompleter{}
	gen := generator.New(comp, config.GeneratorConfig{RatePerMin: 10, CacheSize: 10, CacheTTL: time.Hour},
		generator.WithLimiter(rate.NewLimiter(rate.Every(time.Hour), 0)))
	p := newFakeProvider()
	d := newDispatcher(db, p, gen, nil)

	msg := replyMessage("m1", "client@example.com", "th1")
	msg.Body = "ok"
	job := claimedJob(t, db, tn.ID, msg, 3)
	if status, err := d.Process(ctx, job); err != nil || status != domain.JobSent {
		t.Fatalf("status=%s err=%v", status, err)
	}
	got, _ := repo.GetJob(ctx, db, job.ID)
	if got.AIGenerated || got.Classification != string(generator.ClassGeneral) {
		t.Fatalf("expected general template reply, got %+v", got)
	}
	if comp.calls != 0 {
		t.Fatalf("provider must not be called when rate limited")
	}
}

func TestProcess_TransientRetriesWithGrowingDelay(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tn := seedTenant(t, db, "owner@acme.io", 1)
	p := newFakeProvider()
	transient := &mailbox.TransientError{Op: "messages.send", Err: errors.New("503")}
	p.sendErrs = []error{transient, transient, transient}
	d := newDispatcher(db, p, nil, nil)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	job := claimedJob(t, db, tn.ID, replyMessage("m1", "client@example.com", "th1"), 3)

	var delays []time.Duration
	for attempt := 1; attempt <= 2; attempt++ {
		status, err := d.Process(ctx, job)
		if err != nil || status != domain.JobRetry {
			t.Fatalf("attempt %d: status=%s err=%v", attempt, status, err)
		}
		got, _ := repo.GetJob(ctx, db, job.ID)
		if got.RetryCount != attempt {
			t.Fatalf("retry_count = %d, want %d", got.RetryCount, attempt)
		}
		delays = append(delays, got.ScheduledFor.Sub(now))
		if err := repo.ClaimJob(ctx, db, job.ID, now); err != nil {
			t.Fatalf("reclaim: %v", err)
		}
		job.Status = domain.JobProcessing
	}
	if delays[0] != 2*time.Minute || delays[1] != 4*time.Minute {
		t.Fatalf("delays = %v, want [2m 4m]", delays)
	}

	// Third failure exhausts the budget.
	status, err := d.Process(ctx, job)
	if err != nil || status != domain.JobFailed {
		t.Fatalf("status=%s err=%v", status, err)
	}
	got, _ := repo.GetJob(ctx, db, job.ID)
	if got.Status != domain.JobFailed || got.RetryCount != 3 || got.CompletedAt == nil {
		t.Fatalf("unexpected job %+v", got)
	}
	due, _ := repo.DequeueJobs(ctx, db, now.Add(time.Hour), 10)
	if len(due) != 0 {
		t.Fatalf("failed job must never be dequeued")
	}
}

func TestRetryDelay_StrictlyIncreasing(t *testing.T) {
	prev := time.Duration(0)
	for n := 1; n <= 6; n++ {
		d := RetryDelay(2, n)
		if d <= prev {
			t.Fatalf("delay(%d)=%v not greater than %v", n, d, prev)
		}
		prev = d
	}
	if RetryDelay(1.5, 2) != time.Duration(2.25*float64(time.Minute)) {
		t.Fatalf("unexpected fractional base delay %v", RetryDelay(1.5, 2))
	}
}

func TestProcess_AuthErrorFailsAndDeactivates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tn := seedTenant(t, db, "owner@acme.io", 1)
	p := newFakeProvider()
	p.sendErrs = []error{&mailbox.AuthError{Err: errors.New("invalid_grant")}}
	rec := &recorder{}
	d := newDispatcher(db, p, nil, rec)

	job := claimedJob(t, db, tn.ID, replyMessage("m1", "client@example.com", "th1"), 3)
	status, err := d.Process(ctx, job)
	if err != nil || status != domain.JobFailed {
		t.Fatalf("status=%s err=%v", status, err)
	}
	got, _ := repo.GetJob(ctx, db, job.ID)
	if got.RetryCount != 0 {
		t.Fatalf("auth failures are not retried, retry_count=%d", got.RetryCount)
	}
	sub, _ := repo.GetSubscription(ctx, db, tn.ID)
	if sub.Active {
		t.Fatalf("subscription should be inactive")
	}
	types := rec.types()
	if len(types) != 2 || types[0] != events.WatchStopped || types[1] != events.JobFailed {
		t.Fatalf("events = %v", types)
	}
}

func TestProcess_CancelsDuplicatesAndDisabled(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tn := seedTenant(t, db, "owner@acme.io", 1)
	p := newFakeProvider()
	d := newDispatcher(db, p, nil, nil)

	// Thread already answered (once-per-thread is on).
	if err := db.Create(&domain.SentReplyRecord{
		TenantID: tn.ID, ThreadID: "th1", Recipient: "client@example.com",
		InboundMessageID: "m0", JobID: "j0", SentAt: time.Now().UTC(),
	}).Error; err != nil {
		t.Fatal(err)
	}
	job := claimedJob(t, db, tn.ID, replyMessage("m1", "client@example.com", "th1"), 3)
	if status, err := d.Process(ctx, job); err != nil || status != domain.JobCancelled {
		t.Fatalf("status=%s err=%v", status, err)
	}
	got, _ := repo.GetJob(ctx, db, job.ID)
	if !strings.Contains(got.LastError, ErrDuplicate.Error()) {
		t.Fatalf("last_error = %q", got.LastError)
	}

	// Disabled after enqueue.
	if err := repo.UpsertSettings(ctx, db, &domain.ReplySettings{TenantID: tn.ID, Mode: domain.ModeTemplate, Tone: domain.ToneProfessional}); err != nil {
		t.Fatal(err)
	}
	job2 := claimedJob(t, db, tn.ID, replyMessage("m2", "client@example.com", "th2"), 3)
	if status, err := d.Process(ctx, job2); err != nil || status != domain.JobCancelled {
		t.Fatalf("status=%s err=%v", status, err)
	}
	if p.sentCount() != 0 {
		t.Fatalf("nothing should have been sent")
	}
}

func TestProcess_SameSenderQueuedTwiceRepliesOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tn := seedTenant(t, db, "owner@acme.io", 1)
	p := newFakeProvider()
	d := newDispatcher(db, p, nil, nil)

	// Both jobs were accepted before either reply went out.
	first := claimedJob(t, db, tn.ID, replyMessage("m1", "client@example.com", "th1"), 3)
	second := claimedJob(t, db, tn.ID, replyMessage("m2", "Client@Example.com", "th2"), 3)

	if status, err := d.Process(ctx, first); err != nil || status != domain.JobSent {
		t.Fatalf("first: status=%s err=%v", status, err)
	}
	if status, err := d.Process(ctx, second); err != nil || status != domain.JobCancelled {
		t.Fatalf("second: status=%s err=%v", status, err)
	}
	if p.sentCount() != 1 {
		t.Fatalf("sends = %d, want 1", p.sentCount())
	}
	got, _ := repo.GetJob(ctx, db, second.ID)
	if !strings.Contains(got.LastError, ErrDuplicate.Error()) || !strings.Contains(got.LastError, "loop window") {
		t.Fatalf("last_error = %q", got.LastError)
	}
}

func TestProcess_SenderRepliedOutsideLoopWindowIsSent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tn := seedTenant(t, db, "owner@acme.io", 1)
	p := newFakeProvider()
	d := newDispatcher(db, p, nil, nil)

	if err := db.Create(&domain.SentReplyRecord{
		TenantID: tn.ID, ThreadID: "th0", Recipient: "client@example.com",
		InboundMessageID: "m0", JobID: "j0", SentAt: time.Now().UTC().Add(-48 * time.Hour),
	}).Error; err != nil {
		t.Fatal(err)
	}
	job := claimedJob(t, db, tn.ID, replyMessage("m1", "client@example.com", "th1"), 3)
	if status, err := d.Process(ctx, job); err != nil || status != domain.JobSent {
		t.Fatalf("status=%s err=%v", status, err)
	}
}

func TestProcess_ContextDoneLeavesProcessing(t *testing.T) {
	db := newTestDB(t)
	tn := seedTenant(t, db, "owner@acme.io", 1)
	p := newFakeProvider()
	p.sendErrs = []error{context.DeadlineExceeded}
	d := newDispatcher(db, p, nil, nil)
	job := claimedJob(t, db, tn.ID, replyMessage("m1", "client@example.com", "th1"), 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The provider fails as if the deadline hit mid-send; cancel before the
	// failure is routed.
	d.Factory = mailbox.FactoryFunc(func(context.Context, *domain.Tenant) (mailbox.Provider, error) {
		cancel()
		return p, nil
	})
	if _, err := d.Process(ctx, job); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	got, _ := repo.GetJob(context.Background(), db, job.ID)
	if got.Status != domain.JobProcessing {
		t.Fatalf("status = %s, want processing", got.Status)
	}
}
