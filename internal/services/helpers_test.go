package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/events"
	"github.com/tbourn/go-autoreply-backend/internal/mailbox"
	"github.com/tbourn/go-autoreply-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection serializes writers, as SQLite would on disk.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

// seedTenant creates an enabled tenant with an active subscription at cursor.
func seedTenant(t *testing.T, db *gorm.DB, email string, cursor uint64) *domain.Tenant {
	t.Helper()
	ctx := context.Background()
	tn, err := repo.CreateTenant(ctx, db, &domain.Tenant{Email: email, FirstName: "Alex", DisplayName: "Alex Owner"})
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if err := repo.UpsertSettings(ctx, db, &domain.ReplySettings{
		TenantID:      tn.ID,
		Enabled:       true,
		Mode:          domain.ModeTemplate,
		Tone:          domain.ToneProfessional,
		OncePerThread: true,
	}); err != nil {
		t.Fatalf("UpsertSettings: %v", err)
	}
	now := time.Now().UTC()
	if err := repo.ActivateSubscription(ctx, db, tn.ID, "projects/p/topics/t", cursor, now.Add(7*24*time.Hour), now); err != nil {
		t.Fatalf("ActivateSubscription: %v", err)
	}
	return tn
}

// seedOutbound records that the tenant mailed addr with auto-reply enabled.
func seedOutbound(t *testing.T, db *gorm.DB, tenantID, addr string) *domain.OutboundEmail {
	t.Helper()
	ob, err := repo.CreateOutboundEmail(context.Background(), db, &domain.OutboundEmail{
		TenantID:         tenantID,
		Subject:          "Project Update",
		AutoReplyEnabled: true,
		Recipients:       []domain.OutboundRecipient{{Address: addr}},
	})
	if err != nil {
		t.Fatalf("CreateOutboundEmail: %v", err)
	}
	return ob
}

// ----- Fake mailbox provider -----

type fakeProvider struct {
	mu sync.Mutex

	history    []mailbox.HistoryRef
	latest     uint64
	historyErr error
	messages   map[string]domain.InboundMessage
	// getErrs is consumed one error per GetMessage call for the id.
	getErrs map[string][]error

	// sendErrs is consumed one error per Send call.
	sendErrs []error
	sent     []sentCall

	watch    mailbox.WatchResult
	watchErr error
	watches  int
	stops    int

	listCalls int
	getCalls  map[string]int
}

type sentCall struct {
	raw      []byte
	threadID string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		messages: make(map[string]domain.InboundMessage),
		getErrs:  make(map[string][]error),
		getCalls: make(map[string]int),
	}
}

func (f *fakeProvider) addMessage(m domain.InboundMessage, cursor uint64, labels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(labels) == 0 {
		labels = []string{mailbox.LabelInbox}
	}
	f.history = append(f.history, mailbox.HistoryRef{MessageID: m.ID, ThreadID: m.ThreadID, LabelIDs: labels})
	f.messages[m.ID] = m
	if cursor > f.latest {
		f.latest = cursor
	}
}

func (f *fakeProvider) ListHistory(_ context.Context, start uint64) (mailbox.HistoryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.historyErr != nil {
		return mailbox.HistoryPage{}, f.historyErr
	}
	return mailbox.HistoryPage{
		Messages:     append([]mailbox.HistoryRef(nil), f.history...),
		LatestCursor: f.latest,
	}, nil
}

func (f *fakeProvider) GetMessage(_ context.Context, id string) (domain.InboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls[id]++
	if errs := f.getErrs[id]; len(errs) > 0 {
		f.getErrs[id] = errs[1:]
		if errs[0] != nil {
			return domain.InboundMessage{}, errs[0]
		}
	}
	m, ok := f.messages[id]
	if !ok {
		return domain.InboundMessage{}, fmt.Errorf("message %s: not found", id)
	}
	return m, nil
}

func (f *fakeProvider) Send(_ context.Context, raw []byte, threadID string) (mailbox.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return mailbox.SentMessage{}, err
		}
	}
	f.sent = append(f.sent, sentCall{raw: raw, threadID: threadID})
	return mailbox.SentMessage{ID: fmt.Sprintf("sent-%d", len(f.sent)), ThreadID: threadID}, nil
}

func (f *fakeProvider) Watch(_ context.Context, _ string) (mailbox.WatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watches++
	return f.watch, f.watchErr
}

func (f *fakeProvider) Stop(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeProvider) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func factoryFor(p mailbox.Provider) mailbox.Factory {
	return mailbox.FactoryFunc(func(context.Context, *domain.Tenant) (mailbox.Provider, error) {
		return p, nil
	})
}

// ----- Event recorder -----

type recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e)
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.got))
	for _, e := range r.got {
		out = append(out, e.Type)
	}
	return out
}

// replyMessage is a genuine reply from addr in thread th.
func replyMessage(id, addr, th string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:              id,
		ThreadID:        th,
		From:            addr,
		FromName:        "Casey Client",
		To:              []string{"owner@acme.io"},
		Subject:         "Re: Project Update",
		Body:            "Thanks, sounds good. Let me know the next steps.",
		MessageIDHeader: id + "@mail.example.com",
		InReplyTo:       "orig@acme.io",
		ReceivedAt:      time.Now().UTC(),
	}
}
