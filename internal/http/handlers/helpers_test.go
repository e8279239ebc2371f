package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/events"
	"github.com/tbourn/go-autoreply-backend/internal/http/middleware"
	"github.com/tbourn/go-autoreply-backend/internal/services"
)

var errTest = errors.New("boom")

//
// Fakes
//

type fakeIngestor struct {
	mu   sync.Mutex
	got  []services.Notification
	res  services.IngestResult
	err  error
	hook func(services.Notification)
}

func (f *fakeIngestor) HandleNotification(_ context.Context, n services.Notification) (services.IngestResult, error) {
	f.mu.Lock()
	f.got = append(f.got, n)
	f.mu.Unlock()
	if f.hook != nil {
		f.hook(n)
	}
	return f.res, f.err
}

type fakeTenants struct {
	tenants  map[string]*domain.Tenant
	settings map[string]*domain.ReplySettings
	jobs     []domain.ReplyJob
	err      error

	lastRegister services.RegisterInput
	lastOutbound services.OutboundInput
	listCalls    int
}

func newFakeTenants(ids ...string) *fakeTenants {
	f := &fakeTenants{tenants: map[string]*domain.Tenant{}, settings: map[string]*domain.ReplySettings{}}
	for _, id := range ids {
		f.tenants[id] = &domain.Tenant{ID: id, Email: "owner@acme.io"}
	}
	return f
}

func (f *fakeTenants) lookup(id string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.tenants[id]; !ok {
		return services.ErrTenantNotFound
	}
	return nil
}

func (f *fakeTenants) Register(_ context.Context, in services.RegisterInput) (*domain.Tenant, error) {
	f.lastRegister = in
	if f.err != nil {
		return nil, f.err
	}
	t := &domain.Tenant{ID: uuid.NewString(), Email: in.Email, FirstName: in.FirstName}
	f.tenants[t.ID] = t
	return t, nil
}

func (f *fakeTenants) Get(_ context.Context, id string) (*domain.Tenant, error) {
	if err := f.lookup(id); err != nil {
		return nil, err
	}
	return f.tenants[id], nil
}

func (f *fakeTenants) Settings(_ context.Context, id string) (*domain.ReplySettings, error) {
	if err := f.lookup(id); err != nil {
		return nil, err
	}
	if s, ok := f.settings[id]; ok {
		return s, nil
	}
	return &domain.ReplySettings{TenantID: id, Mode: domain.ModeTemplate}, nil
}

func (f *fakeTenants) UpdateSettings(_ context.Context, id string, in domain.ReplySettings) (*domain.ReplySettings, error) {
	if err := f.lookup(id); err != nil {
		return nil, err
	}
	if in.DelayMinutes < 0 {
		return nil, services.Invalid("delay_minutes", "must be >= 0")
	}
	in.TenantID = id
	f.settings[id] = &in
	return &in, nil
}

func (f *fakeTenants) RecordOutbound(_ context.Context, id string, in services.OutboundInput) (*domain.OutboundEmail, error) {
	if err := f.lookup(id); err != nil {
		return nil, err
	}
	f.lastOutbound = in
	return &domain.OutboundEmail{ID: uuid.NewString(), TenantID: id, Subject: in.Subject}, nil
}

func (f *fakeTenants) ListJobsPage(_ context.Context, id string, _ domain.JobStatus, page, pageSize int) ([]domain.ReplyJob, int64, error) {
	f.listCalls++
	if err := f.lookup(id); err != nil {
		return nil, 0, err
	}
	total := int64(len(f.jobs))
	start := min((page-1)*pageSize, len(f.jobs))
	end := min(start+pageSize, len(f.jobs))
	return f.jobs[start:end], total, nil
}

func (f *fakeTenants) Job(_ context.Context, id, jobID string) (*domain.ReplyJob, error) {
	if err := f.lookup(id); err != nil {
		return nil, err
	}
	for i := range f.jobs {
		if f.jobs[i].ID == jobID {
			return &f.jobs[i], nil
		}
	}
	return nil, services.ErrJobNotFound
}

type fakeWatcher struct {
	startErr, stopErr error
	starts, stops     int
}

func (f *fakeWatcher) Start(_ context.Context, id string) (*domain.WatchSubscription, error) {
	f.starts++
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &domain.WatchSubscription{TenantID: id, Active: true, HistoryCursor: 500}, nil
}

func (f *fakeWatcher) Stop(context.Context, string) error {
	f.stops++
	return f.stopErr
}

//
// Router and payload helpers
//

func newTestRouter(t *testing.T, h *Handlers) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery())
	r.POST("/webhooks/gmail", h.Webhook)
	r.POST("/tenants", h.RegisterTenant)
	r.GET("/tenants/:id", h.GetTenant)
	r.GET("/tenants/:id/settings", h.GetSettings)
	r.PUT("/tenants/:id/settings", h.PutSettings)
	r.POST("/tenants/:id/watch", h.StartWatch)
	r.DELETE("/tenants/:id/watch", h.StopWatch)
	r.POST("/tenants/:id/outbound", h.RecordOutbound)
	r.GET("/tenants/:id/jobs", h.ListJobs)
	r.GET("/tenants/:id/jobs/:jobID", h.GetJob)
	r.GET("/tenants/:id/events", h.Events)
	return r
}

// pushBody builds a Pub/Sub push envelope around payload.
func pushBody(t *testing.T, messageID string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	env := map[string]any{
		"message": map[string]any{
			"data":        base64.StdEncoding.EncodeToString(raw),
			"messageId":   messageID,
			"publishTime": "2025-01-01T00:00:00Z",
		},
		"subscription": "projects/p/subscriptions/s",
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func decodeError(t *testing.T, body []byte) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("json: %v (%s)", err, body)
	}
	return resp
}

var _ EventSource = (*events.Hub)(nil)
