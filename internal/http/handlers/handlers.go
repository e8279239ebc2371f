// Package handlers implements the HTTP endpoints: the mailbox push webhook,
// the tenant management API (registration, settings, watch lifecycle,
// outbound email recording), the job audit listing and the live event feed.
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses.
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/events"
	"github.com/tbourn/go-autoreply-backend/internal/services"
	"github.com/tbourn/go-autoreply-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// Ingestor handles decoded push notifications.
type Ingestor interface {
	HandleNotification(ctx context.Context, n services.Notification) (services.IngestResult, error)
}

// TenantService defines the management operations consumed by handlers.
type TenantService interface {
	Register(ctx context.Context, in services.RegisterInput) (*domain.Tenant, error)
	Get(ctx context.Context, id string) (*domain.Tenant, error)
	Settings(ctx context.Context, tenantID string) (*domain.ReplySettings, error)
	UpdateSettings(ctx context.Context, tenantID string, in domain.ReplySettings) (*domain.ReplySettings, error)
	RecordOutbound(ctx context.Context, tenantID string, in services.OutboundInput) (*domain.OutboundEmail, error)
	ListJobsPage(ctx context.Context, tenantID string, status domain.JobStatus, page, pageSize int) ([]domain.ReplyJob, int64, error)
	Job(ctx context.Context, tenantID, jobID string) (*domain.ReplyJob, error)
}

// Watcher controls a tenant's push subscription.
type Watcher interface {
	Start(ctx context.Context, tenantID string) (*domain.WatchSubscription, error)
	Stop(ctx context.Context, tenantID string) error
}

// EventSource streams per-tenant job events.
type EventSource interface {
	Subscribe(tenantID string) (<-chan events.Event, func())
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints.
type Handlers struct {
	ingest  Ingestor
	tenants TenantService
	watch   Watcher
	feed    EventSource
	webhook *WebhookValidator

	// db enables the ETag pre-check of job listings; nil disables it.
	db *gorm.DB
	// wsOrigins are host patterns accepted for the websocket feed.
	wsOrigins []string
}

// Option customizes Handlers.
type Option func(*Handlers)

// WithStatsDB enables cheap ETag pre-checks on listings.
func WithStatsDB(db *gorm.DB) Option { return func(h *Handlers) { h.db = db } }

// WithWebsocketOrigins sets the origin patterns accepted by the event feed.
func WithWebsocketOrigins(patterns ...string) Option {
	return func(h *Handlers) { h.wsOrigins = patterns }
}

// New constructs Handlers bound to the given services.
func New(ingest Ingestor, tenants TenantService, watch Watcher, feed EventSource, opts ...Option) *Handlers {
	h := &Handlers{
		ingest:  ingest,
		tenants: tenants,
		watch:   watch,
		feed:    feed,
		webhook: MustWebhookValidator(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

//
// Shared DTOs and helpers
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses page and page_size with defaults and a cap.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
}
