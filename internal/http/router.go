// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - The push webhook is never throttled per IP: the provider delivers for
//     every tenant from a shared pool, and ingestion applies its own
//     per-tenant budget
package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-autoreply-backend/docs" // registers the OpenAPI document
	"github.com/tbourn/go-autoreply-backend/internal/config"
	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/http/handlers"
	"github.com/tbourn/go-autoreply-backend/internal/http/middleware"
	"github.com/tbourn/go-autoreply-backend/internal/repo"
	"github.com/tbourn/go-autoreply-backend/internal/services"
)

// WebhookPath is the push endpoint. It is mounted outside the API base path
// because the subscription's push URL is configured once at the provider.
const WebhookPath = "/webhooks/gmail"

// tenantRepoShim adapts the repository free functions to the
// services.TenantRepo interface expected by the TenantService.
type tenantRepoShim struct{}

// CreateTenant proxies repo.CreateTenant.
func (tenantRepoShim) CreateTenant(ctx context.Context, db *gorm.DB, t *domain.Tenant) (*domain.Tenant, error) {
	return repo.CreateTenant(ctx, db, t)
}

// GetTenant proxies repo.GetTenant.
func (tenantRepoShim) GetTenant(ctx context.Context, db *gorm.DB, id string) (*domain.Tenant, error) {
	return repo.GetTenant(ctx, db, id)
}

// GetSettings proxies repo.GetSettings.
func (tenantRepoShim) GetSettings(ctx context.Context, db *gorm.DB, tenantID string) (*domain.ReplySettings, error) {
	return repo.GetSettings(ctx, db, tenantID)
}

// UpsertSettings proxies repo.UpsertSettings.
func (tenantRepoShim) UpsertSettings(ctx context.Context, db *gorm.DB, s *domain.ReplySettings) error {
	return repo.UpsertSettings(ctx, db, s)
}

// CreateOutboundEmail proxies repo.CreateOutboundEmail.
func (tenantRepoShim) CreateOutboundEmail(ctx context.Context, db *gorm.DB, ob *domain.OutboundEmail) (*domain.OutboundEmail, error) {
	return repo.CreateOutboundEmail(ctx, db, ob)
}

// CountJobs proxies repo.CountJobs (pagination support).
func (tenantRepoShim) CountJobs(ctx context.Context, db *gorm.DB, tenantID string, status domain.JobStatus) (int64, error) {
	return repo.CountJobs(ctx, db, tenantID, status)
}

// ListJobsPage proxies repo.ListJobsPage (pagination support).
func (tenantRepoShim) ListJobsPage(ctx context.Context, db *gorm.DB, tenantID string, status domain.JobStatus, offset, limit int) ([]domain.ReplyJob, error) {
	return repo.ListJobsPage(ctx, db, tenantID, status, offset, limit)
}

// GetJob proxies repo.GetJob.
func (tenantRepoShim) GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.ReplyJob, error) {
	return repo.GetJob(ctx, db, id)
}

// Deps carries the long-lived pipeline services built by the binary. The
// tenant management service is assembled here from the database handle.
type Deps struct {
	Ingest handlers.Ingestor
	Watch  handlers.Watcher
	Events handlers.EventSource
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting,
// compression, CORS and security headers, health and metrics endpoints, the
// push webhook, and then mounts the management API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per IP; webhook, health and metrics exempt)
//  8. Compression (websocket feed exempt)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-Goog-Channel-Token"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP(),
		"/health", "/metrics", WebhookPath)
	r.Use(rl.Handler())

	// 8) Response compression; hijacked websocket connections must bypass it
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/metrics"}),
		gzip.WithExcludedPathsRegexs([]string{`/events$`}),
	))

	// 9) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", "X-Request-ID"}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{joinPath(apiBase, "/tenants")},
		EnablePolicy:    true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db
	tenantSvc := services.NewTenantService(db, tenantRepoShim{})
	tenantSvc.DefaultMaxRetries = cfg.Scheduler.MaxRetries

	h := handlers.New(deps.Ingest, tenantSvc, deps.Watch, deps.Events,
		handlers.WithStatsDB(db),
		handlers.WithWebsocketOrigins(originPatterns(cfg.CORS.AllowedOrigins)...),
	)

	// Push webhook
	r.POST(WebhookPath, h.Webhook)

	// Management API
	api := groupWithPrefix(r, apiBase)
	{
		// Tenants
		api.POST("/tenants", h.RegisterTenant)
		api.GET("/tenants/:id", h.GetTenant)
		api.GET("/tenants/:id/settings", h.GetSettings)
		api.PUT("/tenants/:id/settings", h.PutSettings)
		api.POST("/tenants/:id/watch", h.StartWatch)
		api.DELETE("/tenants/:id/watch", h.StopWatch)
		api.POST("/tenants/:id/outbound", h.RecordOutbound)

		// Jobs
		api.GET("/tenants/:id/jobs", h.ListJobs)
		api.GET("/tenants/:id/jobs/:jobID", h.GetJob)
		api.GET("/tenants/:id/events", h.Events)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}

// originPatterns turns CORS origins ("https://app.acme.io") into the host
// patterns the websocket handshake matches against. No allowlist means
// same-origin only.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
