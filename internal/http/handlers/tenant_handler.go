// Tenant management handlers.
//
//   - POST   /tenants                   (register a mailbox)
//   - GET    /tenants/{id}              (fetch)
//   - GET    /tenants/{id}/settings     (reply settings)
//   - PUT    /tenants/{id}/settings     (replace reply settings)
//   - POST   /tenants/{id}/watch        (start push notifications)
//   - DELETE /tenants/{id}/watch        (stop push notifications)
//   - POST   /tenants/{id}/outbound     (record a tenant-sent email)
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/services"
)

// RegisterTenantRequest is the JSON payload for registering a tenant.
type RegisterTenantRequest struct {
	Email       string `json:"email"        binding:"required,max=320" example:"owner@acme.io"`
	DisplayName string `json:"display_name" binding:"max=255"          example:"Alex Owner"`
	FirstName   string `json:"first_name"   binding:"max=128"          example:"Alex"`
	Company     string `json:"company"      binding:"max=255"          example:"Acme"`
	Signature   string `json:"signature"    binding:"max=2000"`
	// Credentials is the opaque OAuth token JSON used by the mailbox provider.
	Credentials string `json:"credentials"`
}

// SettingsRequest is the JSON payload for replacing reply settings.
type SettingsRequest struct {
	Enabled            bool           `json:"enabled"`
	Mode               string         `json:"mode"                 example:"template"`
	Tone               string         `json:"tone"                 example:"professional"`
	DelayMinutes       int            `json:"delay_minutes"`
	SkipKeywords       []string       `json:"skip_keywords"`
	BusinessHoursStart int            `json:"business_hours_start" example:"9"`
	BusinessHoursEnd   int            `json:"business_hours_end"   example:"17"`
	BusinessDays       []time.Weekday `json:"business_days"        swaggertype:"array,integer"`
	Timezone           string         `json:"timezone"             example:"Europe/Athens"`
	OncePerThread      bool           `json:"once_per_thread"`
	BusinessContext    string         `json:"business_context"     binding:"max=4000"`
	MaxRetries         int            `json:"max_retries"`
}

// OutboundRequest is the JSON payload for recording a tenant-sent email.
type OutboundRequest struct {
	Subject          string    `json:"subject"            example:"Project Update"`
	ThreadID         string    `json:"thread_id"`
	AutoReplyEnabled bool      `json:"auto_reply_enabled"`
	Recipients       []string  `json:"recipients"         binding:"required,min=1,max=100"`
	SentAt           time.Time `json:"sent_at"`
}

// tenantID reads and validates the :id path parameter.
func tenantID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tenant id must be a UUID")
		return "", false
	}
	return id, true
}

// RegisterTenant godoc
// @ID          registerTenant
// @Summary     Register a tenant mailbox
// @Tags        Tenants
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.RegisterTenantRequest  true  "Tenant"
// @Success     201   {object}  domain.Tenant
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse  "Mailbox already registered"
// @Failure     500   {object}  handlers.ErrorResponse
// @Router      /api/v1/tenants [post]
func (h *Handlers) RegisterTenant(c *gin.Context) {
	var req RegisterTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	t, err := h.tenants.Register(c.Request.Context(), services.RegisterInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		FirstName:   req.FirstName,
		Company:     req.Company,
		Signature:   req.Signature,
		Credentials: req.Credentials,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, t)
}

// GetTenant godoc
// @ID          getTenant
// @Summary     Fetch a tenant
// @Tags        Tenants
// @Produce     json
// @Param       id   path      string  true  "Tenant ID"  format(uuid)
// @Success     200  {object}  domain.Tenant
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /api/v1/tenants/{id} [get]
func (h *Handlers) GetTenant(c *gin.Context) {
	id, valid := tenantID(c)
	if !valid {
		return
	}
	t, err := h.tenants.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// GetSettings godoc
// @ID          getSettings
// @Summary     Read reply settings
// @Description Returns stored settings, or disabled defaults when none were saved.
// @Tags        Tenants
// @Produce     json
// @Param       id   path      string  true  "Tenant ID"  format(uuid)
// @Success     200  {object}  domain.ReplySettings
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /api/v1/tenants/{id}/settings [get]
func (h *Handlers) GetSettings(c *gin.Context) {
	id, valid := tenantID(c)
	if !valid {
		return
	}
	s, err := h.tenants.Settings(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, s)
}

// PutSettings godoc
// @ID          putSettings
// @Summary     Replace reply settings
// @Tags        Tenants
// @Accept      json
// @Produce     json
// @Param       id    path      string                    true  "Tenant ID"  format(uuid)
// @Param       body  body      handlers.SettingsRequest  true  "Settings"
// @Success     200   {object}  domain.ReplySettings
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /api/v1/tenants/{id}/settings [put]
func (h *Handlers) PutSettings(c *gin.Context) {
	id, valid := tenantID(c)
	if !valid {
		return
	}
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	s, err := h.tenants.UpdateSettings(c.Request.Context(), id, domain.ReplySettings{
		Enabled:            req.Enabled,
		Mode:               domain.ReplyMode(req.Mode),
		Tone:               domain.Tone(req.Tone),
		DelayMinutes:       req.DelayMinutes,
		SkipKeywords:       req.SkipKeywords,
		BusinessHoursStart: req.BusinessHoursStart,
		BusinessHoursEnd:   req.BusinessHoursEnd,
		BusinessDays:       req.BusinessDays,
		Timezone:           req.Timezone,
		OncePerThread:      req.OncePerThread,
		BusinessContext:    req.BusinessContext,
		MaxRetries:         req.MaxRetries,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, s)
}

// StartWatch godoc
// @ID          startWatch
// @Summary     Start mailbox push notifications
// @Description Registers the provider watch, stores the returned cursor as baseline and schedules renewal.
// @Tags        Tenants
// @Produce     json
// @Param       id   path      string  true  "Tenant ID"  format(uuid)
// @Success     200  {object}  domain.WatchSubscription
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     502  {object}  handlers.ErrorResponse  "Mailbox credentials rejected"
// @Failure     503  {object}  handlers.ErrorResponse  "Push topic not configured"
// @Router      /api/v1/tenants/{id}/watch [post]
func (h *Handlers) StartWatch(c *gin.Context) {
	id, valid := tenantID(c)
	if !valid {
		return
	}
	sub, err := h.watch.Start(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sub)
}

// StopWatch godoc
// @ID          stopWatch
// @Summary     Stop mailbox push notifications
// @Tags        Tenants
// @Param       id   path      string  true  "Tenant ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "No subscription"
// @Router      /api/v1/tenants/{id}/watch [delete]
func (h *Handlers) StopWatch(c *gin.Context) {
	id, valid := tenantID(c)
	if !valid {
		return
	}
	if err := h.watch.Stop(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// RecordOutbound godoc
// @ID          recordOutbound
// @Summary     Record an email the tenant sent
// @Description Stores recipients so replies from them are correlated and answered when auto_reply_enabled is set.
// @Tags        Tenants
// @Accept      json
// @Produce     json
// @Param       id    path      string                    true  "Tenant ID"  format(uuid)
// @Param       body  body      handlers.OutboundRequest  true  "Outbound email"
// @Success     201   {object}  domain.OutboundEmail
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /api/v1/tenants/{id}/outbound [post]
func (h *Handlers) RecordOutbound(c *gin.Context) {
	id, valid := tenantID(c)
	if !valid {
		return
	}
	var req OutboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "recipients required (1-100)")
		return
	}
	ob, err := h.tenants.RecordOutbound(c.Request.Context(), id, services.OutboundInput{
		Subject:          req.Subject,
		ThreadID:         req.ThreadID,
		AutoReplyEnabled: req.AutoReplyEnabled,
		Recipients:       req.Recipients,
		SentAt:           req.SentAt,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, ob)
}
