// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by all endpoints: the error
// envelope, the mapping from service errors to statuses, and success writers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-autoreply-backend/internal/http/middleware"
	"github.com/tbourn/go-autoreply-backend/internal/mailbox"
	"github.com/tbourn/go-autoreply-backend/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"tenant not found"`
}

// fail aborts the request with the error envelope. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail() for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error onto the envelope. Unknown errors become a
// 500 whose message never carries internals; the cause is logged instead.
func failErr(c *gin.Context, err error) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, ErrCodeInvalidInput, ve.Error())
	case errors.Is(err, services.ErrTenantNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "tenant not found")
	case errors.Is(err, services.ErrJobNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
	case errors.Is(err, services.ErrTenantExists):
		fail(c, http.StatusConflict, ErrCodeConflict, "tenant already registered")
	case errors.Is(err, services.ErrRateLimited):
		c.Header("Retry-After", "60")
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "notification rate exceeded")
	case errors.Is(err, services.ErrSubscriptionInactive):
		fail(c, http.StatusBadRequest, ErrCodeSubscriptionInactive, "mailbox watch is not active")
	case errors.Is(err, services.ErrWatchUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "push notifications are not configured")
	case mailbox.IsAuth(err):
		fail(c, http.StatusBadGateway, ErrCodeMailboxAuth, "mailbox credentials were rejected")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
