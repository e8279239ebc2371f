// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase snake_case strings returned in the error
// envelope next to the HTTP status, so clients can branch on them:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "subscription_inactive",
//	  "message": "mailbox watch is not active"
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeInvalidInput = "validation_failed"

	// Domain-specific:
	ErrCodeSubscriptionInactive = "subscription_inactive"
	ErrCodeMailboxAuth          = "mailbox_auth_failed"
	ErrCodeMethodNotAllowed     = "method_not_allowed"
)
