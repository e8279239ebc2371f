// Package services implements the auto-reply pipeline: webhook ingestion,
// history resolution, job processing and delivery, the scheduler, the watch
// lifecycle, and the tenant management operations behind the HTTP API.
// This file centralizes service-level error values so that handlers can map
// them to HTTP results consistently.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrTenantNotFound indicates no tenant owns the requested id or mailbox.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrRateLimited is returned when a tenant exceeded its webhook budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrSubscriptionInactive is returned for notifications addressed to a
	// tenant whose push subscription is not active.
	ErrSubscriptionInactive = errors.New("subscription inactive")

	// ErrDuplicate marks a job whose inbound message was already answered.
	ErrDuplicate = errors.New("duplicate reply")

	// ErrTenantExists is returned when registering an already known mailbox.
	ErrTenantExists = errors.New("tenant already exists")

	// ErrJobNotFound indicates the requested job does not exist for the tenant.
	ErrJobNotFound = errors.New("job not found")

	// ErrWatchUnavailable is returned when no push topic is configured.
	ErrWatchUnavailable = errors.New("push topic not configured")
)

// ValidationError reports malformed caller input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
