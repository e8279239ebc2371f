package mailbox

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// ErrCursorExpired is returned when the provider no longer retains history
// for the requested start cursor.
var ErrCursorExpired = errors.New("history cursor expired")

// AuthError reports revoked or invalid credentials. It is never retried; the
// tenant's pipeline is stopped until credentials are renewed.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "mailbox auth: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// TransientError reports a failure that may succeed on retry (network,
// 5xx, provider throttling).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("mailbox %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsAuth reports whether err carries an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransient reports whether err carries a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// classify maps provider and token errors onto the mailbox taxonomy.
// A 404 is only meaningful as cursor expiry for history listing, so the
// caller says whether to interpret it that way.
func classify(op string, err error, notFoundIsCursor bool) error {
	if err == nil {
		return nil
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return &AuthError{Err: err}
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		switch {
		case ge.Code == http.StatusUnauthorized || ge.Code == http.StatusForbidden:
			return &AuthError{Err: err}
		case ge.Code == http.StatusNotFound && notFoundIsCursor:
			return fmt.Errorf("%s: %w", op, ErrCursorExpired)
		case ge.Code == http.StatusBadRequest || ge.Code == http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return &TransientError{Op: op, Err: err}
}
