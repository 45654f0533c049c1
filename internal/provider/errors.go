package provider

import (
	"errors"
	"fmt"
)

// AuthError indicates the provider token is invalid or revoked (HTTP 401).
// It is surfaced to the user as "reconnect your calendar" and never retried
// automatically.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("calendar auth error: %s", e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// CursorExpiredError indicates the provider rejected a sync cursor
// (HTTP 410). Recovery is a full resync; the error never reaches the user.
type CursorExpiredError struct {
	CalendarID string
}

func (e *CursorExpiredError) Error() string {
	return fmt.Sprintf("sync cursor expired for calendar %s", e.CalendarID)
}

// IsCursorExpired reports whether err is a CursorExpiredError.
func IsCursorExpired(err error) bool {
	var cursorErr *CursorExpiredError
	return errors.As(err, &cursorErr)
}

// NotFoundError indicates the referenced resource does not exist
// provider-side (HTTP 404), e.g. stopping an already-dead channel.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("provider resource not found: %s", e.Resource)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nfErr *NotFoundError
	return errors.As(err, &nfErr)
}

// APIError is any other non-2xx provider response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error (%d): %s", e.StatusCode, e.Message)
}
