package detection

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrUnreachable is returned when the service cannot be contacted.
	ErrUnreachable = errors.New("detection: service unreachable")

	// ErrMalformedResponse is returned when the body cannot be parsed.
	ErrMalformedResponse = errors.New("detection: malformed response")

	// ErrNoImage is returned when an empty frame is submitted.
	ErrNoImage = errors.New("detection: no image")
)

// GenericMessage is shown when the service gave no usable message.
const GenericMessage = "detection request failed"

// APIError represents a rejection by the detection service.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message from the service, if any.
	Message string

	// Endpoint is the path that was called.
	Endpoint string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = GenericMessage
	}
	return fmt.Sprintf("detection [%s]: status %d: %s", e.Endpoint, e.StatusCode, msg)
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// ShouldDisable reports whether err means the service is unreachable, in
// which case the caller turns detection off rather than retrying every tick.
func ShouldDisable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// IsRejected reports whether the service answered but refused the frame.
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// UserMessage returns the text to show for err: the server's message when
// it sent one, otherwise a generic description.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return GenericMessage
	case errors.Is(err, ErrUnreachable):
		return "detection service unreachable, detection disabled"
	case errors.Is(err, ErrMalformedResponse):
		return "detection service sent an unreadable response"
	}
	return GenericMessage
}
