package camera

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrUnreachable is returned when the device cannot be contacted.
	ErrUnreachable = errors.New("camera: device unreachable")

	// ErrMalformedResponse is returned when a still or capture body is not an image.
	ErrMalformedResponse = errors.New("camera: malformed response")

	// ErrUnknownParam is returned for parameter names the device does not know.
	ErrUnknownParam = errors.New("camera: unknown parameter")
)

// APIError represents a rejection by the device: a non-2xx status, or a
// structured acknowledgement reporting failure.
type APIError struct {
	// Op is the device operation, e.g. "quality" or "getstill".
	Op string

	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the body text or the acknowledgement message.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("camera [%s]: rejected with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("camera [%s]: rejected with status %d: %s", e.Op, e.StatusCode, e.Message)
}

// RangeError reports a parameter value outside its range.
type RangeError struct {
	Param Param
	Value int
	Range Range
}

// Error implements the error interface.
func (e *RangeError) Error() string {
	return fmt.Sprintf("%s must be between %d and %d, got %d", e.Param, e.Range.Min, e.Range.Max, e.Value)
}

// IsUnreachable reports whether err is a connectivity failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// IsRejected reports whether the device answered but refused the request.
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// UserMessage returns the text to show for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var rangeErr *RangeError
	var apiErr *APIError
	switch {
	case errors.As(err, &rangeErr):
		return rangeErr.Error()
	case errors.Is(err, ErrUnknownParam):
		return "unknown camera parameter"
	case errors.Is(err, ErrUnreachable):
		return "camera unreachable"
	case errors.Is(err, ErrMalformedResponse):
		return "camera sent an invalid image"
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return "camera rejected the request: " + apiErr.Message
		}
		return "camera rejected the request"
	}
	return "camera request failed"
}
