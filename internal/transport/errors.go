package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed call against the authority.
type Kind int

const (
	// KindTransport is a network or parse failure with no interpretable
	// authority response. Status is 0.
	KindTransport Kind = iota
	// KindAuth means the authority rejected the credential.
	KindAuth
	// KindConflict means the authority rejected a transition because its
	// state disagrees with the caller's snapshot.
	KindConflict
	// KindValidation is an authority-side field or business rejection,
	// surfaced with its message verbatim.
	KindValidation
	// KindInternal covers remaining authority-side failures (5xx).
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "authentication"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// APIError is a structured failure of one call against the authority. Message
// is suitable for direct display; TraceID correlates with authority logs.
type APIError struct {
	Kind    Kind
	Status  int
	Message string
	TraceID string
	Err     error
}

func (e *APIError) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("%s failure (status %d, trace %s): %s", e.Kind, e.Status, e.TraceID, e.Message)
	}
	return fmt.Sprintf("%s failure (status %d): %s", e.Kind, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// AsAPIError extracts an *APIError from err, nil when absent.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	e := AsAPIError(err)
	return e != nil && e.Kind == KindAuth
}

// IsConflict reports whether the authority rejected a transition due to a
// state mismatch.
func IsConflict(err error) bool {
	e := AsAPIError(err)
	return e != nil && e.Kind == KindConflict
}

// IsValidation reports whether the authority rejected the call's fields.
func IsValidation(err error) bool {
	e := AsAPIError(err)
	return e != nil && e.Kind == KindValidation
}

// IsTransport reports whether no interpretable response was received.
func IsTransport(err error) bool {
	e := AsAPIError(err)
	return e != nil && e.Kind == KindTransport
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusConflict:
		return KindConflict
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindInternal
	}
}
