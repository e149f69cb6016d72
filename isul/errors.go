package isul

import (
	"context"
	"errors"
	"fmt"

	"github.com/CloudNativeWorks/isul-sdk/isul/token"
)

// Sentinel errors for activation outcomes.
var (
	ErrActivationNotFound = errors.New("activation not found")
	ErrDeactivated        = errors.New("activation deactivated")
	ErrLicenseExpired     = errors.New("license expired")
	ErrValidationFailed   = errors.New("license validation failed")
	ErrCancelled          = errors.New("activation cancelled")
	ErrInvalidLicenseKey  = errors.New("invalid license key")
	ErrSeatLimit          = errors.New("seat limit reached")
)

// Sentinel errors for transport failures.
var (
	ErrConnection = errors.New("license server unreachable")
	ErrServer     = errors.New("license server rejected request")
	ErrInternal   = errors.New("internal error")
)

// Sentinel errors for Manager construction.
var (
	ErrInvalidProductInfo = errors.New("invalid product info")
	ErrInvalidEndpoint    = errors.New("invalid endpoint")
	ErrNoPresenter        = errors.New("no sign-in presenter configured")
	ErrManagerClosed      = errors.New("manager closed")
)

// APIError represents an error response from the license service.
// The service returns errors in the format: {"error": {"code": "...", "message": "..."}}.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: [%s] %s", e.StatusCode, e.Code, e.Message)
}

// mapAPIError converts an APIError to a well-known sentinel error if possible.
// The returned error wraps both the sentinel error and the original APIError
// so callers can use errors.Is() for sentinel checks and errors.As() for details.
func mapAPIError(ae *APIError) error {
	var sentinel error
	switch ae.Code {
	case "NOT_FOUND", "ACTIVATION_NOT_FOUND":
		sentinel = ErrActivationNotFound
	case "DEACTIVATED":
		sentinel = ErrDeactivated
	case "LICENSE_EXPIRED":
		sentinel = ErrLicenseExpired
	case "INVALID_LICENSE":
		sentinel = ErrInvalidLicenseKey
	case "SEAT_LIMIT":
		sentinel = ErrSeatLimit
	case "INVALID_TOKEN":
		sentinel = ErrValidationFailed
	default:
		return ae
	}
	return &mappedError{sentinel: sentinel, server: ae}
}

// mappedError wraps a sentinel error with the original APIError details.
type mappedError struct {
	sentinel error
	server   *APIError
}

func (e *mappedError) Error() string {
	return e.sentinel.Error() + ": " + e.server.Message
}

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) As(target interface{}) bool {
	if t, ok := target.(**APIError); ok {
		*t = e.server
		return true
	}
	return false
}

func (e *mappedError) Unwrap() error {
	return e.sentinel
}

// retryable reports whether err is a transient transport failure.
func retryable(err error) bool {
	if errors.Is(err, ErrConnection) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode >= 500 || ae.StatusCode == 429
	}
	return false
}

// statusError is the error form of a non-OK Status.
type statusError struct {
	status Status
}

func (e *statusError) Error() string {
	return e.status.String()
}

func (e *statusError) Is(target error) bool {
	return target == resultSentinel(e.status.result)
}

func resultSentinel(r ValidationResult) error {
	switch r {
	case InternalError:
		return ErrInternal
	case ConnectionError:
		return ErrConnection
	case ServerError:
		return ErrServer
	case Deactivated:
		return ErrDeactivated
	case ActivationNotFound:
		return ErrActivationNotFound
	case ActivationCancelled:
		return ErrCancelled
	case LicenseExpired:
		return ErrLicenseExpired
	case ValidationFailed:
		return ErrValidationFailed
	default:
		return nil
	}
}

// statusFromError is the single place where errors become Status values.
func statusFromError(err error) Status {
	switch {
	case err == nil:
		return NewStatus(OK, "")
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return NewStatus(ActivationCancelled, err.Error())
	case errors.Is(err, ErrActivationNotFound):
		return NewStatus(ActivationNotFound, err.Error())
	case errors.Is(err, ErrDeactivated):
		return NewStatus(Deactivated, err.Error())
	case errors.Is(err, ErrLicenseExpired), errors.Is(err, token.ErrExpired):
		return NewStatus(LicenseExpired, err.Error())
	case errors.Is(err, ErrValidationFailed), errors.Is(err, token.ErrInvalid):
		return NewStatus(ValidationFailed, err.Error())
	case errors.Is(err, ErrConnection), errors.Is(err, context.DeadlineExceeded):
		return NewStatus(ConnectionError, err.Error())
	}
	var ae *APIError
	if errors.As(err, &ae) || errors.Is(err, ErrServer) {
		return NewStatus(ServerError, err.Error())
	}
	return NewStatus(InternalError, err.Error())
}
