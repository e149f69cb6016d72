package isul

import (
	"fmt"
	"time"
)

// ValidationResult is the outcome tag carried by every Status.
// The first four values keep the numbering used by the native SDK headers.
type ValidationResult int

const (
	OK ValidationResult = iota
	InternalError
	ConnectionError
	ServerError
	Deactivated
	ActivationNotFound
	ActivationCancelled
	LicenseExpired
	ValidationFailed
)

var validationResultNames = [...]string{
	OK:                  "OK",
	InternalError:       "InternalError",
	ConnectionError:     "ConnectionError",
	ServerError:         "ServerError",
	Deactivated:         "Deactivated",
	ActivationNotFound:  "ActivationNotFound",
	ActivationCancelled: "ActivationCancelled",
	LicenseExpired:      "LicenseExpired",
	ValidationFailed:    "ValidationFailed",
}

func (r ValidationResult) String() string {
	if r >= 0 && int(r) < len(validationResultNames) {
		return validationResultNames[r]
	}
	return fmt.Sprintf("ValidationResult(%d)", int(r))
}

// ServerStatus tells a ServerLogger which side of a request a log line belongs to.
type ServerStatus int

const (
	RequestSent ServerStatus = iota
	ResponseReceived
)

func (s ServerStatus) String() string {
	switch s {
	case RequestSent:
		return "RequestSent"
	case ResponseReceived:
		return "ResponseReceived"
	default:
		return fmt.Sprintf("ServerStatus(%d)", int(s))
	}
}

// LogSeverity is the verbosity scale used by kLogSeverity and ServerLogger.
type LogSeverity int

const (
	Severe LogSeverity = iota
	Medium
	Programflow
	EachLine
)

func (s LogSeverity) String() string {
	switch s {
	case Severe:
		return "Severe"
	case Medium:
		return "Medium"
	case Programflow:
		return "Programflow"
	case EachLine:
		return "EachLine"
	default:
		return fmt.Sprintf("LogSeverity(%d)", int(s))
	}
}

// Properties is a flat string dictionary, used both for product configuration
// and for the license attributes returned by CopyLicenseInfo.
type Properties map[string]string

// Status is the immutable result of a Manager operation.
type Status struct {
	result        ValidationResult
	description   string
	aboutToExpire bool
	expiredDate   time.Time
}

// NewStatus creates a Status with the given result and description.
func NewStatus(result ValidationResult, description string) Status {
	return Status{result: result, description: description}
}

// withExpiry returns a copy of s carrying license expiry information.
func (s Status) withExpiry(expiresAt time.Time, aboutToExpire bool) Status {
	s.expiredDate = expiresAt
	s.aboutToExpire = aboutToExpire
	return s
}

// Result returns the outcome tag.
func (s Status) Result() ValidationResult { return s.result }

// Description returns human readable text describing the outcome.
func (s Status) Description() string { return s.description }

// IsAboutToExpire reports whether the license expires within the warning window
// or is running on its offline grace period.
func (s Status) IsAboutToExpire() bool { return s.aboutToExpire }

// ExpiredDate returns the license expiry time, or the zero time when unknown.
func (s Status) ExpiredDate() time.Time { return s.expiredDate }

// ExpiredDateUnix returns the expiry as Unix seconds, 0 when unknown.
func (s Status) ExpiredDateUnix() int64 {
	if s.expiredDate.IsZero() {
		return 0
	}
	return s.expiredDate.Unix()
}

// OK reports whether the operation succeeded.
func (s Status) OK() bool { return s.result == OK }

// Err returns nil for a successful status, otherwise an error that matches the
// sentinel for the result with errors.Is.
func (s Status) Err() error {
	if s.result == OK {
		return nil
	}
	return &statusError{status: s}
}

func (s Status) String() string {
	if s.description == "" {
		return s.result.String()
	}
	return s.result.String() + ": " + s.description
}

// State is a point in the activation lifecycle.
type State int

const (
	Unactivated State = iota
	Validating
	Activated
	Failed
	Cancelled
	Deactivating
	DeactivatedState
	Expiring
	Expired
)

var stateNames = [...]string{
	Unactivated:      "unactivated",
	Validating:       "validating",
	Activated:        "activated",
	Failed:           "failed",
	Cancelled:        "cancelled",
	Deactivating:     "deactivating",
	DeactivatedState: "deactivated",
	Expiring:         "expiring",
	Expired:          "expired",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}
