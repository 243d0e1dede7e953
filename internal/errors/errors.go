package errors

import (
	stderrors "errors"
	"sync"
	"time"
)

// Code classifies an autoscaler failure.
type Code string

// Autoscaler error codes.
const (
	ErrConfigInvalid      Code = "CONFIG_INVALID"
	ErrContextNotFound    Code = "CONTEXT_NOT_FOUND"
	ErrContextAmbiguous   Code = "CONTEXT_AMBIGUOUS"
	ErrInvariantViolation Code = "INVARIANT_VIOLATION"
	ErrSnapshotFailed     Code = "SNAPSHOT_FAILED"
	ErrGoalFailed         Code = "GOAL_FAILED"
	ErrPatchFailed        Code = "PATCH_FAILED"
	ErrResizeFailed       Code = "RESIZE_FAILED"
	ErrShutdownFailed     Code = "SHUTDOWN_FAILED"
	ErrPopulateFailed     Code = "POPULATE_FAILED"
	ErrNotifyFailed       Code = "NOTIFY_FAILED"
	ErrReportFailed       Code = "REPORT_FAILED"
	ErrCancelledCode      Code = "CANCELLED"
)

// ErrCancelled is returned when the operator declines to continue, for
// example by closing stdin at a confirmation prompt. It is a graceful abort.
var ErrCancelled = &AutoscalerError{Code: ErrCancelledCode, Message: "cancelled by user", Component: "confirm"}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock uses the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// AutoscalerError is a typed failure with the component that raised it.
type AutoscalerError struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Component string `json:"component"`
	Timestamp int64  `json:"timestamp"`
	Err       error  `json:"-"`
}

// New builds an AutoscalerError wrapping err.
func New(code Code, component, message string, err error) *AutoscalerError {
	return &AutoscalerError{
		Code:      code,
		Message:   message,
		Component: component,
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	}
}

// Error implements the error interface.
func (e *AutoscalerError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As compatibility.
func (e *AutoscalerError) Unwrap() error {
	return e.Err
}

// Is matches any AutoscalerError carrying the same code, so
// errors.Is(err, ErrCancelled) holds for every cancellation.
func (e *AutoscalerError) Is(target error) bool {
	t, ok := target.(*AutoscalerError)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first AutoscalerError in err's chain.
func CodeOf(err error) (Code, bool) {
	var ae *AutoscalerError
	if stderrors.As(err, &ae) {
		return ae.Code, true
	}
	return "", false
}

// HasCode reports whether err's chain contains an AutoscalerError with code.
func HasCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsFatal reports whether err must abort the cycle instead of being logged
// and skipped.
func IsFatal(err error) bool {
	c, ok := CodeOf(err)
	if !ok {
		return false
	}
	switch c {
	case ErrConfigInvalid, ErrContextNotFound, ErrContextAmbiguous, ErrInvariantViolation:
		return true
	}
	return false
}

// ErrorCollector accumulates the non-fatal failures of one cycle.
type ErrorCollector struct {
	mu      sync.Mutex
	clock   Clock
	entries []AutoscalerError
}

// NewErrorCollector creates an ErrorCollector with the given clock.
func NewErrorCollector(clock Clock) *ErrorCollector {
	return &ErrorCollector{clock: clock}
}

// Report records an error. A zero Timestamp is filled from the clock.
func (ec *ErrorCollector) Report(err AutoscalerError) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if err.Timestamp == 0 {
		err.Timestamp = ec.clock.Now().UnixMilli()
	}
	ec.entries = append(ec.entries, err)
}

// Errors returns a copy of every error reported since the last Clear.
func (ec *ErrorCollector) Errors() []AutoscalerError {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	out := make([]AutoscalerError, len(ec.entries))
	copy(out, ec.entries)
	return out
}

// Codes returns the distinct codes reported, in first-seen order.
func (ec *ErrorCollector) Codes() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	seen := make(map[Code]struct{})
	codes := make([]string, 0)
	for _, e := range ec.entries {
		if _, ok := seen[e.Code]; !ok {
			seen[e.Code] = struct{}{}
			codes = append(codes, string(e.Code))
		}
	}
	return codes
}

// Clear removes all tracked errors.
func (ec *ErrorCollector) Clear() {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.entries = nil
}
