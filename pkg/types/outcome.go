package types

import (
	"errors"
	"fmt"
)

// Severity classifies a failed automation step so callers can decide
// whether to retry, skip the record, or stop.
type Severity int

const (
	// SeverityRetryable failures may succeed if the step is attempted again.
	SeverityRetryable Severity = iota + 1
	// SeverityRecordFailed failures lose one record; a batch moves on.
	SeverityRecordFailed
	// SeverityFatal failures end the whole request or batch.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityRetryable:
		return "retryable"
	case SeverityRecordFailed:
		return "record_failed"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrBrowserUnavailable = errors.New("cannot obtain browser")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrNoJSON             = errors.New("no JSON object found in response")
)

// StepError is a failure of one named automation step.
type StepError struct {
	Step     string
	Severity Severity
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err as a retryable failure of step.
func NewRetryable(step string, err error) *StepError {
	return &StepError{Step: step, Severity: SeverityRetryable, Err: err}
}

// NewRecordFailed wraps err as a record-level failure of step.
func NewRecordFailed(step string, err error) *StepError {
	return &StepError{Step: step, Severity: SeverityRecordFailed, Err: err}
}

// NewFatal wraps err as a fatal failure of step.
func NewFatal(step string, err error) *StepError {
	return &StepError{Step: step, Severity: SeverityFatal, Err: err}
}

// SeverityOf reports the severity carried by err. Errors that are not
// StepErrors are treated as record failures.
func SeverityOf(err error) Severity {
	if err == nil {
		return 0
	}
	var se *StepError
	if errors.As(err, &se) {
		return se.Severity
	}
	return SeverityRecordFailed
}

// IsFatal reports whether err carries SeverityFatal.
func IsFatal(err error) bool {
	return SeverityOf(err) == SeverityFatal
}

// IsRetryable reports whether err carries SeverityRetryable.
func IsRetryable(err error) bool {
	return SeverityOf(err) == SeverityRetryable
}
