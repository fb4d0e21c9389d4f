package shared

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a referenced record does not exist.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports malformed input caught before any persistence call.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Detail
}

// NewValidationError builds a ValidationError with a formatted detail.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Detail: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError reports an illegal status change.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Entity, e.From, e.To)
}

// CapacityExceededError carries the exact figures so callers can display the
// overage and decide how to resubmit.
type CapacityExceededError struct {
	Date      *time.Time
	Requested int64
	Committed int64
	Remaining int64
	Ceiling   int64
}

func (e *CapacityExceededError) Error() string {
	if e.Date != nil {
		return fmt.Sprintf("capacity exceeded for %s: requested %d, committed %d, remaining %d of %d",
			e.Date.Format("2006-01-02"), e.Requested, e.Committed, e.Remaining, e.Ceiling)
	}
	return fmt.Sprintf("production capacity exceeded: requested %d, committed %d, remaining %d of %d",
		e.Requested, e.Committed, e.Remaining, e.Ceiling)
}

// ConcurrencyConflictError reports a capacity re-check that failed at commit
// time because a concurrent commit consumed the allowance first. Never retried
// automatically; the caller decides.
type ConcurrencyConflictError struct {
	Key   string
	Cause *CapacityExceededError
}

func (e *ConcurrencyConflictError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("concurrent commit on %s: %s", e.Key, e.Cause.Error())
	}
	return fmt.Sprintf("concurrent commit on %s", e.Key)
}
