// Package errs defines the error taxonomy shared by every component. Each
// kind carries a retry policy: callers decide whether to retry by kind,
// never by string matching.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError marks bad input. Never retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NotFoundError marks a target that no longer exists or was already
// completed by a racing actor. Treated as a soft failure with feedback,
// not an exception.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// PermissionError marks a role that lacks a capability. Never retried.
type PermissionError struct {
	Role   string
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("role %q may not %s", e.Role, e.Action)
}

// TransientError marks a storage or network blip worth retrying with
// backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// BudgetExceededError marks a tripped cost guard. Fails fast, never queued.
type BudgetExceededError struct {
	Tenant string
	Budget float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("daily transcription budget (%.2f) exceeded for tenant %s", e.Budget, e.Tenant)
}

// AmbiguousCommandError marks a voice command whose combined confidence fell
// below the execution threshold. Carries ranked suggestions for the caller
// to surface instead of executing anything.
type AmbiguousCommandError struct {
	Transcript  string
	Confidence  float64
	Suggestions []string
}

func (e *AmbiguousCommandError) Error() string {
	return fmt.Sprintf("ambiguous command %q (confidence %.2f)", e.Transcript, e.Confidence)
}

// ConflictError marks an optimistic-lock failure: the record changed under
// the writer. Callers re-read and decide, they do not blindly resubmit.
type ConflictError struct {
	Kind string
	ID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s modified concurrently", e.Kind, e.ID)
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsNotFound reports whether err marks a missing or already-completed target.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// IsConflict reports whether err marks an optimistic-lock failure.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
