// Package util provides logging helpers and the common error types shared by
// the consolidation packages.
package util

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for the failure kinds a migration run can hit.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrLengthConstraint = errors.New("identifier length constraint violated")
	ErrPartialBatch     = errors.New("batch submission partially failed")
	ErrWaitTimeout      = errors.New("timed out waiting for controller")
	ErrInvariant        = errors.New("invariant violated")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrValidationFailed = errors.New("validation failed")
)

// NotFoundError reports an entity that is expected in a blueprint but absent.
type NotFoundError struct {
	Kind      string // "system", "blueprint", "virtual_network", ...
	Name      string
	Blueprint string
}

func (e *NotFoundError) Error() string {
	if e.Blueprint != "" {
		return fmt.Sprintf("%s '%s' not found in blueprint %s", e.Kind, e.Name, e.Blueprint)
	}
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(kind, name, blueprint string) *NotFoundError {
	return &NotFoundError{Kind: kind, Name: name, Blueprint: blueprint}
}

// LengthError reports a derived identifier that would exceed the controller's
// label length limit. Original is the value callers fall back to.
type LengthError struct {
	Original  string
	Candidate string
	Max       int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("'%s' is %d characters, limit is %d (keeping '%s')",
		e.Candidate, len(e.Candidate), e.Max, e.Original)
}

func (e *LengthError) Unwrap() error {
	return ErrLengthConstraint
}

// BatchError reports chunks of a batch submission that the controller rejected.
// The remaining chunks were still submitted.
type BatchError struct {
	Target  string
	Failed  int
	Total   int
	Reasons []string
}

func (e *BatchError) Error() string {
	msg := fmt.Sprintf("%d of %d chunks failed on %s", e.Failed, e.Total, e.Target)
	if len(e.Reasons) > 0 {
		msg += ": " + strings.Join(e.Reasons, "; ")
	}
	return msg
}

func (e *BatchError) Unwrap() error {
	return ErrPartialBatch
}

// WaitTimeoutError is returned when a bounded poll gives up.
type WaitTimeoutError struct {
	What     string
	Attempts int
	Elapsed  time.Duration
	Last     error
}

func (e *WaitTimeoutError) Error() string {
	msg := fmt.Sprintf("gave up waiting for %s after %d attempts (%s)", e.What, e.Attempts, e.Elapsed.Round(time.Second))
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *WaitTimeoutError) Unwrap() error {
	return ErrWaitTimeout
}

// InvariantError reports input that would corrupt the target if processing
// continued. It is never swallowed by the best-effort apply loops.
type InvariantError struct {
	Operation string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s", e.Operation, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariant
}

// NewInvariantError creates an invariant error
func NewInvariantError(operation, format string, args ...interface{}) *InvariantError {
	return &InvariantError{Operation: operation, Detail: fmt.Sprintf(format, args...)}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
