package mixing

import (
	"errors"
	"fmt"
)

// Common error values shared by all mappers.
var (
	// ErrNotFound is returned when a point lookup matches no record.
	ErrNotFound = errors.New("record not found")

	// ErrValidationFailed is the base error for all validation failures.
	ErrValidationFailed = errors.New("validation failed")
)

// OptimisticLockError is raised when a versioned write is rejected because
// the stored version no longer matches the one read by the caller. It is a
// distinct, separately catchable kind so callers can retry or abort.
type OptimisticLockError struct {
	Type   string
	ID     string
	Reason string
}

// Error implements the error interface.
func (e *OptimisticLockError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("optimistic lock failed for %s '%s': %s", e.Type, e.ID, e.Reason)
	}
	return fmt.Sprintf("optimistic lock failed for %s '%s'", e.Type, e.ID)
}

// ValidationError carries a user-facing message about a consistency
// violation detected before a write (duplicate unique value, blocked
// delete, missing mandatory field).
type ValidationError struct {
	Type     string
	Property string
	Message  string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("%s.%s: %s", e.Type, e.Property, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap makes the error match ErrValidationFailed via errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// TransportError wraps a network or IO failure while talking to a backend.
type TransportError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ProtocolError reports a malformed or unexpected response shape from a
// backend. It is treated as a defect, not a transient condition.
type ProtocolError struct {
	Op     string
	Detail string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: unexpected response: %s", e.Op, e.Detail)
}

// CompileError reports a malformed statement template or an unresolvable
// parameter access path. It always indicates a caller defect.
type CompileError struct {
	Index    int
	Template string
	Detail   string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("%s at %d in: %s", e.Detail, e.Index, e.Template)
}

// ConversionError reports a failed transformation between a stored value
// and the declared property type. It identifies the property and entity
// type instead of silently coercing to a default.
type ConversionError struct {
	Type     string
	Property string
	Value    interface{}
	Cause    error
}

// Error implements the error interface.
func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert value '%v' for %s.%s: %v", e.Value, e.Type, e.Property, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ConversionError) Unwrap() error {
	return e.Cause
}

// IsOptimisticLock returns true if the error is an OptimisticLockError.
func IsOptimisticLock(err error) bool {
	var lockErr *OptimisticLockError
	return errors.As(err, &lockErr)
}

// IsValidation returns true if the error is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
