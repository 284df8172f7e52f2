// Package apperrors provides the bridge's error taxonomy.
//
// Errors are classified with errors.Is against the sentinels below. The
// consumers use that classification to decide between acknowledging a message
// (permanent errors) and leaving it for redelivery (transient errors).
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrProvisioning    = errors.New("topic provisioning failed")
	ErrInvocation      = errors.New("invocation failed")
	ErrInspection      = errors.New("outcome inspection failed")
	ErrPublish         = errors.New("publish failed")
	ErrStore           = errors.New("store error")
	ErrNotFound        = errors.New("not found")
	ErrConfig          = errors.New("invalid configuration")
)

// Error provides a structured error with context.
type Error struct {
	Sentinel error  // classification, matched by errors.Is
	Message  string // human-readable message
	Field    string // offending field for envelope and config errors
	Op       string // operation that failed (e.g. "lambda.Invoke")
	Cause    error  // underlying error, also matched by errors.Is/As
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// InvalidEnvelope reports a message payload that can never be processed.
func InvalidEnvelope(field, message string) error {
	return &Error{
		Sentinel: ErrInvalidEnvelope,
		Message:  message,
		Field:    field,
	}
}

// Provisioning wraps a stream or consumer creation failure.
func Provisioning(op string, cause error) error {
	return wrap(ErrProvisioning, op, cause)
}

// Invocation wraps a transport or authorization failure calling the function.
func Invocation(op string, cause error) error {
	return wrap(ErrInvocation, op, cause)
}

// Inspection wraps a failure querying invocation outcome.
func Inspection(op string, cause error) error {
	return wrap(ErrInspection, op, cause)
}

// Publish wraps a failure publishing to the messaging backend.
func Publish(op string, cause error) error {
	return wrap(ErrPublish, op, cause)
}

// Store wraps a credential/rule store failure.
func Store(op string, cause error) error {
	return wrap(ErrStore, op, cause)
}

// NotFound reports a missing key or resource.
func NotFound(resource, key string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %q not found", resource, key),
		Field:    key,
	}
}

// Config reports an invalid or missing configuration value.
func Config(field, message string) error {
	return &Error{
		Sentinel: ErrConfig,
		Message:  message,
		Field:    field,
	}
}

func wrap(sentinel error, op string, cause error) error {
	return &Error{
		Sentinel: sentinel,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// IsPermanent reports whether retrying the same message can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidEnvelope)
}

// IsTransient reports whether the error came from infrastructure that may
// recover on redelivery.
func IsTransient(err error) bool {
	return errors.Is(err, ErrInvocation) ||
		errors.Is(err, ErrInspection) ||
		errors.Is(err, ErrPublish)
}
