package ponds

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pond operation failure.
type ErrorKind string

const (
	// KindValidation indicates missing or invalid caller input.
	KindValidation ErrorKind = "validation"

	// KindConflict indicates a pond with the requested name already exists
	// and is fully synced.
	KindConflict ErrorKind = "conflict"

	// KindNotFound indicates an unknown point id.
	KindNotFound ErrorKind = "not_found"

	// KindTemplateMissing indicates the template point is absent.
	KindTemplateMissing ErrorKind = "template_missing"

	// KindRemote indicates a FarmBot API call failed after the
	// re-authentication retry was exhausted.
	KindRemote ErrorKind = "remote"

	// KindPolicyDenied indicates the admission policy rejected the operation.
	KindPolicyDenied ErrorKind = "policy_denied"
)

// Error is a classified pond operation error.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource names the point or sequence involved, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the pond operation that failed.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewValidationError creates a validation error.
func NewValidationError(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

// NewConflictError creates a conflict error.
func NewConflictError(format string, args ...any) *Error {
	return newError(KindConflict, nil, format, args...)
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(err error, format string, args ...any) *Error {
	return newError(KindNotFound, err, format, args...)
}

// NewTemplateMissingError creates a template-missing error.
func NewTemplateMissingError(templateName string) *Error {
	return newError(KindTemplateMissing, nil, "template point %q not found", templateName)
}

// NewRemoteError wraps a failed FarmBot API call.
func NewRemoteError(err error, format string, args ...any) *Error {
	return newError(KindRemote, err, format, args...)
}

// NewPolicyDeniedError creates a policy denial.
func NewPolicyDeniedError(reason string) *Error {
	return newError(KindPolicyDenied, nil, "%s", reason)
}

func kindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return kindOf(err) == KindValidation }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return kindOf(err) == KindConflict }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }

// IsTemplateMissing reports whether err is a template-missing error.
func IsTemplateMissing(err error) bool { return kindOf(err) == KindTemplateMissing }

// IsRemote reports whether err is a remote API error.
func IsRemote(err error) bool { return kindOf(err) == KindRemote }

// IsPolicyDenied reports whether err is an admission policy denial.
func IsPolicyDenied(err error) bool { return kindOf(err) == KindPolicyDenied }
