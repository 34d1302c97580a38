// Package apperr defines the error kinds surfaced by the membership core.
// Callers match them with errors.As; infrastructure failures are wrapped
// errors of any other type.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input: a missing field, a non-positive amount,
// a duplicate email.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown entity id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// ConfigError reports a missing or unrecognized configuration entry, such as a
// membership type with no duration mapping.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Key, e.Reason)
}

// ErrDuplicateEmail is wrapped by the ValidationError returned when an email is
// already registered.
var ErrDuplicateEmail = errors.New("email already registered")

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFound builds a NotFoundError.
func NotFound(resource string, id fmt.Stringer) error {
	return &NotFoundError{Resource: resource, ID: id.String()}
}

// DuplicateEmail builds the ValidationError for an email that is already taken.
func DuplicateEmail(email string) error {
	return &ValidationError{Field: "email", Reason: fmt.Sprintf("%q is already registered", email), Err: ErrDuplicateEmail}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// IsConfig reports whether err is (or wraps) a ConfigError.
func IsConfig(err error) bool {
	var c *ConfigError
	return errors.As(err, &c)
}
