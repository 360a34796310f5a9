// Package errs defines the error taxonomy shared by the concierge workflows.
// Workflows classify their failures into one of these types so the router can
// map them to user-facing text without inspecting error strings.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError indicates bad user input (empty broadcast message,
// unparsable or past reminder time). The message is safe to show the user.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// AuthorizationError indicates a sender that is not on the allow-list for
// the attempted action.
type AuthorizationError struct {
	Action string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized to %s", e.Action)
}

// NotFoundError indicates a missing entity: an unknown conversation or group,
// or no pending broadcast to confirm/cancel. Key names the expected identity
// so an operator can remediate.
type NotFoundError struct {
	What string
	Key  string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return e.What + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.What, e.Key)
}

// TransientError indicates a failure attributable to external propagation
// delay (e.g. installation verification during a group add). The caller
// should tell the user to retry shortly rather than treat it as fatal.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient infrastructure error: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// Validation builds a ValidationError from a format string.
func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFoundError.
func NotFound(what, key string) error {
	return &NotFoundError{What: what, Key: key}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
