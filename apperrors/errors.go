package apperrors

import "errors"

// Error kinds surfaced by the chat core. Transports map them to status codes / wire events.
var (
	ErrValidation          = errors.New("validation failed")
	ErrModerationRejected  = errors.New("message rejected by moderation")
	ErrStorageFull         = errors.New("storage full")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
)

// Error wraps one of the sentinel errors with a message that is safe to show to the user.
type Error struct {
	Err     error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error with a message.
func NewValidationError(message string) error {
	return &Error{Err: ErrValidation, Message: message}
}

// NewModerationError creates a moderation rejection carrying the reason shown to the submitter.
func NewModerationError(reason string) error {
	return &Error{Err: ErrModerationRejected, Message: reason}
}

// NewStorageFullError creates a storage full error with a message.
func NewStorageFullError(message string) error {
	return &Error{Err: ErrStorageFull, Message: message}
}

// NewNotFoundError creates a not found error with a message.
func NewNotFoundError(message string) error {
	return &Error{Err: ErrNotFound, Message: message}
}

// NewConflictError creates a conflict error with a message.
func NewConflictError(message string) error {
	return &Error{Err: ErrConflict, Message: message}
}

// NewUpstreamError marks err as coming from an unavailable remote dependency.
func NewUpstreamError(message string, err error) error {
	if err != nil {
		message = message + ": " + err.Error()
	}
	return &Error{Err: ErrUpstreamUnavailable, Message: message}
}

// UserMessage returns the user facing part of err, falling back to err.Error().
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
