package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrNotAuthorized   = errors.New("not authorized")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrDuplicateReview = errors.New("You have already reviewed this book")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("Too many requests, please try again later")
)

// ValidationError reports malformed input. Its message is shown to the client.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validation(msg string) error {
	return &ValidationError{Msg: msg}
}

// Conflict wraps ErrConflict with a client-facing message.
func Conflict(msg string) error {
	return &conflictError{msg: msg}
}

type conflictError struct{ msg string }

func (e *conflictError) Error() string        { return e.msg }
func (e *conflictError) Is(target error) bool { return target == ErrConflict }

// NotFound wraps ErrNotFound with a client-facing message such as "Book not found".
func NotFound(msg string) error {
	return &notFoundError{msg: msg}
}

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string        { return e.msg }
func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }

// Forbidden wraps ErrNotAuthorized with a client-facing message.
func Forbidden(msg string) error {
	return &forbiddenError{msg: msg}
}

type forbiddenError struct{ msg string }

func (e *forbiddenError) Error() string        { return e.msg }
func (e *forbiddenError) Is(target error) bool { return target == ErrNotAuthorized }

// Unauthenticated wraps ErrUnauthenticated with a client-facing message.
func Unauthenticated(msg string) error {
	return &unauthenticatedError{msg: msg}
}

type unauthenticatedError struct{ msg string }

func (e *unauthenticatedError) Error() string        { return e.msg }
func (e *unauthenticatedError) Is(target error) bool { return target == ErrUnauthenticated }
