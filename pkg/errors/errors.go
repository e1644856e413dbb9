package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels wrapped by every AppError of the matching kind.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrUnprocessable  = errors.New("unprocessable entity")
)

// AppError is an error with a machine code and the HTTP status it maps to.
// Message is safe to show to API clients.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Kind describes one class of error. PublicMessage is what clients see when
// only the bare sentinel is known; empty means the error text is shown.
type Kind struct {
	Sentinel      error
	Code          string
	Status        int
	PublicMessage string
}

var (
	kindNotFound      = Kind{ErrNotFound, "NOT_FOUND", http.StatusNotFound, "resource not found"}
	kindAlreadyExists = Kind{ErrAlreadyExists, "ALREADY_EXISTS", http.StatusConflict, "resource already exists"}
	kindConflict      = Kind{ErrConflict, "CONFLICT", http.StatusConflict, "resource was modified concurrently"}
	kindInvalidInput  = Kind{ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest, ""}
	kindUnauthorized  = Kind{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized, "authentication required"}
	kindForbidden     = Kind{ErrForbidden, "FORBIDDEN", http.StatusForbidden, "insufficient permissions"}
	kindUnprocessable = Kind{ErrUnprocessable, "UNPROCESSABLE", http.StatusUnprocessableEntity, ""}
	kindUnavailable   = Kind{ErrServiceUnavail, "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, "service unavailable"}
	kindInternal      = Kind{ErrInternal, "INTERNAL_ERROR", http.StatusInternalServerError, "an internal error occurred"}
)

// kinds is checked in order by Classify.
var kinds = []Kind{
	kindNotFound,
	kindAlreadyExists,
	kindConflict,
	kindInvalidInput,
	kindUnauthorized,
	kindForbidden,
	kindUnprocessable,
	kindUnavailable,
}

func (k Kind) new(message string) *AppError {
	return &AppError{Code: k.Code, Message: message, Status: k.Status, Err: k.Sentinel}
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return kindNotFound.new(fmt.Sprintf("%s with id %s not found", resource, id))
}

// AlreadyExists creates a 409 error for a unique field clash.
func AlreadyExists(resource, field, value string) *AppError {
	return kindAlreadyExists.new(fmt.Sprintf("%s with %s %q already exists", resource, field, value))
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError { return kindInvalidInput.new(message) }

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError { return kindUnauthorized.new(message) }

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError { return kindForbidden.new(message) }

// Conflict creates a 409 error for concurrent or state conflicts.
func Conflict(message string) *AppError { return kindConflict.new(message) }

// Unprocessable creates a 422 error. Wishlist business rule violations
// (duplicate product, product missing from the list, bad quantity) use it.
func Unprocessable(message string) *AppError { return kindUnprocessable.new(message) }

// ServiceUnavailable creates a 503 error.
func ServiceUnavailable(message string) *AppError { return kindUnavailable.new(message) }

// Internal creates a 500 error that keeps err for logging only.
func Internal(err error) *AppError {
	e := kindInternal.new(kindInternal.PublicMessage)
	e.Err = err
	return e
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// IsDomain reports whether err is a wishlist business rule violation.
func IsDomain(err error) bool {
	return errors.Is(err, ErrUnprocessable)
}

// Classify returns the kind err belongs to, matching wrapped sentinels.
// Anything unrecognised is internal.
func Classify(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.Sentinel) {
			return k
		}
	}
	return kindInternal
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return Classify(err).Status
}
