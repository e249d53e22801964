package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// APIError is an error that knows how it should be rendered to a client.
type APIError struct {
	Status   int    `json:"-"`
	Code     string `json:"code"`
	Message  string `json:"error"`
	Details  any    `json:"details,omitempty"`
	Internal error  `json:"-"`
}

// Error returns the error message
func (e *APIError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

// Unwrap returns the original error
func (e *APIError) Unwrap() error {
	return e.Internal
}

// WithDetails returns a copy of the APIError carrying extra response details
func (e *APIError) WithDetails(details any) *APIError {
	return &APIError{
		Status:   e.Status,
		Code:     e.Code,
		Message:  e.Message,
		Details:  details,
		Internal: e.Internal,
	}
}

func New(status int, code, message string, err error) *APIError {
	return &APIError{
		Status:   status,
		Code:     code,
		Message:  message,
		Internal: err,
	}
}

func BadRequest(message string, err error) *APIError {
	return New(http.StatusBadRequest, "BAD_REQUEST", message, err)
}

func Unauthorized(message string, err error) *APIError {
	return New(http.StatusUnauthorized, "UNAUTHORIZED", message, err)
}

func Forbidden(message string, err error) *APIError {
	return New(http.StatusForbidden, "FORBIDDEN", message, err)
}

func NotFound(message string, err error) *APIError {
	return New(http.StatusNotFound, "NOT_FOUND", message, err)
}

func Conflict(message string, err error) *APIError {
	return New(http.StatusConflict, "CONFLICT", message, err)
}

// Locked is returned when a script lease is held by someone else.
func Locked(message string, err error) *APIError {
	return New(http.StatusLocked, "LOCKED", message, err)
}

// CommitConflict is returned once version commit retries are exhausted.
func CommitConflict(message string, err error) *APIError {
	return New(http.StatusConflict, "COMMIT_CONFLICT", message, err)
}

// LeaseLost is returned when a renewal finds the lease expired or released.
func LeaseLost(message string, err error) *APIError {
	return New(http.StatusConflict, "LEASE_LOST", message, err)
}

func UnprocessableEntity(message string, err error) *APIError {
	return New(http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY", message, err)
}

func Internal(err error) *APIError {
	return New(http.StatusInternalServerError, "INTERNAL", "Internal server error", err)
}

// NewValidationError turns binding errors into a 422 with one message per field.
func NewValidationError(err error) *APIError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return UnprocessableEntity("Invalid request body", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = validationMessage(fe)
	}
	return UnprocessableEntity("Validation failed", err).WithDetails(fields)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "uuid4", "uuid":
		return "must be a valid uuid"
	}
	return "is invalid"
}
