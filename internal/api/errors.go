package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/durable-tasks/internal/api/shared"
	"github.com/phrazzld/durable-tasks/internal/job"
	"github.com/phrazzld/durable-tasks/internal/pool"
	"github.com/phrazzld/durable-tasks/internal/service"
	"github.com/phrazzld/durable-tasks/internal/service/auth"
	"github.com/phrazzld/durable-tasks/internal/store"
	"github.com/phrazzld/durable-tasks/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes so that
// internal error types never decide the response shape on their own.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	case errors.Is(err, auth.ErrInsufficientScope):
		return http.StatusForbidden

	// Bad request errors
	case errors.Is(err, service.ErrUnsupportedJobType),
		errors.Is(err, job.ErrInvalidJob),
		errors.Is(err, pool.ErrInvalidConcurrency),
		errors.Is(err, shared.ErrEmptyBody),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// The queue or its storage cannot take the request right now
	case errors.Is(err, task.ErrQueueDisposed),
		errors.Is(err, pool.ErrPoolClosed),
		errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"

	case errors.Is(err, auth.ErrInsufficientScope):
		return "Insufficient scope"

	case errors.Is(err, service.ErrUnsupportedJobType):
		return "Unsupported job type"

	case errors.Is(err, job.ErrInvalidJob),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid job data"

	case errors.Is(err, pool.ErrInvalidConcurrency):
		return "Concurrency must not be negative"

	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"

	case errors.Is(err, task.ErrQueueDisposed),
		errors.Is(err, pool.ErrPoolClosed):
		return "Queue is shutting down"

	case errors.Is(err, store.ErrUnavailable):
		return "Task storage is unavailable"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns a validator error into a message naming the
// first offending field, without echoing the submitted value.
func SanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		fieldErr := validationErrs[0]
		return fmt.Sprintf("Invalid %s: %s", strings.ToLower(fieldErr.Field()), validationTagMessage(fieldErr.Tag()))
	}
	return "Validation error"
}

func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "gte", "min":
		return "too small"
	case "lte", "max":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the mapped status and a safe message for err, and
// logs the redacted error. defaultMsg replaces the generic message for
// errors without a specific mapping.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && defaultMsg != "" {
		message = defaultMsg
	}

	var opts []shared.ResponseOption
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		opts = append(opts, shared.WithElevatedLogLevel())
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err, opts...)
}

// handleDecodeError responds to a body that failed to decode or validate.
func handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
	case errors.Is(err, shared.ErrEmptyBody):
		HandleAPIError(w, r, err, "")
	default:
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
	}
}
