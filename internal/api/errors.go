package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/opstrack/opstrack/internal/api/shared"
	"github.com/opstrack/opstrack/internal/domain"
	"github.com/opstrack/opstrack/internal/service"
	"github.com/opstrack/opstrack/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, service.ErrPlanTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidFormat),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, service.ErrInvalidStatusAction),
		errors.Is(err, service.ErrUnknownAlertRobot),
		errors.Is(err, shared.ErrEmptyBody):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, service.ErrPlanTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return "Plan task not found"

	case errors.Is(err, store.ErrDuplicate):
		return "Resource already exists"

	case errors.Is(err, service.ErrInvalidStatusAction):
		return "Invalid action: must be one of start, complete, cancel"

	case errors.Is(err, service.ErrUnknownAlertRobot):
		return "Unknown alert robot"

	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"

	// Domain validation messages name a field and never carry user data.
	case errors.Is(err, domain.ErrValidation):
		if msg := domainValidationMessage(err); msg != "" {
			return msg
		}
		return "Validation error"

	case errors.Is(err, domain.ErrInvalidFormat),
		errors.Is(err, domain.ErrInvalidID):
		return "Invalid request format"

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	default:
		return "An unexpected error occurred"
	}
}

var domainValidationErrors = []error{
	domain.ErrEmptyPlanTaskTitle,
	domain.ErrEmptyPlanTime,
	domain.ErrNegativeReminderMinutes,
	domain.ErrInvalidScheduleType,
	domain.ErrInvalidPlanTaskStatus,
	domain.ErrInvalidPrepStatus,
	domain.ErrEmptyPrepDescription,
}

func domainValidationMessage(err error) string {
	for _, target := range domainValidationErrors {
		if errors.Is(err, target) {
			msg := target.Error()
			return strings.ToUpper(msg[:1]) + msg[1:]
		}
	}
	return ""
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "url", "http_url":
		return "invalid URL"
	case "min", "gte":
		return "too small"
	case "max", "lte":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
