package service

import (
	"errors"
	"fmt"

	"github.com/opstrack/opstrack/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// Callers check them with errors.Is; the API layer maps them to HTTP status codes.
var (
	// ErrPlanTaskNotFound indicates that the plan task does not exist.
	// API layer should map this to HTTP 404 Not Found.
	ErrPlanTaskNotFound = errors.New("plan task not found")

	// ErrInvalidStatusAction indicates an unknown lifecycle action.
	// API layer should map this to HTTP 400 Bad Request.
	ErrInvalidStatusAction = errors.New("invalid status action")

	// ErrUnknownAlertRobot indicates a robot name that is not configured
	// while no explicit webhook was supplied.
	ErrUnknownAlertRobot = errors.New("unknown alert robot")
)

// PlanTaskServiceError wraps errors from the plan task service with context.
type PlanTaskServiceError struct {
	// Operation is the operation that failed (e.g., "create_plan_task")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for PlanTaskServiceError.
func (e *PlanTaskServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plan task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("plan task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *PlanTaskServiceError) Unwrap() error {
	return e.Err
}

// NewPlanTaskServiceError creates a new PlanTaskServiceError.
// Not-found errors from the store are returned as ErrPlanTaskNotFound
// without wrapping.
func NewPlanTaskServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPlanTaskNotFound) || errors.Is(err, store.ErrNotFound) {
		return ErrPlanTaskNotFound
	}
	return &PlanTaskServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
