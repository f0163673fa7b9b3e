package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes used across the messaging core.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeEmptyMessage = "EMPTY_MESSAGE"
	CodeNetwork      = "NETWORK_ERROR"
	CodeQueueFull    = "QUEUE_FULL"
	CodeAuthExpired  = "AUTH_EXPIRED"
	CodeNotifier     = "NOTIFIER_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeInternal     = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// NewEmptyMessageError rejects a compose with neither text nor attachments.
func NewEmptyMessageError() *AppError {
	return &AppError{
		Code:    CodeEmptyMessage,
		Message: "Message needs text or at least one attachment",
	}
}

// NewNetworkError wraps a transient transport failure. These are recovered
// via the offline queue and never surfaced as fatal to the user.
func NewNetworkError(err error) *AppError {
	return &AppError{
		Code:    CodeNetwork,
		Message: "Network request failed",
		Err:     err,
	}
}

// NewQueueFullError signals local backpressure: composition should be
// disabled until queued sends drain.
func NewQueueFullError(limit int) *AppError {
	return &AppError{
		Code:    CodeQueueFull,
		Message: fmt.Sprintf("Offline queue is full (%d pending sends)", limit),
	}
}

// NewAuthExpiredError is terminal for the current session and never retried.
func NewAuthExpiredError() *AppError {
	return &AppError{
		Code:    CodeAuthExpired,
		Message: "Session expired, please sign in again",
	}
}

// NewNotifierError wraps an escalation delivery failure. Non-fatal: logged,
// one fallback attempt, never propagated to the sender.
func NewNotifierError(err error) *AppError {
	return &AppError{
		Code:    CodeNotifier,
		Message: "Reminder notification failed",
		Err:     err,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// ErrorCode extracts the AppError code from err, or "" if err is not one.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsRetryable reports whether the failure is transient and eligible for
// offline-queue replay. Validation and auth failures are never retried.
func IsRetryable(err error) bool {
	return ErrorCode(err) == CodeNetwork
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}

// StatusForError maps an application error to an HTTP status code.
func StatusForError(err error) int {
	switch ErrorCode(err) {
	case CodeValidation, CodeEmptyMessage:
		return fiber.StatusBadRequest
	case CodeAuthExpired, CodeUnauthorized:
		return fiber.StatusUnauthorized
	case CodeForbidden:
		return fiber.StatusForbidden
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeQueueFull:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}
