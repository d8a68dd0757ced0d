package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
)

// ErrorCategory defines the type of error for proper handling
type ErrorCategory string

const (
	CategoryValidation     ErrorCategory = "validation"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryNetwork        ErrorCategory = "network"
	CategoryExternalAPI    ErrorCategory = "external_api"
	CategoryInternal       ErrorCategory = "internal"
)

// AppError wraps an errbuilder error with the category and HTTP status the
// pipeline's callers need to decide fatality.
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory `json:"category"`
	HTTPStatus int           `json:"http_status"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	codeStr := "UNKNOWN_ERROR"
	switch e.ErrBuilder.ErrCode() {
	case errbuilder.CodeInvalidArgument:
		codeStr = "VALIDATION_ERROR"
	case errbuilder.CodeUnauthenticated:
		codeStr = "AUTHENTICATION_ERROR"
	case errbuilder.CodeFailedPrecondition:
		codeStr = "CONFIGURATION_ERROR"
	case errbuilder.CodeUnavailable:
		codeStr = "EXTERNAL_API_ERROR"
	case errbuilder.CodeInternal:
		codeStr = "INTERNAL_ERROR"
	}
	return fmt.Sprintf("[%s] %s", codeStr, e.ErrBuilder.Msg)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// IsFatal reports whether the error must abort the whole pipeline run.
// Partial fetch and classifier failures never reach here; they are
// substituted with defaults at the call site.
func (e *AppError) IsFatal() bool {
	switch e.Category {
	case CategoryValidation, CategoryAuthentication, CategoryConfiguration:
		return true
	default:
		return false
	}
}

// NewAppError creates an AppError from errbuilder with additional context
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

// NewValidationError creates a validation error; raised before any network
// call when required input (e.g. the subject identifier) is missing.
func NewValidationError(message string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)

	return NewAppError(builder, CategoryValidation, http.StatusBadRequest)
}

// NewAuthenticationError creates an authentication error; raised at ingestion
// start when the activity-source credentials are missing or invalid.
func NewAuthenticationError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnauthenticated).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryAuthentication, http.StatusUnauthorized)
}

// NewConfigurationError creates a configuration error; raised at first
// classifier use when no provider credentials are available.
func NewConfigurationError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryConfiguration, http.StatusInternalServerError)
}

// NewExternalAPIError creates an external API error using errbuilder
func NewExternalAPIError(apiName string, cause error) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("api_name", errors.New(apiName))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(fmt.Sprintf("%s API error", apiName)).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryExternalAPI, http.StatusBadGateway)
}

// NewNetworkError creates a network error using errbuilder
func NewNetworkError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryNetwork, http.StatusBadGateway)
}

// NewInternalError creates an internal server error using errbuilder
func NewInternalError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryInternal, http.StatusInternalServerError)
}

// ToAppError converts any error to an AppError
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ebErr, ok := err.(*errbuilder.ErrBuilder); ok {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "network is unreachable") {
		return NewNetworkError("Network connection failed", err)
	}

	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded") {
		return NewNetworkError("Request timed out", err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewNetworkError("Request cancelled or timed out", err)
	}

	return NewInternalError("An unexpected error occurred", err)
}

// IsRetryableError checks if an error should trigger a retry
func IsRetryableError(err error) bool {
	appErr := ToAppError(err)

	switch appErr.Category {
	case CategoryNetwork, CategoryExternalAPI:
		return true
	default:
		return false
	}
}

// ErrorHandler is a Gin middleware that provides centralized error handling
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			appErr := ToAppError(err)
			LogError(c, appErr)
			c.JSON(appErr.HTTPStatus, gin.H{
				"error":    appErr.ErrBuilder.Msg,
				"category": appErr.Category,
			})
		}
	}
}

// LogError logs an error with appropriate level and context
func LogError(c *gin.Context, err *AppError) {
	logEntry := slog.With(
		"error_category", err.Category,
		"error_code", err.ErrBuilder.ErrCode(),
		"http_status", err.HTTPStatus,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	)

	switch err.Category {
	case CategoryValidation:
		logEntry.Warn(err.ErrBuilder.Msg)
	case CategoryNetwork, CategoryExternalAPI:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Info(err.ErrBuilder.Msg, "cause", cause)
		} else {
			logEntry.Info(err.ErrBuilder.Msg)
		}
	default:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Error(err.ErrBuilder.Msg, "cause", cause)
		} else {
			logEntry.Error(err.ErrBuilder.Msg)
		}
	}
}
