// Package errortypes provides the typed application errors used across the
// summary service.
package errortypes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
)

// ErrorType represents the type of error that occurred
type ErrorType string

// Error types
const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"

	// ErrorTypeModelLoad covers failures constructing a tokenizer or model.
	ErrorTypeModelLoad ErrorType = "model_load"

	// ErrorTypeGeneration covers failures while encoding, generating or decoding.
	ErrorTypeGeneration ErrorType = "generation"

	// ErrorTypeTimeout is used when a caller supplied deadline expires.
	ErrorTypeTimeout ErrorType = "timeout"
)

// FieldFatal marks an error the service cannot recover from.
const FieldFatal = "fatal"

// AppError represents an application error with context
type AppError struct {
	Err       error
	Type      ErrorType
	Message   string
	StackInfo string
	Fields    map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Err.Error()
}

// Unwrap unwraps the error to support errors.Is and errors.As
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithField adds a field to the error for additional context
func (e *AppError) WithField(key string, value interface{}) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// AsFatal flags the error as unrecoverable.
func (e *AppError) AsFatal() *AppError {
	return e.WithField(FieldFatal, true)
}

// captureStack captures the stack trace at the call site
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var builder strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "testing/") && !strings.Contains(frame.File, "/go/src/") {
			fmt.Fprintf(&builder, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		}
		if !more {
			break
		}
	}
	return builder.String()
}

// newAppError creates a new AppError with the given type, underlying error, and message
func newAppError(errType ErrorType, err error, message string) *AppError {
	if err == nil {
		err = errors.New("unknown error")
	}

	return &AppError{
		Err:       err,
		Type:      errType,
		Message:   message,
		StackInfo: captureStack(),
		Fields:    make(map[string]interface{}),
	}
}

// ValidationError creates a new validation error
func ValidationError(err error, message string) *AppError {
	return newAppError(ErrorTypeValidation, err, message)
}

// DatabaseError creates a new database error
func DatabaseError(err error, message string) *AppError {
	return newAppError(ErrorTypeDatabase, err, message)
}

// ConfigError creates a new configuration error
func ConfigError(err error, message string) *AppError {
	return newAppError(ErrorTypeConfig, err, message)
}

// InternalError creates a new internal error
func InternalError(err error, message string) *AppError {
	return newAppError(ErrorTypeInternal, err, message)
}

// ExternalError creates a new external error
func ExternalError(err error, message string) *AppError {
	return newAppError(ErrorTypeExternal, err, message)
}

// ModelLoadError creates a new model load error
func ModelLoadError(err error, message string) *AppError {
	return newAppError(ErrorTypeModelLoad, err, message)
}

// GenerationError creates a new generation error. Deadline and cancellation
// errors are reported as timeouts instead.
func GenerationError(err error, message string) *AppError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newAppError(ErrorTypeTimeout, err, message)
	}
	return newAppError(ErrorTypeGeneration, err, message)
}

// LogError logs an AppError using the provided slog.Logger or the default slog logger.
// It logs the error message, type, stack trace, and any associated fields.
func LogError(logger *slog.Logger, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		args := []any{
			"type", string(appErr.Type),
			"original_error", appErr.Err.Error(),
		}
		if appErr.StackInfo != "" {
			args = append(args, "stack", appErr.StackInfo)
		}
		for k, v := range appErr.Fields {
			args = append(args, k, v)
		}
		logger.Error(appErr.Message, args...)
	} else {
		logger.Error(err.Error(), "error", err)
	}
}

// KindOf returns the type of the outermost AppError in err's chain, or an
// empty string when there is none.
func KindOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return KindOf(err) == ErrorTypeValidation
}

// IsModelLoadError checks if an error is a model load error
func IsModelLoadError(err error) bool {
	return KindOf(err) == ErrorTypeModelLoad
}

// IsGenerationError checks if an error is a generation error
func IsGenerationError(err error) bool {
	return KindOf(err) == ErrorTypeGeneration
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	return KindOf(err) == ErrorTypeTimeout
}

// IsFatal reports whether any AppError in err's chain was flagged fatal.
func IsFatal(err error) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if fatal, ok := appErr.Fields[FieldFatal].(bool); ok && fatal {
			return true
		}
		err = appErr.Err
	}
	return false
}
