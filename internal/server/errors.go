package server

import (
	"errors"

	"github.com/localrivet/summaryservice/internal/errortypes"
	"github.com/localrivet/summaryservice/internal/history"
)

// ErrorResponse is the structured form of an error, used where a caller
// wants more than a message and a code.
type ErrorResponse struct {
	Status     string                 `json:"status"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	StackTrace string                 `json:"stack_trace,omitempty"`
}

// Error codes reported in tool responses
const (
	ErrorCodeValidationError  = "VALIDATION_ERROR"
	ErrorCodeNotFound         = "RESOURCE_NOT_FOUND"
	ErrorCodeModelUnavailable = "MODEL_UNAVAILABLE"
	ErrorCodeGenerationFailed = "GENERATION_FAILED"
	ErrorCodeTimeout          = "TIMEOUT"
	ErrorCodeDatabaseError    = "DATABASE_ERROR"
	ErrorCodeConfigError      = "CONFIG_ERROR"
	ErrorCodeExternalError    = "EXTERNAL_ERROR"
	ErrorCodeInternalError    = "INTERNAL_ERROR"
	ErrorCodeHistoryDisabled  = "HISTORY_DISABLED"
	ErrorCodeUnknownError     = "UNKNOWN_ERROR"
)

// ErrHistoryDisabled is reported by history tools when no store is configured.
var ErrHistoryDisabled = errors.New("summary history is disabled")

// ErrorCode classifies err for tool responses.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, history.ErrNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, ErrHistoryDisabled):
		return ErrorCodeHistoryDisabled
	}

	switch errortypes.KindOf(err) {
	case errortypes.ErrorTypeValidation:
		return ErrorCodeValidationError
	case errortypes.ErrorTypeModelLoad:
		return ErrorCodeModelUnavailable
	case errortypes.ErrorTypeGeneration:
		return ErrorCodeGenerationFailed
	case errortypes.ErrorTypeTimeout:
		return ErrorCodeTimeout
	case errortypes.ErrorTypeDatabase:
		return ErrorCodeDatabaseError
	case errortypes.ErrorTypeConfig:
		return ErrorCodeConfigError
	case errortypes.ErrorTypeExternal:
		return ErrorCodeExternalError
	case errortypes.ErrorTypeInternal:
		return ErrorCodeInternalError
	default:
		return ErrorCodeUnknownError
	}
}

// NewErrorResponse converts an error to a standardized ErrorResponse
func NewErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{
		Status:  "error",
		Code:    ErrorCode(err),
		Message: err.Error(),
	}

	var appErr *errortypes.AppError
	if errors.As(err, &appErr) {
		if len(appErr.Fields) > 0 {
			resp.Details = appErr.Fields
		}
		resp.StackTrace = appErr.StackInfo
	}
	return resp
}
