package server

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/localrivet/summaryservice/internal/errortypes"
	"github.com/localrivet/summaryservice/internal/history"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not found", fmt.Errorf("summary x: %w", history.ErrNotFound), ErrorCodeNotFound},
		{"history disabled", ErrHistoryDisabled, ErrorCodeHistoryDisabled},
		{"validation", errortypes.ValidationError(errors.New("x"), "bad"), ErrorCodeValidationError},
		{"model load", errortypes.ModelLoadError(errors.New("x"), "load"), ErrorCodeModelUnavailable},
		{"generation", errortypes.GenerationError(errors.New("x"), "gen"), ErrorCodeGenerationFailed},
		{"timeout", errortypes.GenerationError(context.DeadlineExceeded, "gen"), ErrorCodeTimeout},
		{"database", errortypes.DatabaseError(errors.New("x"), "db"), ErrorCodeDatabaseError},
		{"config", errortypes.ConfigError(errors.New("x"), "cfg"), ErrorCodeConfigError},
		{"external", errortypes.ExternalError(errors.New("x"), "ext"), ErrorCodeExternalError},
		{"internal", errortypes.InternalError(errors.New("x"), "int"), ErrorCodeInternalError},
		{"plain", errors.New("x"), ErrorCodeUnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewErrorResponse(t *testing.T) {
	err := errortypes.ModelLoadError(errors.New("no weights"), "failed to load default model").
		WithField("model", "facebook/bart-large-cnn").
		AsFatal()

	resp := NewErrorResponse(err)
	if resp.Status != "error" {
		t.Errorf("Expected status 'error', got %q", resp.Status)
	}
	if resp.Code != ErrorCodeModelUnavailable {
		t.Errorf("Expected code %s, got %s", ErrorCodeModelUnavailable, resp.Code)
	}
	if resp.Message != err.Error() {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if resp.Details["model"] != "facebook/bart-large-cnn" || resp.Details[errortypes.FieldFatal] != true {
		t.Errorf("unexpected details %v", resp.Details)
	}
	if resp.StackTrace == "" {
		t.Error("expected a stack trace")
	}

	plain := NewErrorResponse(errors.New("plain"))
	if plain.Code != ErrorCodeUnknownError || plain.Details != nil {
		t.Errorf("unexpected plain response %+v", plain)
	}
}
