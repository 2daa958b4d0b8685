package summarizer

import (
	"errors"
	"time"

	"github.com/localrivet/summaryservice/internal/engine"
	"github.com/localrivet/summaryservice/internal/errortypes"
	"github.com/localrivet/summaryservice/internal/registry"
)

// diagnosticPrefix starts the text rendered for a failed summarization.
const diagnosticPrefix = "An error occurred during summarization: "

// Result is the outcome of a successful Summarize call.
//
// CompressionRatio is 1 - SummaryWords/OriginalWords and goes negative when
// the summary is longer than the original.
type Result struct {
	OriginalText     string              `json:"original_text"`
	CleanedText      string              `json:"cleaned_text"`
	Summary          string              `json:"summary"`
	OriginalWords    int                 `json:"original_words"`
	SummaryWords     int                 `json:"summary_words"`
	CompressionRatio float64             `json:"compression_ratio"`
	Duration         time.Duration       `json:"duration"`
	Model            registry.Resolution `json:"model"`
	Device           engine.Device       `json:"device,omitempty"`
	InputTokens      int                 `json:"input_tokens"`
	OutputTokens     int                 `json:"output_tokens"`
	Truncated        bool                `json:"truncated"`

	// Empty is set when the input had nothing to summarize.
	Empty bool `json:"empty,omitempty"`
}

// Diagnostic renders err the way text-only surfaces display a failed
// summarization.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	var appErr *errortypes.AppError
	if errors.As(err, &appErr) && appErr.Err != nil {
		msg = appErr.Err.Error()
	}
	return diagnosticPrefix + msg
}
