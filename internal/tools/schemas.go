// Package tools defines the request and response schemas of the MCP tools
// exposed by the summary service.
package tools

const (
	// ToolSummarize is the name of the summarize MCP tool
	ToolSummarize = "summarize"

	// ToolListModels is the name of the list_models MCP tool
	ToolListModels = "list_models"

	// ToolGetSummary is the name of the get_summary MCP tool
	ToolGetSummary = "get_summary"

	// ToolRecentSummaries is the name of the recent_summaries MCP tool
	ToolRecentSummaries = "recent_summaries"

	// ToolDeleteSummary is the name of the delete_summary MCP tool
	ToolDeleteSummary = "delete_summary"

	// ToolClearHistory is the name of the clear_history MCP tool
	ToolClearHistory = "clear_history"

	// ToolServiceHealth is the name of the service_health MCP tool
	ToolServiceHealth = "service_health"

	// DefaultRecentLimit is the number of records returned by
	// recent_summaries when no limit is given
	DefaultRecentLimit = 10

	// ClearConfirmation must be sent in clear_history requests
	ClearConfirmation = "confirm"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// SummarizeRequest defines the input schema for summarize tool
type SummarizeRequest struct {
	// Text is the text to summarize
	Text string `json:"text"`

	// Model selects a model by identifier. Empty uses the default model and
	// unknown identifiers fall back to it.
	Model string `json:"model,omitempty"`
}

// SummarizeResponse defines the output schema for summarize tool
type SummarizeResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	// ID identifies the stored history record, when history is enabled
	ID string `json:"id,omitempty"`

	Summary          string  `json:"summary"`
	Model            string  `json:"model,omitempty"`
	RequestedModel   string  `json:"requested_model,omitempty"`
	UsedFallback     bool    `json:"used_fallback"`
	FallbackReason   string  `json:"fallback_reason,omitempty"`
	Device           string  `json:"device,omitempty"`
	OriginalWords    int     `json:"original_words"`
	SummaryWords     int     `json:"summary_words"`
	CompressionRatio float64 `json:"compression_ratio"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	Truncated        bool    `json:"truncated"`
	DurationMs       int64   `json:"duration_ms"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`

	// ErrorCode classifies the error if Status is "error"
	ErrorCode string `json:"error_code,omitempty"`
}

// ListModelsRequest defines the input schema for list_models tool
type ListModelsRequest struct{}

// ModelInfo describes one model in a list_models response
type ModelInfo struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	Default           bool   `json:"default"`
	Loaded            bool   `json:"loaded"`
	MaxLength         int    `json:"max_length"`
	MinLength         int    `json:"min_length"`
	NumBeams          int    `json:"num_beams"`
	NoRepeatNgramSize int    `json:"no_repeat_ngram_size"`
	EarlyStopping     bool   `json:"early_stopping"`
}

// ListModelsResponse defines the output schema for list_models tool
type ListModelsResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	Models []ModelInfo `json:"models"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`
}

// SummaryRecord is a stored summary as returned by history tools
type SummaryRecord struct {
	ID               string  `json:"id"`
	Model            string  `json:"model"`
	RequestedModel   string  `json:"requested_model,omitempty"`
	UsedFallback     bool    `json:"used_fallback"`
	Summary          string  `json:"summary"`
	OriginalWords    int     `json:"original_words"`
	SummaryWords     int     `json:"summary_words"`
	CompressionRatio float64 `json:"compression_ratio"`
	DurationMs       int64   `json:"duration_ms"`
	CreatedAt        string  `json:"created_at"`
}

// GetSummaryRequest defines the input schema for get_summary tool
type GetSummaryRequest struct {
	// ID is the unique identifier of the stored summary
	ID string `json:"id"`
}

// GetSummaryResponse defines the output schema for get_summary tool
type GetSummaryResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	Record *SummaryRecord `json:"record,omitempty"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`

	// ErrorCode classifies the error if Status is "error"
	ErrorCode string `json:"error_code,omitempty"`
}

// RecentSummariesRequest defines the input schema for recent_summaries tool
type RecentSummariesRequest struct {
	// Limit is the maximum number of records to return
	// If not specified, DefaultRecentLimit will be used
	Limit int `json:"limit,omitempty"`
}

// RecentSummariesResponse defines the output schema for recent_summaries tool
type RecentSummariesResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	Records []SummaryRecord `json:"records"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`

	// ErrorCode classifies the error if Status is "error"
	ErrorCode string `json:"error_code,omitempty"`
}

// DeleteSummaryRequest defines the input schema for delete_summary tool
type DeleteSummaryRequest struct {
	// ID is the unique identifier of the stored summary to delete
	ID string `json:"id"`
}

// DeleteSummaryResponse defines the output schema for delete_summary tool
type DeleteSummaryResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`

	// ErrorCode classifies the error if Status is "error"
	ErrorCode string `json:"error_code,omitempty"`
}

// ClearHistoryRequest defines the input schema for clear_history tool
type ClearHistoryRequest struct {
	// Confirmation is a required field to confirm the operation
	// Must be set to "confirm" to prevent accidental clearing
	Confirmation string `json:"confirmation"`
}

// ClearHistoryResponse defines the output schema for clear_history tool
type ClearHistoryResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	// Removed is the number of deleted records
	Removed int `json:"removed"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`

	// ErrorCode classifies the error if Status is "error"
	ErrorCode string `json:"error_code,omitempty"`
}

// ServiceHealthRequest defines the input schema for service_health tool
type ServiceHealthRequest struct{}

// ServiceHealthResponse defines the output schema for service_health tool
type ServiceHealthResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	// Health is the service health ("healthy", "degraded" or "unhealthy")
	Health string `json:"health,omitempty"`

	// Report is the full health report as JSON
	Report string `json:"report,omitempty"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`
}
