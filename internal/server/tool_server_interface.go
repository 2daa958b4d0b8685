// Package server provides the MCP server implementation for the summary service.
package server

import (
	"github.com/localrivet/summaryservice/internal/summarizer"
)

// ToolServer defines the interface for the MCP server that handles
// summarization tool calls from MCP clients.
type ToolServer interface {
	// Initialize initializes the server with dependencies and configurations.
	Initialize() error

	// Start starts the MCP server on the specified transport.
	Start() error

	// Stop gracefully shuts down the MCP server.
	Stop() error
}

// SummaryService is what the tool server needs from the summarization
// pipeline.
type SummaryService interface {
	summarizer.Summarizer

	// DefaultModel returns the identifier used when none is requested.
	DefaultModel() string

	// LoadedModels returns the identifiers currently held in memory.
	LoadedModels() []string

	// Health reports the current service health.
	Health() (*summarizer.HealthReport, error)
}
