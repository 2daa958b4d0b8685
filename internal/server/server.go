package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/localrivet/gomcp/server"

	"github.com/localrivet/summaryservice/internal/errortypes"
	"github.com/localrivet/summaryservice/internal/history"
	"github.com/localrivet/summaryservice/internal/summarizer"
	"github.com/localrivet/summaryservice/internal/tools"
	"github.com/localrivet/summaryservice/internal/util"
)

// Common server error types
var (
	ErrServerNotInitialized = errors.New("server not initialized")
	ErrMissingDependencies  = errors.New("one or more required dependencies are nil")
)

// MCPSummaryToolServer implements the ToolServer interface for handling MCP
// tool calls for summarization and summary history.
type MCPSummaryToolServer struct {
	service SummaryService
	store   history.Store // nil when history is disabled
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mcpServer server.Server
}

// NewSummaryToolServer creates a new MCPSummaryToolServer instance. store may
// be nil to disable the history tools.
func NewSummaryToolServer(service SummaryService, store history.Store, logger *slog.Logger) *MCPSummaryToolServer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MCPSummaryToolServer{
		service: service,
		store:   store,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Initialize initializes the server with dependencies and configurations.
func (s *MCPSummaryToolServer) Initialize() error {
	s.logger.Info("Initializing MCP Summary Tool Server")

	if s.service == nil {
		return errortypes.ConfigError(ErrMissingDependencies, "server initialization failed")
	}

	srv := server.NewServer("summaryservice")

	srv = srv.Tool(tools.ToolSummarize, "Summarize text with a pretrained sequence-to-sequence model",
		s.handleSummarize)

	srv = srv.Tool(tools.ToolListModels, "List the available summarization models",
		s.handleListModels)

	srv = srv.Tool(tools.ToolGetSummary, "Get a stored summary by ID",
		s.handleGetSummary)

	srv = srv.Tool(tools.ToolRecentSummaries, "List the most recent stored summaries",
		s.handleRecentSummaries)

	srv = srv.Tool(tools.ToolDeleteSummary, "Delete a stored summary by ID",
		s.handleDeleteSummary)

	srv = srv.Tool(tools.ToolClearHistory, "Delete every stored summary",
		s.handleClearHistory)

	srv = srv.Tool(tools.ToolServiceHealth, "Report model cache and generation health",
		s.handleServiceHealth)

	s.mcpServer = srv
	s.logger.Info("MCP Summary Tool Server initialized successfully",
		"tool_count", 7, "history_enabled", s.store != nil)
	return nil
}

// Start starts the MCP server on the stdio transport. It blocks until the
// client disconnects.
func (s *MCPSummaryToolServer) Start() error {
	if s.mcpServer == nil {
		return errortypes.ConfigError(ErrServerNotInitialized, "cannot start server")
	}

	s.logger.Info("Starting MCP Summary Tool Server")

	stdioServer := s.mcpServer.AsStdio()
	return stdioServer.Run()
}

// Stop cancels in-flight summarizations. The server itself exits when stdin
// is closed.
func (s *MCPSummaryToolServer) Stop() error {
	s.logger.Info("Stopping MCP Summary Tool Server")
	s.cancel()
	return nil
}

// fail logs err and returns its message and code for a tool response.
func (s *MCPSummaryToolServer) fail(err error) (string, string) {
	errortypes.LogError(s.logger, err)
	return err.Error(), ErrorCode(err)
}

// handleSummarize handles the summarize MCP tool call.
func (s *MCPSummaryToolServer) handleSummarize(ctx *server.Context, req tools.SummarizeRequest) (tools.SummarizeResponse, error) {
	s.logger.Info("Processing summarize request", "text_length", len(req.Text), "model", req.Model)

	response := tools.SummarizeResponse{
		Status: tools.StatusSuccess,
	}

	result, err := s.service.Summarize(s.ctx, req.Text, req.Model)
	if err != nil {
		response.Status = tools.StatusError
		response.Summary = summarizer.Diagnostic(err)
		response.Error, response.ErrorCode = s.fail(err)
		return response, nil
	}

	response.Summary = result.Summary
	response.OriginalWords = result.OriginalWords
	response.SummaryWords = result.SummaryWords
	response.CompressionRatio = result.CompressionRatio
	response.DurationMs = result.Duration.Milliseconds()

	if result.Empty {
		s.logger.Debug("Empty summarize request")
		return response, nil
	}

	response.Model = result.Model.Identifier
	response.RequestedModel = result.Model.Requested
	response.UsedFallback = result.Model.UsedFallback
	response.FallbackReason = result.Model.Reason
	response.Device = string(result.Device)
	response.InputTokens = result.InputTokens
	response.OutputTokens = result.OutputTokens
	response.Truncated = result.Truncated

	if s.store != nil {
		rec := &history.Record{
			Fingerprint:      util.Fingerprint(result.Model.Identifier, result.CleanedText),
			Model:            result.Model.Identifier,
			RequestedModel:   result.Model.Requested,
			UsedFallback:     result.Model.UsedFallback,
			Summary:          result.Summary,
			OriginalWords:    result.OriginalWords,
			SummaryWords:     result.SummaryWords,
			CompressionRatio: result.CompressionRatio,
			DurationMs:       result.Duration.Milliseconds(),
		}
		if err := s.store.Save(rec); err != nil {
			// The summary itself succeeded; only the history write is lost.
			errortypes.LogError(s.logger, errortypes.DatabaseError(err, "failed to store summary").
				WithField("model", rec.Model))
		} else {
			response.ID = rec.ID
		}
	}

	s.logger.Info("Successfully summarized text",
		"id", response.ID,
		"model", response.Model,
		"fallback", response.UsedFallback,
		"compression_ratio", response.CompressionRatio)

	return response, nil
}

// handleListModels handles the list_models MCP tool call.
func (s *MCPSummaryToolServer) handleListModels(ctx *server.Context, req tools.ListModelsRequest) (tools.ListModelsResponse, error) {
	s.logger.Info("Processing list_models request")

	loaded := s.service.LoadedModels()
	defaultID := s.service.DefaultModel()

	descriptors := s.service.Models()
	models := make([]tools.ModelInfo, 0, len(descriptors))
	for _, d := range descriptors {
		models = append(models, tools.ModelInfo{
			ID:                d.ID,
			Name:              d.Name,
			Description:       d.Description,
			Default:           d.ID == defaultID,
			Loaded:            slices.Contains(loaded, d.ID),
			MaxLength:         d.Generation.MaxLength,
			MinLength:         d.Generation.MinLength,
			NumBeams:          d.Generation.NumBeams,
			NoRepeatNgramSize: d.Generation.NoRepeatNgramSize,
			EarlyStopping:     d.Generation.EarlyStopping,
		})
	}

	return tools.ListModelsResponse{
		Status: tools.StatusSuccess,
		Models: models,
	}, nil
}

// handleGetSummary handles the get_summary MCP tool call.
func (s *MCPSummaryToolServer) handleGetSummary(ctx *server.Context, req tools.GetSummaryRequest) (tools.GetSummaryResponse, error) {
	s.logger.Info("Processing get_summary request", "id", req.ID)

	response := tools.GetSummaryResponse{
		Status: tools.StatusSuccess,
	}

	if err := s.requireHistory(); err != nil {
		response.Status = tools.StatusError
		response.Error, response.ErrorCode = err.Error(), ErrorCode(err)
		return response, nil
	}
	if req.ID == "" {
		err := errortypes.ValidationError(errors.New("id cannot be empty"), "invalid get_summary request")
		response.Status = tools.StatusError
		response.Error, response.ErrorCode = s.fail(err)
		return response, nil
	}

	rec, err := s.store.Get(req.ID)
	if err != nil {
		if !errors.Is(err, history.ErrNotFound) {
			err = errortypes.DatabaseError(err, "failed to get summary").WithField("summary_id", req.ID)
		}
		response.Status = tools.StatusError
		response.Error, response.ErrorCode = s.fail(err)
		return response, nil
	}

	out := toSummaryRecord(*rec)
	response.Record = &out
	return response, nil
}

// handleRecentSummaries handles the recent_summaries MCP tool call.
func (s *MCPSummaryToolServer) handleRecentSummaries(ctx *server.Context, req tools.RecentSummariesRequest) (tools.RecentSummariesResponse, error) {
	s.logger.Info("Processing recent_summaries request", "limit", req.Limit)

	response := tools.RecentSummariesResponse{
		Status:  tools.StatusSuccess,
		Records: []tools.SummaryRecord{},
	}

	if err := s.requireHistory(); err != nil {
		response.Status = tools.StatusError
		response.Error, response.ErrorCode = err.Error(), ErrorCode(err)
		return response, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = tools.DefaultRecentLimit
		s.logger.Debug("Using default limit for recent_summaries", "limit", limit)
	}

	records, err := s.store.Recent(limit)
	if err != nil {
		err = errortypes.DatabaseError(err, "failed to list summaries").WithField("limit", limit)
		response.Status = tools.StatusError
		response.Error, response.ErrorCode = s.fail(err)
		return response, nil
	}

	for _, rec := range records {
		response.Records = append(response.Records, toSummaryRecord(rec))
	}
	s.logger.Info("Successfully listed summaries", "count", len(response.Records))
	return response, nil
}

// handleDeleteSummary handles the delete_summary MCP tool call.
func (s *MCPSummaryToolServer) handleDeleteSummary(ctx *server.Context, req tools.DeleteSummaryRequest) (tools.DeleteSummaryResponse, error) {
	s.logger.Info("Processing delete_summary request", "id", req.ID)

	response := tools.DeleteSummaryResponse{
		Status: tools.StatusSuccess,
	}

	if err := s.requireHistory(); err != nil {
		response.Status = tools.StatusError
		response.Error, response.ErrorCode = err.Error(), ErrorCode(err)
		return response, nil
	}

	deleted, err := s.store.Delete(req.ID)
	if err != nil {
		err = errortypes.DatabaseError(err, "failed to delete summary").WithField("summary_id", req.ID)
		response.Status = tools.StatusError
		response.Error, response.ErrorCode = s.fail(err)
		return response, nil
	}
	if !deleted {
		err := fmt.Errorf("summary %q: %w", req.ID, history.ErrNotFound)
		response.Status = tools.StatusError
		response.Error, response.ErrorCode = err.Error(), ErrorCode(err)
		return response, nil
	}

	s.logger.Info("Successfully deleted summary", "id", req.ID)
	return response, nil
}

// handleClearHistory handles the clear_history MCP tool call.
func (s *MCPSummaryToolServer) handleClearHistory(ctx *server.Context, req tools.ClearHistoryRequest) (tools.ClearHistoryResponse, error) {
	s.logger.Info("Processing clear_history request")

	response := tools.ClearHistoryResponse{
		Status: tools.StatusSuccess,
	}

	if req.Confirmation != tools.ClearConfirmation {
		response.Status = tools.StatusError
		response.Error = "Confirmation required. Set confirmation to 'confirm' to proceed with clearing all summaries"
		response.ErrorCode = ErrorCodeValidationError
		s.logger.Warn("Clear history operation rejected: missing confirmation")
		return response, nil
	}

	if err := s.requireHistory(); err != nil {
		response.Status = tools.StatusError
		response.Error, response.ErrorCode = err.Error(), ErrorCode(err)
		return response, nil
	}

	count, err := s.store.Clear()
	if err != nil {
		err = errortypes.DatabaseError(err, "failed to clear summary history")
		response.Status = tools.StatusError
		response.Error, response.ErrorCode = s.fail(err)
		return response, nil
	}

	s.logger.Info("Successfully cleared summary history", "count", count)
	response.Removed = count
	return response, nil
}

// handleServiceHealth handles the service_health MCP tool call.
func (s *MCPSummaryToolServer) handleServiceHealth(ctx *server.Context, req tools.ServiceHealthRequest) (tools.ServiceHealthResponse, error) {
	s.logger.Info("Processing service_health request")

	response := tools.ServiceHealthResponse{
		Status: tools.StatusSuccess,
	}

	report, err := s.service.Health()
	if err == nil {
		var data []byte
		data, err = json.MarshalIndent(report, "", "  ")
		if err == nil {
			response.Health = string(report.Status)
			response.Report = string(data)
			return response, nil
		}
	}

	response.Status = tools.StatusError
	response.Error, _ = s.fail(errortypes.InternalError(err, "failed to build health report"))
	return response, nil
}

func (s *MCPSummaryToolServer) requireHistory() error {
	if s.store == nil {
		return ErrHistoryDisabled
	}
	return nil
}

func toSummaryRecord(rec history.Record) tools.SummaryRecord {
	return tools.SummaryRecord{
		ID:               rec.ID,
		Model:            rec.Model,
		RequestedModel:   rec.RequestedModel,
		UsedFallback:     rec.UsedFallback,
		Summary:          rec.Summary,
		OriginalWords:    rec.OriginalWords,
		SummaryWords:     rec.SummaryWords,
		CompressionRatio: rec.CompressionRatio,
		DurationMs:       rec.DurationMs,
		CreatedAt:        rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}
