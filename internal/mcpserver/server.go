// Package mcpserver exposes the Analysis Engine and Investigation
// Pipeline as MCP tools, superseding the teacher's internal/server
// (which registered several hundred IBM Cloud Logs tools against a
// single vendor API client).
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/kestrelsec/intelgraph/internal/audit"
	"github.com/kestrelsec/intelgraph/internal/config"
	"github.com/kestrelsec/intelgraph/internal/domain"
	"github.com/kestrelsec/intelgraph/internal/engine"
	"github.com/kestrelsec/intelgraph/internal/health"
	"github.com/kestrelsec/intelgraph/internal/pipeline"
)

// Server wraps an MCP server exposing "analyze" and "investigate"
// tools backed by the Analysis Engine and Investigation Pipeline.
type Server struct {
	mcpServer    *mcp.Server
	engine       *engine.Engine
	pipeline     *pipeline.Pipeline
	cfg          *config.Config
	logger       *zap.Logger
	version      string
	healthServer *health.Server
	audit        *audit.Logger
}

// New builds a Server. eng and pl must already be wired with their
// strategies/capabilities.
func New(cfg *config.Config, eng *engine.Engine, pl *pipeline.Pipeline, checker *health.Checker, logger *zap.Logger, version string) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "Investigative Intelligence Engine",
		Version: version,
	}, &mcp.ServerOptions{
		HasTools: true,
	})

	s := &Server{
		mcpServer: mcpServer,
		engine:    eng,
		pipeline:  pl,
		cfg:       cfg,
		logger:    logger,
		version:   version,
		audit:     audit.NewLogger(logger, cfg.EnableAuditLog),
	}

	if cfg.HealthPort > 0 {
		s.healthServer = health.NewServer(checker, logger, cfg.HealthPort, "127.0.0.1", true)
	}

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(&mcp.Tool{
		Name:        "analyze",
		Description: "Run a single Analysis Strategy (entity_extraction, relationship_mapping, community_detection, anomaly_detection, path_finding, centrality_analysis) against the graph.",
		InputSchema: analyzeSchema(),
	}, s.handleAnalyze)

	s.mcpServer.AddTool(&mcp.Tool{
		Name:        "investigate",
		Description: "Run a multi-phase investigation: a DAG of analysis phases with optional adaptive follow-up.",
		InputSchema: investigateSchema(),
	}, s.handleInvestigate)

	s.logger.Info("Registered MCP tools", zap.Int("count", 2))
}

func analyzeSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"kind"},
		Properties: map[string]*jsonschema.Schema{
			"kind":       {Type: "string", Description: "Analysis strategy kind"},
			"parameters": {Type: "object", Description: "Strategy-specific parameters"},
			"context":    {Type: "object", Description: "Seed context for the request"},
		},
	}
}

func investigateSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"context":    {Type: "object", Description: "Seed context for the investigation"},
			"objectives": {Type: "array", Items: &jsonschema.Schema{Type: "string"}, Description: "Investigative objectives"},
		},
	}
}

type analyzeArgs struct {
	Kind       string         `json:"kind"`
	Parameters map[string]any `json:"parameters"`
	Context    map[string]any `json:"context"`
}

func (s *Server) handleAnalyze(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()

	var args analyzeArgs
	if len(request.Params.Arguments) > 0 {
		if err := json.Unmarshal(request.Params.Arguments, &args); err != nil {
			return errorResult(fmt.Sprintf("failed to unmarshal arguments: %v", err)), nil
		}
	}

	result, err := s.engine.Analyze(ctx, domain.AnalysisRequest{
		Kind:       domain.Kind(args.Kind),
		Parameters: args.Parameters,
		Context:    args.Context,
	})
	duration := time.Since(start)
	s.logger.Debug("analyze tool executed", zap.String("kind", args.Kind), zap.Duration("duration", duration), zap.Error(err))
	if err != nil {
		s.audit.LogAnalysis(ctx, args.Kind, false, duration, err.Error())
		return errorResult(err.Error()), nil
	}
	errMsg := ""
	if !result.Success && len(result.Errors) > 0 {
		errMsg = result.Errors[0]
	}
	s.audit.LogAnalysis(ctx, args.Kind, result.Success, duration, errMsg)

	return jsonResult(result)
}

type investigateArgs struct {
	Context    map[string]any `json:"context"`
	Objectives []string       `json:"objectives"`
}

func (s *Server) handleInvestigate(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()

	var args investigateArgs
	if len(request.Params.Arguments) > 0 {
		if err := json.Unmarshal(request.Params.Arguments, &args); err != nil {
			return errorResult(fmt.Sprintf("failed to unmarshal arguments: %v", err)), nil
		}
	}

	view := s.pipeline.Investigate(ctx, args.Context, args.Objectives, nil)
	duration := time.Since(start)
	s.logger.Debug("investigate tool executed", zap.String("investigation_id", view.InvestigationID), zap.Duration("duration", duration))

	success := view.Status == "completed"
	var errMsg string
	if len(view.Errors) > 0 {
		errMsg = view.Errors[len(view.Errors)-1]
	}
	s.audit.Log(ctx, audit.Entry{
		Operation:       "investigate",
		InvestigationID: view.InvestigationID,
		Success:         success,
		Duration:        duration,
		ErrorMessage:    errMsg,
	})

	return jsonResult(view)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
	}, nil
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
	}
}

// Start serves the MCP server over stdio until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting MCP server")

	if s.healthServer != nil {
		go func() {
			if err := s.healthServer.Start(); err != nil {
				s.logger.Error("Health server error", zap.Error(err))
			}
		}()
		s.healthServer.SetReady(true)
	}

	defer func() {
		if s.healthServer != nil {
			s.healthServer.SetReady(false)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.healthServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("Failed to shutdown health server", zap.Error(err))
			}
		}
	}()

	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
