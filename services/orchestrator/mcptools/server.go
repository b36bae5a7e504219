// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mcptools exposes the query engine as Model Context Protocol tools.
//
// Tools:
//
//	ask_data         question + data_source_id [+ session_id] -> answer JSON
//	list_sources     -> registered data sources
//	describe_source  data_source_id -> schema
//
// The tools are served over SSE under a base path (default "/mcp"):
// GET {base}/sse opens the stream, POST {base}/message carries calls.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/workflow"
)

// DefaultBasePath is where Mount serves the SSE endpoints.
const DefaultBasePath = "/mcp"

// QueryRunner drives one query to a terminal stage.
type QueryRunner interface {
	Run(ctx context.Context, q datatypes.Query) workflow.Snapshot
}

// AskResult is the JSON text returned by ask_data.
type AskResult struct {
	QueryID         string               `json:"query_id"`
	SessionID       string               `json:"session_id"`
	Answer          string               `json:"answer"`
	Confidence      float64              `json:"confidence"`
	Insights        []string             `json:"insights,omitempty"`
	Recommendations []string             `json:"recommendations,omitempty"`
	Sources         []datatypes.PathName `json:"sources"`
	Approach        datatypes.Approach   `json:"approach,omitempty"`
}

// Server holds the MCP server and its collaborators.
//
// Thread Safety: Safe for concurrent use; tool handlers share no state.
type Server struct {
	mcpServer *server.MCPServer
	runner    QueryRunner
	sources   *datasource.Registry
}

// NewServer builds the MCP server and registers every tool.
func NewServer(runner QueryRunner, sources *datasource.Registry, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Aleutian Query",
			version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		runner:  runner,
		sources: sources,
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Mount serves the SSE transport on router under basePath.
func (s *Server) Mount(router gin.IRouter, basePath string) *server.SSEServer {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	basePath = strings.TrimRight(basePath, "/")
	sse := server.NewSSEServer(s.mcpServer, server.WithStaticBasePath(basePath))
	router.GET(basePath+"/sse", gin.WrapH(sse.SSEHandler()))
	router.POST(basePath+"/message", gin.WrapH(sse.MessageHandler()))
	return sse
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"ask_data",
			mcp.WithDescription("Answer a natural-language question about a registered data source"),
			mcp.WithString("question", mcp.Required(), mcp.Description("The question to answer")),
			mcp.WithString("data_source_id", mcp.Required(), mcp.Description("Id of the data source, see list_sources")),
			mcp.WithString("session_id", mcp.Description("Conversation to continue; a new one is started when empty")),
		),
		s.handleAsk,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_sources",
			mcp.WithDescription("List the registered data sources"),
		),
		s.handleListSources,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"describe_source",
			mcp.WithDescription("Return the tables and columns of a data source"),
			mcp.WithString("data_source_id", mcp.Required(), mcp.Description("Id of the data source")),
		),
		s.handleDescribe,
	)
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("Missing required parameter: question"), nil
	}
	sourceID, err := request.RequireString("data_source_id")
	if err != nil || sourceID == "" {
		return mcp.NewToolResultError("Missing required parameter: data_source_id"), nil
	}
	ref, err := s.sources.Ref(sourceID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Unknown data source: %s", sourceID)), nil
	}

	q := datatypes.NewQuery(request.GetString("session_id", ""), question, ref)
	snap := s.runner.Run(ctx, q)
	if snap.Err != nil {
		var synthErr *datatypes.SynthesisError
		if errors.As(snap.Err, &synthErr) {
			return mcp.NewToolResultError(synthErr.Message), nil
		}
		slog.Warn("MCP ask_data failed", "query_id", q.ID, "error", snap.Err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to answer: %v", snap.Err)), nil
	}

	res := AskResult{
		QueryID:         q.ID,
		SessionID:       q.SessionID,
		Answer:          snap.Synthesis.AnswerText,
		Confidence:      snap.Synthesis.Confidence,
		Insights:        snap.Synthesis.Insights,
		Recommendations: snap.Synthesis.Recommendations,
		Sources:         snap.Synthesis.Sources,
	}
	if snap.Plan != nil {
		res.Approach = snap.Plan.Approach
	}
	return jsonResult(res)
}

func (s *Server) handleListSources(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.sources.List())
}

func (s *Server) handleDescribe(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sourceID, err := request.RequireString("data_source_id")
	if err != nil || sourceID == "" {
		return mcp.NewToolResultError("Missing required parameter: data_source_id"), nil
	}
	ref, err := s.sources.Ref(sourceID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Unknown data source: %s", sourceID)), nil
	}
	schema, err := s.sources.Describe(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to describe: %v", err)), nil
	}
	return jsonResult(schema)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
