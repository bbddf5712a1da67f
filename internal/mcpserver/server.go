// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Sift research tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/researchservice"
)

const answerFormatURI = "sift://answer-format"

// Server wraps the MCP server with Sift tools.
type Server struct {
	mcp *server.MCPServer
	svc *researchservice.Service
}

// New creates a new MCP server with all Sift tools registered.
func New(svc *researchservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Sift",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("start_research",
		mcp.WithDescription("Start a web research job for a question. Returns the job id; "+
			"poll get_progress until the status is done or error, then call get_research."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The research question (max 500 characters)")),
		mcp.WithNumber("top_k", mcp.Description("Number of sources to use, 1-20 (default 6)")),
	), s.startResearch)

	s.mcp.AddTool(mcp.NewTool("get_research",
		mcp.WithDescription("Get a research job with its cited markdown answer. "+
			"The answer follows the format served by the "+answerFormatURI+" resource."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job id returned by start_research")),
	), s.getResearch)

	s.mcp.AddTool(mcp.NewTool("get_progress",
		mcp.WithDescription("Get the status and stage counters of a research job."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job id returned by start_research")),
	), s.getProgress)

	s.mcp.AddTool(mcp.NewTool("search_sources",
		mcp.WithDescription("Search the fetched source passages of a research job."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job id returned by start_research")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithNumber("k", mcp.Description("Max results (default 6)")),
		mcp.WithString("mode", mcp.Description("vector (default) or text"), mcp.Enum("vector", "text")),
	), s.searchSources)

	s.mcp.AddTool(mcp.NewTool("get_answer_contract",
		mcp.WithDescription("Returns the format of research answers and their citation markers."),
	), s.getAnswerContract)

	s.mcp.AddResource(
		mcp.NewResource(answerFormatURI, "Answer Format Contract",
			mcp.WithResourceDescription("Markdown and citation format of research answers."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readAnswerFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// toolError turns a service error into a tool-level error result.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("job not found")
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcpserver: encode result: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) startResearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, err := s.svc.CreateJob(ctx, researchservice.CreateJobInput{
		Query: query,
		TopK:  req.GetInt("top_k", 0),
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(job)
}

func (s *Server) getResearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.GetJob(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(detail)
}

func (s *Server) getProgress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.svc.Progress(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(p)
}

func (s *Server) searchSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode := researchservice.SearchMode(req.GetString("mode", string(researchservice.SearchVector)))
	hits, err := s.svc.Search(ctx, id, query, req.GetInt("k", 0), mode)
	if err != nil {
		return toolError(err), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText("no matching passages"), nil
	}
	return jsonResult(hits)
}

func (s *Server) getAnswerContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(AnswerFormatContract), nil
}

func (s *Server) readAnswerFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      answerFormatURI,
			MIMEType: "text/markdown",
			Text:     AnswerFormatContract,
		},
	}, nil
}
