// Package mcp implements a stdio MCP server that exposes stored sessions and
// question asking to AI agents.
package mcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/minesight/analyst/analytics"
	"github.com/minesight/analyst/chat"
	"github.com/minesight/analyst/metrics"
	"github.com/minesight/analyst/session"
)

const serverName = "analyst"

// Backend is the analytics service the tools talk to.
type Backend interface {
	chat.QueryService
	HealthCheck(ctx context.Context) (*analytics.Health, error)
	SystemStatus(ctx context.Context) (*analytics.SystemStatus, error)
}

type Server struct {
	sessions session.Store
	backend  Backend
	metrics  *metrics.Metrics
	language string
	mcp      *server.MCPServer
}

type Option func(*Server)

// WithLanguage sets the language questions are asked in when the caller
// names none.
func WithLanguage(lang string) Option { return func(s *Server) { s.language = lang } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

func NewServer(sessions session.Store, backend Backend, version string, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		backend:  backend,
		language: "en",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(serverName, version, server.WithToolCapabilities(false))
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List stored chat sessions, most recently updated first. Messages are omitted."),
	), s.handleListSessions)

	s.mcp.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Get one chat session with its full message history."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), s.handleGetSession)

	s.mcp.AddTool(mcp.NewTool("rename_session",
		mcp.WithDescription("Change the title of a chat session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
	), s.handleRenameSession)

	s.mcp.AddTool(mcp.NewTool("delete_session",
		mcp.WithDescription("Delete a chat session. Deleting an unknown session succeeds."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), s.handleDeleteSession)

	s.mcp.AddTool(mcp.NewTool("ask_question",
		mcp.WithDescription("Ask the mining operations analytics service a question. The exchange is saved as a chat session; pass session_id to continue an existing one."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question to ask")),
		mcp.WithString("session_id", mcp.Description("Session to continue")),
		mcp.WithString("language", mcp.Description("Answer language code, e.g. en, es, fr, hi")),
	), s.handleAskQuestion)

	s.mcp.AddTool(mcp.NewTool("service_status",
		mcp.WithDescription("Report whether the analytics service and its dependencies are up."),
	), s.handleServiceStatus)
}

// Run serves MCP over the given streams until ctx is done or in is closed.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	slog.Info("mcp server started")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}
