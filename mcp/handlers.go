package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/minesight/analyst/chat"
	"github.com/minesight/analyst/session"
)

func (s *Server) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.sessions.List()
	if err != nil {
		return InternalError(err), nil
	}
	metas := make([]session.Session, len(sessions))
	for i, sess := range sessions {
		metas[i] = sess.Meta()
	}
	return jsonResult(metas)
}

func (s *Server) handleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return ValidationError("session_id is required"), nil
	}

	sess, found, err := s.sessions.Load(id)
	if err != nil {
		return InternalError(err), nil
	}
	if !found {
		return NotFound("session", id), nil
	}
	return jsonResult(sess)
}

func (s *Server) handleRenameSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return ValidationError("session_id is required"), nil
	}
	title, err := req.RequireString("title")
	if err != nil || strings.TrimSpace(title) == "" {
		return ValidationError("title is required"), nil
	}

	if err := s.sessions.Rename(id, title); errors.Is(err, session.ErrSessionNotFound) {
		return NotFound("session", id), nil
	} else if err != nil {
		return InternalError(err), nil
	}
	return mcp.NewToolResultText(`{"success":true}`), nil
}

func (s *Server) handleDeleteSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return ValidationError("session_id is required"), nil
	}

	if err := s.sessions.Remove(id); err != nil {
		return InternalError(err), nil
	}
	return mcp.NewToolResultText(`{"success":true}`), nil
}

type answer struct {
	SessionID       string                  `json:"session_id"`
	Answer          string                  `json:"answer"`
	Type            string                  `json:"type,omitempty"`
	Visualizations  *session.Visualizations `json:"visualizations,omitempty"`
	Recommendations []string                `json:"recommendations,omitempty"`
	Sources         []map[string]any        `json:"sources,omitempty"`
}

func (s *Server) handleAskQuestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return ValidationError("question is required"), nil
	}

	c := chat.NewController(s.sessions, s.backend,
		chat.WithLanguage(s.language),
		chat.WithMetrics(s.metrics),
	)

	if id := req.GetString("session_id", ""); id != "" {
		if err := c.LoadSession(id); errors.Is(err, session.ErrSessionNotFound) {
			return NotFound("session", id), nil
		} else if err != nil {
			return InternalError(err), nil
		}
	}
	if lang := req.GetString("language", ""); lang != "" {
		c.SetLanguage(lang)
	}

	if err := c.Submit(ctx, question); err != nil {
		if errors.Is(err, chat.ErrBlankQuery) {
			return ValidationError("question is required"), nil
		}
		return InternalError(err), nil
	}

	msgs := c.Messages()
	last := msgs[len(msgs)-1]
	if last.Synthetic {
		return Unavailable(errors.New("analytics service is unreachable")), nil
	}

	return jsonResult(answer{
		SessionID:       c.CurrentSessionID(),
		Answer:          last.Content,
		Type:            last.Type,
		Visualizations:  last.Visualizations,
		Recommendations: last.Recommendations,
		Sources:         last.Sources,
	})
}

func (s *Server) handleServiceStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	health, err := s.backend.HealthCheck(ctx)
	if err != nil {
		return Unavailable(fmt.Errorf("health check: %w", err)), nil
	}
	status, err := s.backend.SystemStatus(ctx)
	if err != nil {
		return Unavailable(fmt.Errorf("system status: %w", err)), nil
	}

	return jsonResult(map[string]any{
		"status":           health.Status,
		"rag_engine_ready": health.RAGEngineReady,
		"services":         status,
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}
