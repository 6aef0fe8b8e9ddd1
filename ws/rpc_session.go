package ws

import (
	"context"
	"errors"
	"strings"

	"github.com/minesight/analyst/rpc"
	"github.com/minesight/analyst/session"
	"github.com/sourcegraph/jsonrpc2"
)

func (h *rpcMethodHandler) handleSessionLoad(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, conv *conversation) {
	var params rpc.SessionLoadParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	if err := conv.controller.LoadSession(params.SessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "session not found")
			return
		}
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to load session")
		return
	}

	h.replyChatState(ctx, conn, req, conv)
}

func (h *rpcMethodHandler) handleSessionDelete(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, conv *conversation) {
	var params rpc.SessionDeleteParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	if err := h.deps.Sessions.Remove(params.SessionID); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to delete session")
		return
	}
	if conv.controller.CurrentSessionID() == params.SessionID {
		conv.controller.NewConversation()
	}

	h.log.Info("session deleted", "sessionId", params.SessionID)

	if err := conn.Reply(ctx, req.ID, struct{}{}); err != nil {
		h.log.Error("failed to send session delete response", "error", err)
	}
}

func (h *rpcMethodHandler) handleSessionRename(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.SessionRenameParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	if strings.TrimSpace(params.Title) == "" {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "title required")
		return
	}

	if err := h.deps.Sessions.Rename(params.SessionID, params.Title); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "session not found")
			return
		}
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to rename session")
		return
	}

	h.log.Info("session renamed", "sessionId", params.SessionID)

	if err := conn.Reply(ctx, req.ID, struct{}{}); err != nil {
		h.log.Error("failed to send session rename response", "error", err)
	}
}

func (h *rpcMethodHandler) handleSessionListSubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	id, sessions, err := h.sessionListWatcher.Subscribe(h.state.getNotifier())
	if err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to list sessions")
		return
	}
	h.state.trackSubscription(id, h.sessionListWatcher)
	h.log.Debug("subscribed to session list", "watchId", id)

	if conv := h.state.getConversation(); conv != nil {
		current := conv.controller.CurrentSessionID()
		for i := range sessions {
			sessions[i].Current = current != "" && sessions[i].ID == current
		}
	}

	result := rpc.SessionListSubscribeResult{
		ID:       id,
		Sessions: sessions,
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send session list subscribe response", "error", err)
	}
}
