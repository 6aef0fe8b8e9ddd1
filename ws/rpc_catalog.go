package ws

import (
	"context"

	"github.com/minesight/analyst/analytics"
	"github.com/minesight/analyst/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

func (h *rpcMethodHandler) handleLanguagesList(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	langs := analytics.LanguagesOrDefault(ctx, h.deps.Backend)
	result := rpc.LanguagesListResult{
		Languages: langs,
		Codes:     analytics.LanguageCodes(langs),
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send languages list response", "error", err)
	}
}

func (h *rpcMethodHandler) handleQuickActionsList(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	actions, err := h.deps.Backend.QuickActions(ctx)
	if err != nil {
		h.log.Warn("failed to fetch quick actions", "error", err)
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to fetch quick actions")
		return
	}
	if actions == nil {
		actions = []analytics.QuickAction{}
	}

	if err := conn.Reply(ctx, req.ID, rpc.QuickActionsListResult{QuickActions: actions}); err != nil {
		h.log.Error("failed to send quick actions response", "error", err)
	}
}
