package ws

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"

	"github.com/minesight/analyst/chat"
	"github.com/minesight/analyst/event"
	"github.com/minesight/analyst/logger"
	"github.com/minesight/analyst/rpc"
	"github.com/minesight/analyst/settings"
	"github.com/sourcegraph/jsonrpc2"
)

const (
	// queryLogMaxLen limits question length in logs for privacy.
	queryLogMaxLen = 50
)

func (h *rpcMethodHandler) handleChatSubmit(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, conv *conversation) {
	var params rpc.ChatSubmitParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	h.log.Info("question submitted", "query", logger.Truncate(params.Query, queryLogMaxLen))

	if err := conv.controller.Submit(ctx, params.Query); err != nil {
		switch {
		case errors.Is(err, chat.ErrBlankQuery):
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "query required")
		case errors.Is(err, chat.ErrAwaiting):
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "a query is already in flight")
		default:
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to submit query")
		}
		return
	}

	h.replyChatState(ctx, conn, req, conv)
}

func (h *rpcMethodHandler) handleChatSuggest(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, conv *conversation) {
	var params rpc.ChatSuggestParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	ev, err := event.New(event.TopicSuggest, event.SuggestPayload{Question: params.Question})
	if err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to build event")
		return
	}
	conv.bus.Publish(ev)

	h.replyChatState(ctx, conn, req, conv)
}

func (h *rpcMethodHandler) handleChatUpload(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, conv *conversation) {
	var params rpc.ChatUploadParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}
	if params.Filename == "" {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "filename required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(params.Content)
	if err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "content must be base64")
		return
	}

	result := rpc.ChatUploadResult{Success: true, Kind: chat.InferKind(params.Filename)}
	if err := conv.controller.UploadFile(ctx, params.Filename, bytes.NewReader(data)); err != nil {
		result.Success = false
		result.Error = err.Error()
	}

	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send chat upload response", "error", err)
	}
}

func (h *rpcMethodHandler) handleChatNew(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, conv *conversation) {
	conv.controller.NewConversation()
	h.replyChatState(ctx, conn, req, conv)
}

func (h *rpcMethodHandler) handleChatState(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, conv *conversation) {
	h.replyChatState(ctx, conn, req, conv)
}

func (h *rpcMethodHandler) handleChatSetLanguage(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, conv *conversation) {
	var params rpc.ChatSetLanguageParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}
	if err := (settings.Settings{Language: params.Language}).Validate(); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, err.Error())
		return
	}

	conv.controller.SetLanguage(params.Language)
	h.replyChatState(ctx, conn, req, conv)
}

func (h *rpcMethodHandler) handleChatSetAudio(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, conv *conversation) {
	var params rpc.ChatSetAudioParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	conv.controller.SetAudio(params.Audio)
	h.replyChatState(ctx, conn, req, conv)
}

func (h *rpcMethodHandler) handleChatMessagesSubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, conv *conversation) {
	id := conv.messages.Subscribe(h.state.getNotifier())
	h.state.trackSubscription(id, conv.messages)
	h.log.Debug("subscribed to chat messages", "watchId", id)

	result := rpc.ChatMessagesSubscribeResult{
		ID:       id,
		Messages: conv.controller.Messages(),
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send chat messages subscribe response", "error", err)
	}
}

func (h *rpcMethodHandler) replyChatState(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, conv *conversation) {
	c := conv.controller
	result := rpc.ChatStateResult{
		State:     string(c.State()),
		SessionID: c.CurrentSessionID(),
		Language:  c.Language(),
		Audio:     c.AudioEnabled(),
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send chat state response", "method", req.Method, "error", err)
	}
}
