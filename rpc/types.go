// Package rpc defines JSON-RPC 2.0 wire format types for WebSocket communication.
// These types represent the params and result structures for all RPC methods.
package rpc

import (
	"github.com/minesight/analyst/analytics"
	"github.com/minesight/analyst/session"
	"github.com/minesight/analyst/settings"
)

// Client → Server

type AuthParams struct {
	Token string `json:"token"`
}

type AuthResult struct {
	Version  string `json:"version"`
	Title    string `json:"title"`
	Language string `json:"language"`
}

// Conversation

type ChatSubmitParams struct {
	Query string `json:"query"`
}

type ChatSuggestParams struct {
	Question string `json:"question"`
}

// ChatUploadParams carries the file content base64-encoded.
type ChatUploadParams struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type ChatUploadResult struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind"`
	Error   string `json:"error,omitempty"`
}

type ChatStateResult struct {
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Language  string `json:"language"`
	Audio     bool   `json:"audio"`
}

type ChatMessagesSubscribeResult struct {
	ID       string            `json:"id"`
	Messages []session.Message `json:"messages"`
}

type ChatMessagesUnsubscribeParams struct {
	ID string `json:"id"`
}

type ChatSetLanguageParams struct {
	Language string `json:"language"`
}

type ChatSetAudioParams struct {
	Audio bool `json:"audio"`
}

// Session management

type SessionLoadParams struct {
	SessionID string `json:"session_id"`
}

type SessionDeleteParams struct {
	SessionID string `json:"session_id"`
}

type SessionRenameParams struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
}

// SessionListItem is a session without its messages.
type SessionListItem struct {
	session.Session
	Current bool `json:"current,omitempty"`
}

type SessionListSubscribeResult struct {
	ID       string            `json:"id"`
	Sessions []SessionListItem `json:"sessions"`
}

type SessionListUnsubscribeParams struct {
	ID string `json:"id"`
}

// Settings

type SettingsSubscribeResult struct {
	ID       string            `json:"id"`
	Settings settings.Settings `json:"settings"`
}

type SettingsUnsubscribeParams struct {
	ID string `json:"id"`
}

type SettingsUpdateParams struct {
	Settings settings.Settings `json:"settings"`
}

// Backend passthrough

type LanguagesListResult struct {
	Languages map[string]string `json:"languages"`
	Codes     []string          `json:"codes"`
}

type QuickActionsListResult struct {
	QuickActions []analytics.QuickAction `json:"quick_actions"`
}
