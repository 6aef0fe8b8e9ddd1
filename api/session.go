// Package api serves stored chat sessions over plain HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/minesight/analyst/logger"
	"github.com/minesight/analyst/session"
)

type SessionHandler struct {
	store session.Store
}

func NewSessionHandler(store session.Store) *SessionHandler {
	return &SessionHandler{store: store}
}

func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.HandleList)
	mux.HandleFunc("POST /api/sessions", h.HandleCreate)
	mux.HandleFunc("GET /api/sessions/{id}", h.HandleGet)
	mux.HandleFunc("PATCH /api/sessions/{id}", h.HandleRename)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.HandleDelete)
}

func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.List()
	if err != nil {
		logger.NewRequestLogger().Error("failed to list sessions", "error", err)
		http.Error(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	metas := make([]session.Session, len(sessions))
	for i, s := range sessions {
		metas[i] = s.Meta()
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": metas})
}

type createRequest struct {
	Title    string `json:"title"`
	Language string `json:"language"`
}

func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	sess, err := h.store.Create(req.Title, req.Language)
	if err != nil {
		logger.NewRequestLogger().Error("failed to create session", "error", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, sess.Meta())
}

// HandleGet returns a session with its full message history.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sess, found, err := h.store.Load(r.PathValue("id"))
	if err != nil {
		logger.NewRequestLogger().Error("failed to load session", "error", err)
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if sess.Messages == nil {
		sess.Messages = []session.Message{}
	}

	writeJSON(w, http.StatusOK, sess)
}

type renameRequest struct {
	Title string `json:"title"`
}

func (h *SessionHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		http.Error(w, "Title required", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	if err := h.store.Rename(id, req.Title); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		logger.NewRequestLogger().Error("failed to rename session", "sessionId", id, "error", err)
		http.Error(w, "Failed to rename session", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Remove(id); err != nil {
		logger.NewRequestLogger().Error("failed to delete session", "sessionId", id, "error", err)
		http.Error(w, "Failed to delete session", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
