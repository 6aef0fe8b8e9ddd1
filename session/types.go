package session

import (
	"errors"
	"time"

	"github.com/minesight/analyst/chart"
)

var ErrSessionNotFound = errors.New("session not found")

// DefaultTitle is used when a session is created with a blank title.
const DefaultTitle = "New chat"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation. It is never mutated once appended.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Type is the backend response type (greeting, info, ai_response, error).
	Type            string           `json:"type,omitempty"`
	Visualizations  *Visualizations  `json:"visualizations,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
	Sources         []map[string]any `json:"sources,omitempty"`
	Audio           *Audio           `json:"audio,omitempty"`
	// Synthetic marks locally generated placeholder data shown while the
	// backend is unreachable.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Visualizations is the structured analytics payload attached to an answer.
type Visualizations struct {
	KPIs   map[string]any             `json:"kpis,omitempty"`
	Charts map[string][]*chart.Record `json:"charts,omitempty"`
	Tables *Tables                    `json:"tables,omitempty"`
}

func (v *Visualizations) HasCharts() bool {
	return v != nil && len(v.Charts) > 0
}

// Tables carries a textual digest of the rows behind an answer.
type Tables struct {
	Summary string `json:"summary,omitempty"`
	Preview string `json:"preview,omitempty"`
}

// Audio is a synthesized speech payload.
type Audio struct {
	Success     bool   `json:"success"`
	AudioBase64 string `json:"audio_base64,omitempty"`
	Language    string `json:"language,omitempty"`
	Format      string `json:"format,omitempty"`
}

// Playable reports whether the payload carries audio data.
func (a *Audio) Playable() bool {
	return a != nil && a.Success && a.AudioBase64 != ""
}

// Session is one persisted conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Language  string    `json:"language"`
	Messages  []Message `json:"messages,omitempty"`
}

// Meta returns a copy of s without its messages.
func (s Session) Meta() Session {
	s.Messages = nil
	return s
}

// Operation represents the type of change to the session list.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	// OperationReload means the collection was changed by another process;
	// listeners should re-read the whole list.
	OperationReload Operation = "reload"
)

// SessionChangeEvent represents a change to the session list.
// For create/update: Session carries metadata only (no messages).
// For delete: only Session.ID is valid.
// For reload: Session is empty.
type SessionChangeEvent struct {
	Op      Operation
	Session Session
}

// OnChangeListener receives notifications when the session list changes.
type OnChangeListener interface {
	OnSessionChange(event SessionChangeEvent)
}
