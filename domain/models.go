package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session represents one conversation: its ordered message history plus
// streaming and usage bookkeeping. Messages are kept in insertion order and
// never reordered.
type Session struct {
	SessionID      string          `json:"session_id"`
	Streaming      bool            `json:"streaming"`
	TokenCount     int             `json:"token_count"`
	Cost           decimal.Decimal `json:"cost"`
	ExecutionID    string          `json:"execution_id,omitempty"`
	ExecutionTitle string          `json:"execution_title,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Messages       []*Message      `json:"messages,omitempty"`
}

// SetExecution records the backend-assigned execution identifier. The first
// write wins; later attempts are no-ops.
func (s *Session) SetExecution(id, title string) {
	if s.ExecutionID != "" || id == "" {
		return
	}
	s.ExecutionID = id
	s.ExecutionTitle = title
}

// Message represents a single message in a session.
type Message struct {
	MessageID string      `json:"message_id"`
	SessionID string      `json:"session_id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Streaming bool        `json:"streaming"`
	Extracted *Extraction `json:"extracted,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Extraction is the structured payload attached to a message after its final
// text has been scanned for an embedded block.
type Extraction struct {
	ArtifactType ArtifactType   `json:"artifact_type,omitempty"`
	Title        string         `json:"title,omitempty"`
	Fields       *FieldMap      `json:"fields,omitempty"`
	Form         *FormArtifact  `json:"form,omitempty"`
	Error        *ErrorArtifact `json:"error,omitempty"`
	Before       string         `json:"before,omitempty"`
	After        string         `json:"after,omitempty"`
}

// Attachment is an opaque descriptor for a file attached to an outgoing
// message. The runtime embeds it in the stream request without interpreting
// it.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
}

// StreamRequest is the request body sent when opening a stream: the full
// prior message history plus free-form context.
type StreamRequest struct {
	Messages    []RequestMessage  `json:"messages"`
	TaskID      string            `json:"task_id,omitempty"`
	ExecutionID string            `json:"execution_id,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
}

// RequestMessage is a single history entry in a stream request.
type RequestMessage struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}
