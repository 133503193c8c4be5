package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// StreamEvent is a closed tagged variant describing one event delivered by an
// open stream. Exactly one Done or StreamError terminates a stream; no events
// follow it.
type StreamEvent interface {
	streamEvent()
}

// ContentDelta carries an incremental chunk of assistant text.
type ContentDelta struct {
	Text string
}

// ExecutionAssigned carries the backend-assigned execution identifier.
type ExecutionAssigned struct {
	ID    string
	Title string
}

// UsageUpdate carries the cumulative token count and cost for the session.
type UsageUpdate struct {
	Tokens int
	Cost   decimal.Decimal
}

// SideEffect carries a named domain side effect, forwarded opaquely.
type SideEffect struct {
	Name    string
	Payload json.RawMessage
}

// Done marks normal termination of a stream.
type Done struct{}

// StreamError marks abnormal termination of a stream.
type StreamError struct {
	Message string
}

func (ContentDelta) streamEvent()      {}
func (ExecutionAssigned) streamEvent() {}
func (UsageUpdate) streamEvent()       {}
func (SideEffect) streamEvent()        {}
func (Done) streamEvent()              {}
func (StreamError) streamEvent()       {}

// MessageEventPayload is the wire payload of a "message" event. Absent fields
// mean no update this tick.
type MessageEventPayload struct {
	Content     *string      `json:"content,omitempty"`
	ExecutionID *string      `json:"executionId,omitempty"`
	Title       *string      `json:"title,omitempty"`
	TokenCount  *int         `json:"tokenCount,omitempty"`
	Cost        *json.Number `json:"cost,omitempty"`
}

// ErrorEventPayload is the wire payload of an "error" event.
type ErrorEventPayload struct {
	Message string `json:"message"`
}
