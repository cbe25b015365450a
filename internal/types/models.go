// internal/types/models.go
package types

import (
	"encoding/json"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatStatus is the lifecycle state of a client session.
type ChatStatus string

const (
	StatusReady     ChatStatus = "ready"
	StatusSubmitted ChatStatus = "submitted"
	StatusStreaming ChatStatus = "streaming"
	StatusError     ChatStatus = "error"
)

// Busy reports whether a turn is in flight.
func (s ChatStatus) Busy() bool {
	return s == StatusSubmitted || s == StatusStreaming
}

type ToolState string

const (
	ToolStateRunning  ToolState = "running"
	ToolStateComplete ToolState = "complete"
	ToolStateError    ToolState = "error"
)

// Part is one ordered segment of a message: a TextPart or a ToolCallPart.
type Part interface {
	isPart()
}

type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

func (p TextPart) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{"text", p.Text})
}

type ToolCallPart struct {
	ToolCallID string
	ToolName   string
	// InputText accumulates streamed argument fragments until Input is known.
	InputText string
	Input     json.RawMessage
	State     ToolState
	Output    json.RawMessage
	Error     string
}

func (ToolCallPart) isPart() {}

// Done reports whether the call reached a terminal state.
func (p ToolCallPart) Done() bool {
	return p.State == ToolStateComplete || p.State == ToolStateError
}

func (p ToolCallPart) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       string          `json:"type"`
		ToolCallID string          `json:"toolCallId"`
		ToolName   string          `json:"toolName"`
		Input      json.RawMessage `json:"input,omitempty"`
		State      ToolState       `json:"state"`
		Output     json.RawMessage `json:"output,omitempty"`
		Error      string          `json:"error,omitempty"`
	}{"tool-call", p.ToolCallID, p.ToolName, p.Input, p.State, p.Output, p.Error})
}

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"createdAt"`
	// Error is set when the turn that produced this message failed.
	Error string `json:"error,omitempty"`
}

// NewUserMessage builds an immutable user message holding a single text part.
func NewUserMessage(text string) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      RoleUser,
		Parts:     []Part{TextPart{Text: text}},
		CreatedAt: time.Now(),
	}
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

// Clone returns a copy whose Parts slice can be modified independently.
// Part values are immutable, so a shallow copy of the slice suffices.
func (m Message) Clone() Message {
	out := m
	if m.Parts != nil {
		out.Parts = make([]Part, len(m.Parts))
		copy(out.Parts, m.Parts)
	}
	return out
}

// ToolCall returns the index of the tool call part with the given id.
func (m Message) ToolCall(id string) (int, bool) {
	for i, p := range m.Parts {
		if tc, ok := p.(ToolCallPart); ok && tc.ToolCallID == id {
			return i, true
		}
	}
	return -1, false
}
