// Package stream defines the chat event protocol carried over the sse
// framing: the event vocabulary, its encoder and its decoder.
package stream

import "encoding/json"

// EventType names one logical occurrence in a turn.
type EventType string

const (
	EventMessageStart       EventType = "message-start"
	EventTextStart          EventType = "text-start"
	EventTextDelta          EventType = "text-delta"
	EventTextEnd            EventType = "text-end"
	EventToolInputStart     EventType = "tool-input-start"
	EventToolInputDelta     EventType = "tool-input-delta"
	EventToolInputAvailable EventType = "tool-input-available"
	EventToolOutput         EventType = "tool-output-available"
	EventToolOutputError    EventType = "tool-output-error"
	EventError              EventType = "error"
	EventFinish             EventType = "finish"

	// Step markers are understood on decode but carry no assembly semantics.
	EventStartStep  EventType = "start-step"
	EventFinishStep EventType = "finish-step"
)

// Transport headers of the event stream response.
const (
	ContentType     = "text/event-stream"
	ProtocolHeader  = "X-Vercel-AI-UI-Message-Stream"
	ProtocolVersion = "v1"
)

// Event is one record of the stream. Only the fields relevant to Type are set.
type Event struct {
	Type       EventType       `json:"type"`
	MessageID  string          `json:"messageId,omitempty"`
	TextID     string          `json:"textId,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"error,omitempty"`
}

// Terminal reports whether the event closes a turn.
func (e Event) Terminal() bool {
	return e.Type == EventFinish || e.Type == EventError
}

func MessageStart(id string) Event { return Event{Type: EventMessageStart, MessageID: id} }

func TextStart(id string) Event { return Event{Type: EventTextStart, TextID: id} }

func TextDelta(id, delta string) Event {
	return Event{Type: EventTextDelta, TextID: id, Delta: delta}
}

func TextEnd(id string) Event { return Event{Type: EventTextEnd, TextID: id} }

func ToolInputStart(callID, name string) Event {
	return Event{Type: EventToolInputStart, ToolCallID: callID, ToolName: name}
}

func ToolInputDelta(callID, delta string) Event {
	return Event{Type: EventToolInputDelta, ToolCallID: callID, Delta: delta}
}

func ToolInputAvailable(callID, name string, input json.RawMessage) Event {
	return Event{Type: EventToolInputAvailable, ToolCallID: callID, ToolName: name, Input: input}
}

func ToolOutputAvailable(callID string, output json.RawMessage) Event {
	return Event{Type: EventToolOutput, ToolCallID: callID, Output: output}
}

func ToolOutputError(callID, errText string) Event {
	return Event{Type: EventToolOutputError, ToolCallID: callID, ErrorText: errText}
}

func Error(message string) Event { return Event{Type: EventError, ErrorText: message} }

func Finish() Event { return Event{Type: EventFinish} }
