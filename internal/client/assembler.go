package client

import (
	"github.com/user/energychat/internal/stream"
	"github.com/user/energychat/internal/types"
)

// Reasons recorded on tool parts that never received an output.
const (
	unfinishedToolText = "tool call did not complete"
	stoppedToolText    = "stopped"
)

// Assembly is the assistant message being built from one turn's events.
type Assembly struct {
	Message types.Message
	// Started is set by the first event that puts content in the message.
	Started bool
	// Done is set once a terminal event, the end sentinel or a failure has
	// been folded. A done Assembly ignores further events.
	Done   bool
	Failed bool
}

// NewAssembly returns an empty assistant message ready to fold events into.
func NewAssembly() Assembly {
	return Assembly{Message: types.Message{Role: types.RoleAssistant}}
}

// Fold applies ev to a and returns the new state. a is never modified, so
// replaying the same events always gives the same result.
func Fold(a Assembly, ev stream.Event) Assembly {
	if a.Done {
		return a
	}
	a.Message = a.Message.Clone()
	msg := &a.Message

	switch ev.Type {
	case stream.EventMessageStart:
		if msg.ID == "" {
			msg.ID = ev.MessageID
		}

	case stream.EventTextDelta:
		if ev.Delta == "" {
			break
		}
		a.Started = true
		if n := len(msg.Parts); n > 0 {
			if tp, ok := msg.Parts[n-1].(types.TextPart); ok {
				msg.Parts[n-1] = types.TextPart{Text: tp.Text + ev.Delta}
				break
			}
		}
		msg.Parts = append(msg.Parts, types.TextPart{Text: ev.Delta})

	case stream.EventToolInputStart:
		if _, ok := msg.ToolCall(ev.ToolCallID); ok {
			break
		}
		a.Started = true
		msg.Parts = append(msg.Parts, types.ToolCallPart{
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
			State:      types.ToolStateRunning,
		})

	case stream.EventToolInputDelta:
		updateTool(msg, ev.ToolCallID, func(p *types.ToolCallPart) {
			if p.Input == nil {
				p.InputText += ev.Delta
			}
		})

	case stream.EventToolInputAvailable:
		if _, ok := msg.ToolCall(ev.ToolCallID); !ok {
			// The start was missed; the input is complete enough to show.
			a.Started = true
			msg.Parts = append(msg.Parts, types.ToolCallPart{
				ToolCallID: ev.ToolCallID,
				ToolName:   ev.ToolName,
				State:      types.ToolStateRunning,
			})
		}
		updateTool(msg, ev.ToolCallID, func(p *types.ToolCallPart) {
			if p.ToolName == "" {
				p.ToolName = ev.ToolName
			}
			p.Input = ev.Input
			p.InputText = string(ev.Input)
		})

	case stream.EventToolOutput:
		updateTool(msg, ev.ToolCallID, func(p *types.ToolCallPart) {
			p.State = types.ToolStateComplete
			p.Output = ev.Output
		})

	case stream.EventToolOutputError:
		updateTool(msg, ev.ToolCallID, func(p *types.ToolCallPart) {
			p.State = types.ToolStateError
			p.Error = ev.ErrorText
		})

	case stream.EventError:
		// The message is shown even when empty so the error is visible
		// in the conversation.
		a.Started = true
		msg.Error = ev.ErrorText
		if msg.Error == "" {
			msg.Error = "unknown error"
		}
		closeRunning(msg, unfinishedToolText)
		a.Done, a.Failed = true, true

	case stream.EventFinish:
		closeRunning(msg, unfinishedToolText)
		a.Done = true
	}
	return a
}

// Freeze closes a at the end of the stream. It is a no-op after a terminal
// event.
func Freeze(a Assembly) Assembly {
	if a.Done {
		return a
	}
	a.Message = a.Message.Clone()
	closeRunning(&a.Message, unfinishedToolText)
	a.Done = true
	return a
}

// Fail closes a with a turn-level error, as when the connection drops
// before a terminal event.
func Fail(a Assembly, reason string) Assembly {
	if a.Done {
		return a
	}
	a.Message = a.Message.Clone()
	a.Message.Error = reason
	closeRunning(&a.Message, unfinishedToolText)
	a.Done, a.Failed = true, true
	return a
}

// Assemble folds a complete event sequence.
func Assemble(events []stream.Event) Assembly {
	a := NewAssembly()
	for _, ev := range events {
		a = Fold(a, ev)
	}
	return Freeze(a)
}

// updateTool applies fn to the running tool part with the given id. Events
// for unknown or already finished calls are dropped.
func updateTool(msg *types.Message, id string, fn func(*types.ToolCallPart)) {
	i, ok := msg.ToolCall(id)
	if !ok {
		return
	}
	p := msg.Parts[i].(types.ToolCallPart)
	if p.Done() {
		return
	}
	fn(&p)
	msg.Parts[i] = p
}

// closeRunning moves every running tool part to the error state. msg.Parts
// must already be a private copy.
func closeRunning(msg *types.Message, reason string) {
	for i, part := range msg.Parts {
		p, ok := part.(types.ToolCallPart)
		if !ok || p.Done() {
			continue
		}
		p.State = types.ToolStateError
		p.Error = reason
		msg.Parts[i] = p
	}
}
