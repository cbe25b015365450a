package runtime

import (
	"encoding/json"
	"errors"

	"github.com/user/energychat/internal/stream"
	"github.com/user/energychat/internal/types"
)

// ErrTurnClosed is returned for events emitted after the turn's terminal event.
var ErrTurnClosed = errors.New("turn already closed")

// Emitter receives the events of one turn in order.
type Emitter interface {
	Emit(ev stream.Event) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ev stream.Event) error

func (f EmitterFunc) Emit(ev stream.Event) error { return f(ev) }

// turnWriter keeps the emitted sequence well formed: one message-start,
// at most one open cycle, and exactly one terminal event. A tool cycle cut
// short by a terminal event is left for the client to mark failed. The first
// emitter failure is sticky; later writes return it without emitting.
type turnWriter struct {
	out    Emitter
	textID string
	toolID string
	closed bool
	err    error
}

func newTurnWriter(out Emitter) *turnWriter {
	return &turnWriter{out: out}
}

func (w *turnWriter) emit(ev stream.Event) error {
	if w.closed {
		return ErrTurnClosed
	}
	if w.err != nil {
		return w.err
	}
	if err := w.out.Emit(ev); err != nil {
		w.err = err
		return err
	}
	return nil
}

func (w *turnWriter) start(messageID string) error {
	return w.emit(stream.MessageStart(messageID))
}

func (w *turnWriter) text(delta string) error {
	if delta == "" {
		return nil
	}
	if w.textID == "" {
		w.textID = types.NewTextID()
		if err := w.emit(stream.TextStart(w.textID)); err != nil {
			return err
		}
	}
	return w.emit(stream.TextDelta(w.textID, delta))
}

func (w *turnWriter) textOpen() bool { return w.textID != "" }

func (w *turnWriter) toolOpen() bool { return w.toolID != "" }

func (w *turnWriter) closeText() error {
	if w.textID == "" {
		return nil
	}
	id := w.textID
	w.textID = ""
	return w.emit(stream.TextEnd(id))
}

func (w *turnWriter) toolStart(callID, name string) error {
	if err := w.closeText(); err != nil {
		return err
	}
	w.toolID = callID
	return w.emit(stream.ToolInputStart(callID, name))
}

func (w *turnWriter) toolDelta(callID, delta string) error {
	if delta == "" {
		return nil
	}
	return w.emit(stream.ToolInputDelta(callID, delta))
}

func (w *turnWriter) toolAvailable(callID, name string, input json.RawMessage) error {
	return w.emit(stream.ToolInputAvailable(callID, name, input))
}

func (w *turnWriter) toolOutput(callID string, output json.RawMessage) error {
	w.toolID = ""
	return w.emit(stream.ToolOutputAvailable(callID, output))
}

func (w *turnWriter) toolError(callID, msg string) error {
	w.toolID = ""
	return w.emit(stream.ToolOutputError(callID, msg))
}

func (w *turnWriter) finish() error {
	return w.terminal(stream.Finish())
}

func (w *turnWriter) fail(msg string) error {
	return w.terminal(stream.Error(msg))
}

func (w *turnWriter) terminal(ev stream.Event) error {
	if err := w.closeText(); err != nil {
		return err
	}
	w.toolID = ""
	if err := w.emit(ev); err != nil {
		return err
	}
	w.closed = true
	return nil
}
