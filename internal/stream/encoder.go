package stream

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/user/energychat/pkg/sse"
)

// Encoder writes events as sse data frames.
type Encoder struct {
	w *sse.Writer
}

// NewEncoder creates an Encoder over w. Frames are flushed as they are
// written when w is an http.Flusher.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: sse.NewWriter(w)}
}

// Encode writes one event frame.
func (e *Encoder) Encode(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return e.w.WriteData(data)
}

// Done writes the end-of-stream sentinel.
func (e *Encoder) Done() error {
	return e.w.Done()
}
