package sse

import (
	"fmt"
	"io"
	"net/http"
)

// Writer emits one frame per call and flushes it to the client right away
// when the destination supports it.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// WriteData writes payload as a single data frame. The payload must not
// contain a blank line.
func (w *Writer) WriteData(payload []byte) error {
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Done writes the [DONE] sentinel.
func (w *Writer) Done() error {
	return w.WriteData([]byte(DoneSentinel))
}
