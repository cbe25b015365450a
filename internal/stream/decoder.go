package stream

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/user/energychat/pkg/sse"
)

// Decoder turns a byte stream into events. Frames that fail to parse are
// skipped so one corrupt record does not abort a healthy stream.
type Decoder struct {
	r       *sse.Reader
	skipped int
}

// NewDecoder creates a Decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: sse.NewReader(r)}
}

// Next returns the next event. It returns io.EOF after the [DONE] sentinel
// and sse.ErrTruncated when the stream ends without one.
func (d *Decoder) Next() (Event, error) {
	for {
		payload, err := d.r.Next()
		if err != nil {
			return Event{}, err
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			d.skipped++
			slog.Warn("skipping malformed stream frame", "error", err, "bytes", len(payload))
			continue
		}
		if ev.Type == "" {
			d.skipped++
			slog.Warn("skipping stream frame without type", "bytes", len(payload))
			continue
		}
		return ev, nil
	}
}

// Skipped returns the number of malformed frames dropped so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}
