// Package sse implements the `data:` framing of server-sent event streams:
// one record per frame, frames separated by a blank line, and a literal
// [DONE] sentinel after the last record.
package sse

import (
	"bytes"
	"errors"
	"io"
)

// DoneSentinel is the payload that marks the end of a stream.
const DoneSentinel = "[DONE]"

// ErrTruncated is returned when the underlying reader ends before the
// [DONE] sentinel was seen.
var ErrTruncated = errors.New("event stream truncated before [DONE]")

const readChunkSize = 4096

var (
	delimLF   = []byte("\n\n")
	delimCRLF = []byte("\r\n\r\n")
	dataField = []byte("data:")
)

// Reader extracts frame payloads from a byte stream. Network reads may split
// a frame anywhere or carry several frames at once; incomplete trailing bytes
// stay buffered until the rest of the frame arrives.
type Reader struct {
	r    io.Reader
	buf  []byte
	tmp  []byte
	err  error
	done bool
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, tmp: make([]byte, readChunkSize)}
}

// Next returns the payload of the next frame that carries data. It returns
// io.EOF after the [DONE] sentinel, and ErrTruncated if the stream ended
// without one. Any other read error is returned as is.
func (r *Reader) Next() ([]byte, error) {
	for {
		if r.done {
			return nil, io.EOF
		}
		if frame, ok := r.cut(); ok {
			payload, hasData := parseFrame(frame)
			if !hasData {
				continue
			}
			if string(payload) == DoneSentinel {
				r.done = true
				return nil, io.EOF
			}
			return payload, nil
		}
		if r.err != nil {
			if errors.Is(r.err, io.EOF) {
				// A final frame may lack its delimiter; only the sentinel
				// counts as a clean end.
				if payload, hasData := parseFrame(r.buf); hasData && string(payload) == DoneSentinel {
					r.buf = nil
					r.done = true
					return nil, io.EOF
				}
				return nil, ErrTruncated
			}
			return nil, r.err
		}
		n, err := r.r.Read(r.tmp)
		if n > 0 {
			r.buf = append(r.buf, r.tmp[:n]...)
		}
		if err != nil {
			r.err = err
		}
	}
}

// Buffered reports how many bytes are held that do not yet form a frame.
func (r *Reader) Buffered() int {
	return len(r.buf)
}

// cut removes the first complete frame from the buffer.
func (r *Reader) cut() ([]byte, bool) {
	idx, size := -1, 0
	if i := bytes.Index(r.buf, delimLF); i >= 0 {
		idx, size = i, len(delimLF)
	}
	if i := bytes.Index(r.buf, delimCRLF); i >= 0 && (idx < 0 || i < idx) {
		idx, size = i, len(delimCRLF)
	}
	if idx < 0 {
		return nil, false
	}
	frame := make([]byte, idx)
	copy(frame, r.buf[:idx])
	r.buf = r.buf[idx+size:]
	return frame, true
}

// parseFrame joins the data lines of one frame. Comments and the event, id
// and retry fields carry nothing this package needs.
func parseFrame(frame []byte) ([]byte, bool) {
	var (
		payload [][]byte
		hasData bool
	)
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, dataField) {
			continue
		}
		value := line[len(dataField):]
		value = bytes.TrimPrefix(value, []byte(" "))
		payload = append(payload, value)
		hasData = true
	}
	return bytes.Join(payload, []byte("\n")), hasData
}
