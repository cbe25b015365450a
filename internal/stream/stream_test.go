package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/user/energychat/pkg/sse"
)

func exampleTurn() []Event {
	return []Event{
		MessageStart("msg-1"),
		ToolInputStart("call-1", "execute_code"),
		ToolInputDelta("call-1", `{"code":`),
		ToolInputDelta("call-1", `"print(1+2)"}`),
		ToolInputAvailable("call-1", "execute_code", json.RawMessage(`{"code":"print(1+2)"}`)),
		ToolOutputAvailable("call-1", json.RawMessage(`{"stdout":"3\n","exitCode":0}`)),
		TextStart("t-1"),
		TextDelta("t-1", "The sum is 3"),
		TextEnd("t-1"),
		Finish(),
	}
}

func encodeAll(t *testing.T, events []Event) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.Done(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeAll(t *testing.T, r io.Reader) ([]Event, error) {
	t.Helper()
	dec := NewDecoder(r)
	var out []Event
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

func TestRoundTripPreservesOrder(t *testing.T) {
	events := exampleTurn()
	got, err := decodeAll(t, bytes.NewReader(encodeAll(t, events)))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(got))
	}
	for i := range events {
		if got[i].Type != events[i].Type {
			t.Errorf("event %d: expected %s, got %s", i, events[i].Type, got[i].Type)
		}
	}
	if got[7].Delta != "The sum is 3" {
		t.Errorf("expected text delta, got %q", got[7].Delta)
	}
}

func TestDecoderChunkingIsTransparent(t *testing.T) {
	data := encodeAll(t, exampleTurn())
	whole, err := decodeAll(t, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	split, err := decodeAll(t, iotest.OneByteReader(bytes.NewReader(data)))
	if err != nil {
		t.Fatal(err)
	}
	half, err := decodeAll(t, iotest.HalfReader(bytes.NewReader(data)))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(whole, split) || !reflect.DeepEqual(whole, half) {
		t.Errorf("expected identical event sequences across chunkings")
	}
}

func TestDecoderSkipsMalformedFrames(t *testing.T) {
	body := "data: {\"type\":\"message-start\",\"messageId\":\"m\"}\n\n" +
		"data: {not json\n\n" +
		"data: {\"delta\":\"no type\"}\n\n" +
		"data: {\"type\":\"finish\"}\n\n" +
		"data: [DONE]\n\n"
	dec := NewDecoder(strings.NewReader(body))
	var types []EventType
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		types = append(types, ev.Type)
	}
	if len(types) != 2 || types[0] != EventMessageStart || types[1] != EventFinish {
		t.Errorf("expected message-start and finish, got %v", types)
	}
	if dec.Skipped() != 2 {
		t.Errorf("expected 2 skipped frames, got %d", dec.Skipped())
	}
}

func TestDecoderDetectsTruncation(t *testing.T) {
	data := encodeAll(t, exampleTurn())
	cut := data[:len(data)-len("data: [DONE]\n\n")]
	_, err := decodeAll(t, bytes.NewReader(cut))
	if !errors.Is(err, sse.ErrTruncated) {
		t.Fatalf("expected truncation error, got %v", err)
	}
}

func TestEventWireFormat(t *testing.T) {
	data, err := json.Marshal(Error("LLM API error: rate limit"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"error","error":"LLM API error: rate limit"}` {
		t.Errorf("unexpected error frame %s", data)
	}
	data, _ = json.Marshal(TextDelta("t-1", "hi"))
	if string(data) != `{"type":"text-delta","textId":"t-1","delta":"hi"}` {
		t.Errorf("unexpected text-delta frame %s", data)
	}
	if !Finish().Terminal() || !Error("x").Terminal() || TextEnd("t").Terminal() {
		t.Error("unexpected terminal classification")
	}
}
