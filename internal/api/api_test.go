package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/user/energychat/internal/dataset"
	"github.com/user/energychat/internal/gateway"
	"github.com/user/energychat/internal/runtime"
	"github.com/user/energychat/internal/stream"
	"github.com/user/energychat/pkg/llm"
)

type fakeTurns struct {
	history []llm.Message
	events  []stream.Event
	err     error
}

func (f *fakeTurns) Turn(ctx context.Context, history []llm.Message, out runtime.Emitter) error {
	f.history = history
	for _, ev := range f.events {
		if err := out.Emit(ev); err != nil {
			return err
		}
	}
	return f.err
}

type fakePredictor struct {
	building int
	utility  string
	sample   int
	err      error
}

func (f *fakePredictor) PredictSample(building int, utility string, sample int) (*dataset.Prediction, error) {
	f.building, f.utility, f.sample = building, utility, sample
	if f.err != nil {
		return nil, f.err
	}
	return &dataset.Prediction{BuildingNumber: building, Utility: "ELECTRICITY"}, nil
}

func simpleTurn() []stream.Event {
	return []stream.Event{
		stream.MessageStart("msg-1"),
		stream.TextStart("t-1"),
		stream.TextDelta("t-1", "Hello"),
		stream.TextEnd("t-1"),
		stream.Finish(),
	}
}

func post(srv http.Handler, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(&fakeTurns{}, gateway.New(1), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestChatStreamsEvents(t *testing.T) {
	turns := &fakeTurns{events: simpleTurn()}
	srv := NewServer(turns, gateway.New(1), nil, nil)

	w := post(srv, "/api/chat", `{"messages":[{"role":"user","content":"Hello"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}
	if v := w.Header().Get(stream.ProtocolHeader); v != "v1" {
		t.Errorf("expected protocol header v1, got %q", v)
	}
	if !strings.HasSuffix(w.Body.String(), "data: [DONE]\n\n") {
		t.Errorf("expected stream to end with the done sentinel, got %q", w.Body.String())
	}

	dec := stream.NewDecoder(w.Body)
	var got []stream.EventType
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, ev.Type)
	}
	if len(got) != 5 || got[0] != stream.EventMessageStart || got[4] != stream.EventFinish {
		t.Errorf("unexpected events %v", got)
	}
	if len(turns.history) != 1 || turns.history[0].Role != llm.RoleUser || turns.history[0].Content != "Hello" {
		t.Errorf("unexpected history %+v", turns.history)
	}
}

func TestChatAcceptsBareArray(t *testing.T) {
	turns := &fakeTurns{events: simpleTurn()}
	srv := NewServer(turns, gateway.New(1), nil, nil)

	body := `[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"},{"role":"user","content":"sum 1 2"}]`
	w := post(srv, "/api/chat", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if len(turns.history) != 3 || turns.history[1].Role != llm.RoleAssistant {
		t.Errorf("unexpected history %+v", turns.history)
	}
}

func TestChatErrorTurnStillEndsWithDone(t *testing.T) {
	turns := &fakeTurns{
		events: []stream.Event{stream.MessageStart("m"), stream.Error("LLM API error: boom")},
		err:    errors.New("boom"),
	}
	srv := NewServer(turns, gateway.New(1), nil, nil)

	w := post(srv, "/api/chat", `{"messages":[{"role":"user","content":"x"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"type":"error"`) || !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("expected error frame followed by done, got %q", body)
	}
}

func TestChatRejectsInvalidRequests(t *testing.T) {
	srv := NewServer(&fakeTurns{events: simpleTurn()}, gateway.New(1), nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"messages":`},
		{"empty", `{"messages":[]}`},
		{"missing", `{}`},
		{"bad role", `{"messages":[{"role":"system","content":"x"}]}`},
		{"last not user", `{"messages":[{"role":"user","content":"x"},{"role":"assistant","content":"y"}]}`},
		{"empty content", `{"messages":[{"role":"user","content":""}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(srv, "/api/chat", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.Error == "" {
				t.Errorf("expected JSON error body, got %v", err)
			}
		})
	}
}

func TestChatRejectsConcurrentTurnForConversation(t *testing.T) {
	gate := gateway.New(2)
	release, err := gate.Acquire(context.Background(), "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	srv := NewServer(&fakeTurns{events: simpleTurn()}, gate, nil, nil)

	w := post(srv, "/api/chat", `{"messages":[{"role":"user","content":"x"}]}`, conversationHeader, "conv-1")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	w = post(srv, "/api/chat", `{"messages":[{"role":"user","content":"x"}]}`, conversationHeader, "conv-2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected other conversation to proceed, got %d", w.Code)
	}
}

func TestChatServerBusy(t *testing.T) {
	gate := gateway.New(1)
	gate.SetAdmitTimeout(20 * time.Millisecond)
	release, err := gate.Acquire(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	srv := httptest.NewServer(NewServer(&fakeTurns{events: simpleTurn()}, gate, nil, nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(`[{"role":"user","content":"x"}]`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "server busy" {
		t.Errorf("expected busy message, got %q", body.Error)
	}
}

func TestChatOverHTTP(t *testing.T) {
	srv := httptest.NewServer(NewServer(&fakeTurns{events: simpleTurn()}, gateway.New(1), nil, []string{"*"}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(`[{"role":"user","content":"x"}]`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	dec := stream.NewDecoder(resp.Body)
	var text string
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if ev.Type == stream.EventTextDelta {
			text += ev.Delta
		}
	}
	if text != "Hello" {
		t.Errorf("expected Hello, got %q", text)
	}
}

func TestPredict(t *testing.T) {
	pred := &fakePredictor{}
	srv := NewServer(&fakeTurns{}, gateway.New(1), pred, nil)

	w := post(srv, "/api/predict", `{"buildingNumber":42,"utility":"electricity"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if pred.building != 42 || pred.utility != "electricity" || pred.sample != predictSample {
		t.Errorf("unexpected call %+v", pred)
	}
	var p dataset.Prediction
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.BuildingNumber != 42 {
		t.Errorf("expected building 42, got %d", p.BuildingNumber)
	}
}

func TestPredictErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"missing building", `{"utility":"GAS"}`, nil, http.StatusBadRequest},
		{"malformed", `{`, nil, http.StatusBadRequest},
		{"not found", `{"buildingNumber":1}`, dataset.ErrNotFound, http.StatusNotFound},
		{"insufficient", `{"buildingNumber":1}`, dataset.ErrInsufficientData, http.StatusUnprocessableEntity},
		{"internal", `{"buildingNumber":1}`, errors.New("disk"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&fakeTurns{}, gateway.New(1), &fakePredictor{err: tt.err}, nil)
			w := post(srv, "/api/predict", tt.body)
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestPredictWithoutDataset(t *testing.T) {
	srv := NewServer(&fakeTurns{}, gateway.New(1), nil, nil)
	w := post(srv, "/api/predict", `{"buildingNumber":1}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
