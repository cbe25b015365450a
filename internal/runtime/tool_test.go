package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type echoTool struct {
	calls atomic.Int32
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echoes input" }
func (e *echoTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
}
func (e *echoTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	e.calls.Add(1)
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, err
	}
	return map[string]string{"text": p.Text}, nil
}

// sleepTool blocks until its context ends and ignores cancellation for a
// while afterwards, like a stuck subprocess.
type sleepTool struct {
	timeout time.Duration
}

func (s *sleepTool) Name() string                { return "sleep" }
func (s *sleepTool) Description() string         { return "Sleeps" }
func (s *sleepTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *sleepTool) Timeout() time.Duration      { return s.timeout }
func (s *sleepTool) Execute(ctx context.Context, _ json.RawMessage) (any, error) {
	time.Sleep(200 * time.Millisecond)
	return "late", nil
}

type panicTool struct{}

func (panicTool) Name() string                { return "boom" }
func (panicTool) Description() string         { return "Panics" }
func (panicTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (panicTool) Execute(context.Context, json.RawMessage) (any, error) {
	panic("kaboom")
}

func newTestRegistry(t *testing.T, tools ...Tool) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := newTestRegistry(t, &echoTool{})

	tool, ok := r.Get("echo")
	if !ok {
		t.Fatal("expected to find echo tool")
	}
	if tool.Name() != "echo" {
		t.Errorf("expected name 'echo', got %q", tool.Name())
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("missing")
	if ok {
		t.Fatal("expected not to find missing tool")
	}
}

func TestRegistryRejectsBadSchema(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&badSchemaTool{})
	if err == nil {
		t.Fatal("expected schema compile error")
	}
}

type badSchemaTool struct{ echoTool }

func (b *badSchemaTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":`) }

func TestRegistryAllSorted(t *testing.T) {
	r := newTestRegistry(t, &sleepTool{}, &echoTool{})
	tools := r.All()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].Name() != "echo" || tools[1].Name() != "sleep" {
		t.Errorf("expected tools sorted by name, got %s, %s", tools[0].Name(), tools[1].Name())
	}
}

func TestRegistryAsLLMTools(t *testing.T) {
	r := newTestRegistry(t, &echoTool{})
	llmTools := r.AsLLMTools()
	if len(llmTools) != 1 {
		t.Fatalf("expected 1 llm tool, got %d", len(llmTools))
	}
	if llmTools[0].Function.Name != "echo" {
		t.Errorf("expected function name 'echo', got %q", llmTools[0].Function.Name)
	}
	if llmTools[0].Type != "function" {
		t.Errorf("expected type 'function', got %q", llmTools[0].Type)
	}
}

func TestInvokeValidInput(t *testing.T) {
	echo := &echoTool{}
	r := newTestRegistry(t, echo)

	out, err := r.Invoke(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if out.(map[string]string)["text"] != "hi" {
		t.Errorf("unexpected output %v", out)
	}
}

func TestInvokeValidatesBeforeExecuting(t *testing.T) {
	echo := &echoTool{}
	r := newTestRegistry(t, echo)

	for _, input := range []string{`{}`, `{"text":5}`, `not json`, ``} {
		_, err := r.Invoke(context.Background(), "echo", json.RawMessage(input))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("input %q: expected ErrInvalidInput, got %v", input, err)
		}
		if errorText(err) != "invalid input" {
			t.Errorf("input %q: expected short error text, got %q", input, errorText(err))
		}
	}
	if n := echo.calls.Load(); n != 0 {
		t.Errorf("expected executor never to run, ran %d times", n)
	}
}

func TestInvokeTimeout(t *testing.T) {
	r := newTestRegistry(t, &sleepTool{timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := r.Invoke(context.Background(), "sleep", nil)
	if !errors.Is(err, ErrToolTimeout) {
		t.Fatalf("expected ErrToolTimeout, got %v", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Errorf("expected the overrunning tool to be abandoned, waited %s", time.Since(start))
	}
	if errorText(err) != "timeout" {
		t.Errorf("expected 'timeout', got %q", errorText(err))
	}
}

func TestInvokeDefaultTimeout(t *testing.T) {
	r := newTestRegistry(t, &sleepTool{})
	r.SetDefaultTimeout(20 * time.Millisecond)

	_, err := r.Invoke(context.Background(), "sleep", nil)
	if !errors.Is(err, ErrToolTimeout) {
		t.Fatalf("expected ErrToolTimeout, got %v", err)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "missing", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestInvokeRecoversPanic(t *testing.T) {
	r := newTestRegistry(t, panicTool{})
	_, err := r.Invoke(context.Background(), "boom", nil)
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}
