package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/energychat/pkg/llm"
)

func TestOpenAIClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing or invalid auth header")
		}

		resp := map[string]any{
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"role":    "assistant",
						"content": "test response",
					},
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     10,
				"completion_tokens": 5,
				"total_tokens":      15,
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	config := &llm.Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gpt-3.5-turbo",
	}
	client := New(config)

	ctx := context.Background()
	messages := []llm.Message{
		{Role: "user", Content: "hello"},
	}

	resp, err := client.Complete(ctx, messages, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "test response" {
		t.Errorf("expected 'test response', got %s", resp.Content)
	}
	if resp.Usage.InputTokens != 10 {
		t.Errorf("expected 10 input tokens, got %d", resp.Usage.InputTokens)
	}
	if resp.Usage.OutputTokens != 5 {
		t.Errorf("expected 5 output tokens, got %d", resp.Usage.OutputTokens)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("expected 15 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestOpenAIClientRequestFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify the request path: base_url includes /v1, client appends /chat/completions
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("expected path '/v1/chat/completions', got %q", r.URL.Path)
		}

		// Verify content type
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type 'application/json', got %q", r.Header.Get("Content-Type"))
		}

		// Parse and verify request body
		body, _ := io.ReadAll(r.Body)
		var reqBody map[string]any
		json.Unmarshal(body, &reqBody)

		if reqBody["model"] != "gpt-4" {
			t.Errorf("expected model 'gpt-4', got %v", reqBody["model"])
		}

		messages, ok := reqBody["messages"].([]any)
		if !ok || len(messages) != 1 {
			t.Errorf("expected 1 message, got %v", reqBody["messages"])
		}

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "ok"}},
			},
			"usage": map[string]any{
				"prompt_tokens":     1,
				"completion_tokens": 1,
				"total_tokens":      2,
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	config := &llm.Config{
		BaseURL: server.URL + "/v1",
		APIKey:  "key",
		Model:   "gpt-4",
	}
	client := New(config)

	_, err := client.Complete(context.Background(), []llm.Message{
		{Role: "user", Content: "test"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpenAIClientWithTools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var reqBody map[string]any
		json.Unmarshal(body, &reqBody)

		tools, ok := reqBody["tools"].([]any)
		if !ok || len(tools) != 1 {
			t.Errorf("expected 1 tool, got %v", reqBody["tools"])
		}

		resp := map[string]any{
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"role":    "assistant",
						"content": "",
						"tool_calls": []map[string]any{
							{
								"id":   "call_123",
								"type": "function",
								"function": map[string]any{
									"name":      "run_prediction",
									"arguments": `{"buildingNumber":42}`,
								},
							},
						},
					},
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     20,
				"completion_tokens": 10,
				"total_tokens":      30,
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	config := &llm.Config{
		BaseURL: server.URL,
		APIKey:  "key",
		Model:   "gpt-4",
	}
	client := New(config)

	tools := []llm.Tool{
		{
			Type: "function",
			Function: llm.Function{
				Name:        "run_prediction",
				Description: "Forecast building energy use",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"buildingNumber":{"type":"integer"}}}`),
			},
		},
	}

	resp, err := client.Complete(context.Background(), []llm.Message{
		{Role: "user", Content: "How is building 42 doing?"},
	}, tools)
	if err != nil {
		t.Fatal(err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Function.Name != "run_prediction" {
		t.Errorf("expected tool call 'run_prediction', got %q", resp.ToolCalls[0].Function.Name)
	}
}

func TestOpenAIClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer server.Close()

	config := &llm.Config{
		BaseURL: server.URL,
		APIKey:  "bad-key",
		Model:   "gpt-4",
	}
	client := New(config)

	_, err := client.Complete(context.Background(), []llm.Message{
		{Role: "user", Content: "hello"},
	}, nil)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func sseHandler(t *testing.T, frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var reqBody map[string]any
		json.Unmarshal(body, &reqBody)
		if reqBody["stream"] != true {
			t.Errorf("expected stream=true, got %v", reqBody["stream"])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			w.(http.Flusher).Flush()
		}
	}
}

func collect(t *testing.T, stream <-chan llm.Delta) []llm.Delta {
	t.Helper()
	var out []llm.Delta
	for d := range stream {
		out = append(out, d)
	}
	return out
}

func TestOpenAIClientStream(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		`{"choices":[{"delta":{"role":"assistant","content":"streamed "}}]}`,
		`{"choices":[{"delta":{"content":"response"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`,
		`[DONE]`,
	))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "key", Model: "gpt-4"})

	stream, err := client.Stream(context.Background(), []llm.Message{
		{Role: "user", Content: "hello"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var content, finish string
	for _, delta := range collect(t, stream) {
		if delta.Err != nil {
			t.Fatalf("unexpected stream error: %v", delta.Err)
		}
		content += delta.Content
		if delta.FinishReason != "" {
			finish = delta.FinishReason
		}
	}
	if content != "streamed response" {
		t.Errorf("expected 'streamed response', got %q", content)
	}
	if finish != llm.FinishStop {
		t.Errorf("expected finish reason stop, got %q", finish)
	}
}

func TestOpenAIClientStreamToolCalls(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"execute_code","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"code\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"print(1)\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, Model: "gpt-4"})
	stream, err := client.Stream(context.Background(), []llm.Message{{Role: "user", Content: "run"}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var acc llm.Accumulator
	for _, d := range collect(t, stream) {
		acc.Add(d)
	}
	calls := acc.ToolCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Function.Name != "execute_code" {
		t.Errorf("unexpected call header %+v", calls[0])
	}
	if string(calls[0].Function.Arguments) != `{"code":"print(1)"}` {
		t.Errorf("unexpected arguments %s", calls[0].Function.Arguments)
	}
	if acc.FinishReason() != llm.FinishToolCalls {
		t.Errorf("expected tool_calls finish, got %q", acc.FinishReason())
	}
}

func TestOpenAIClientStreamTruncated(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		`{"choices":[{"delta":{"content":"partial"}}]}`,
	))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, Model: "gpt-4"})
	stream, err := client.Stream(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	deltas := collect(t, stream)
	if len(deltas) != 2 {
		t.Fatalf("expected content then error, got %d deltas", len(deltas))
	}
	if deltas[1].Err == nil {
		t.Error("expected error delta for stream without [DONE]")
	}
}

func TestOpenAIClientStreamAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit"}}`))
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, Model: "gpt-4"})
	_, err := client.Stream(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestOpenAIClientEncodesToolHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody struct {
			Messages []struct {
				Role       string `json:"role"`
				ToolCallID string `json:"tool_call_id"`
				ToolCalls  []struct {
					Function struct {
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Errorf("expected string arguments on the wire: %v", err)
			return
		}
		if len(reqBody.Messages) != 2 {
			t.Errorf("expected 2 messages, got %d", len(reqBody.Messages))
			return
		}
		if reqBody.Messages[0].ToolCalls[0].Function.Arguments != `{"code":"1"}` {
			t.Errorf("unexpected arguments %q", reqBody.Messages[0].ToolCalls[0].Function.Arguments)
		}
		if reqBody.Messages[1].ToolCallID != "call_1" {
			t.Errorf("expected tool_call_id call_1, got %q", reqBody.Messages[1].ToolCallID)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "ok"}}},
		})
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, Model: "gpt-4"})
	_, err := client.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleAssistant, Tools: []llm.ToolCall{{ID: "call_1", Function: llm.FunctionCall{Name: "execute_code", Arguments: json.RawMessage(`{"code":"1"}`)}}}},
		{Role: llm.RoleTool, Content: `{"stdout":"1"}`, ToolCallID: "call_1"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpenAIClientProviderInterface(t *testing.T) {
	// Verify Client satisfies the llm.Provider interface at compile time.
	var _ llm.Provider = (*Client)(nil)
}
