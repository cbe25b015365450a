package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/user/energychat/pkg/llm"
	"github.com/user/energychat/pkg/sse"
)

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
// Request deadlines come from the caller's context so long streams are not
// cut off by a client-wide timeout.
func New(config *llm.Config) *Client {
	return &Client{
		config:     config,
		httpClient: &http.Client{},
	}
}

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model         string           `json:"model"`
	Messages      []requestMessage `json:"messages"`
	Tools         []llm.Tool       `json:"tools,omitempty"`
	MaxTokens     int              `json:"max_tokens,omitempty"`
	Temperature   *float32         `json:"temperature,omitempty"`
	Stream        bool             `json:"stream,omitempty"`
	StreamOptions *streamOptions   `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// requestMessage is the OpenAI message format for requests.
type requestMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// wireToolCall carries arguments as a JSON-encoded string, which is how the
// API transmits them in both directions.
type wireToolCall struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// chatResponse is the OpenAI chat completions response body.
type chatResponse struct {
	Choices []choice      `json:"choices"`
	Usage   responseUsage `json:"usage"`
}

// choice represents a single completion choice.
type choice struct {
	Message responseMessage `json:"message"`
}

// responseMessage is the OpenAI message format in responses.
type responseMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

// responseUsage is the OpenAI token usage format.
type responseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chunk is one streamed chat.completion.chunk object.
type chunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func toWire(calls []llm.ToolCall) []wireToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]wireToolCall, len(calls))
	for i, tc := range calls {
		out[i].ID = tc.ID
		out[i].Type = "function"
		out[i].Function.Name = tc.Function.Name
		out[i].Function.Arguments = string(tc.Function.Arguments)
	}
	return out
}

func fromWire(calls []wireToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i, wc := range calls {
		idx := i
		if wc.Index != nil {
			idx = *wc.Index
		}
		out[i] = llm.ToolCall{
			Index: idx,
			ID:    wc.ID,
			Type:  wc.Type,
			Function: llm.FunctionCall{
				Name:      wc.Function.Name,
				Arguments: json.RawMessage(wc.Function.Arguments),
			},
		}
	}
	return out
}

func (c *Client) buildRequest(messages []llm.Message, tools []llm.Tool, stream bool) chatRequest {
	reqMessages := make([]requestMessage, len(messages))
	for i, msg := range messages {
		rm := requestMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		if msg.Role != llm.RoleTool {
			rm.ToolCalls = toWire(msg.Tools)
		}
		reqMessages[i] = rm
	}

	reqBody := chatRequest{
		Model:    c.config.Model,
		Messages: reqMessages,
		Stream:   stream,
	}
	if stream {
		reqBody.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	if len(tools) > 0 {
		reqBody.Tools = tools
	}
	if c.config.MaxTokens > 0 {
		reqBody.MaxTokens = c.config.MaxTokens
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		reqBody.Temperature = &temp
	}
	return reqBody
}

func (c *Client) post(ctx context.Context, reqBody chatRequest) (*http.Response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.config.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if reqBody.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}

// Complete sends a chat completion request and returns the full response.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	resp, err := c.post(ctx, c.buildRequest(messages, tools, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := chatResp.Choices[0]
	return &llm.Response{
		Content:   choice.Message.Content,
		ToolCalls: fromWire(choice.Message.ToolCalls),
		Usage: llm.Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:  chatResp.Usage.TotalTokens,
		},
	}, nil
}

// Stream sends a streaming chat completion request and returns a channel of
// incremental deltas. Errors before the first byte are returned directly;
// later failures are delivered as a final Delta with Err set.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, tools []llm.Tool) (<-chan llm.Delta, error) {
	resp, err := c.post(ctx, c.buildRequest(messages, tools, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Delta)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		send := func(d llm.Delta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		reader := sse.NewReader(resp.Body)
		for {
			payload, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				send(llm.Delta{Err: fmt.Errorf("reading stream: %w", err)})
				return
			}

			var ck chunk
			if err := json.Unmarshal(payload, &ck); err != nil {
				send(llm.Delta{Err: fmt.Errorf("parsing chunk: %w", err)})
				return
			}
			if ck.Error != nil {
				send(llm.Delta{Err: fmt.Errorf("API error: %s", ck.Error.Message)})
				return
			}
			// The usage-only chunk has no choices.
			if len(ck.Choices) == 0 {
				continue
			}

			c0 := ck.Choices[0]
			d := llm.Delta{
				Content:   c0.Delta.Content,
				ToolCalls: fromWire(c0.Delta.ToolCalls),
			}
			if c0.FinishReason != nil {
				d.FinishReason = *c0.FinishReason
			}
			if d.Content == "" && len(d.ToolCalls) == 0 && d.FinishReason == "" {
				continue
			}
			if !send(d) {
				return
			}
		}
	}()

	return ch, nil
}
