// Package client is the consuming side of the chat protocol: it opens one
// request per turn, folds the event stream into an assistant message and
// tracks the session state a UI renders.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/user/energychat/internal/stream"
	"github.com/user/energychat/internal/types"
)

// ErrProtocol is returned when the server answers with something other
// than an event stream of the expected protocol version.
var ErrProtocol = errors.New("unexpected response protocol")

// conversationHeader matches the header the server keys its turn gate on.
const conversationHeader = "X-Conversation-ID"

// maxErrorBody bounds how much of a failed response is kept for display.
const maxErrorBody = 4096

// TransportError reports a failure before any event was received: either
// the request could not be sent or the server returned a non-2xx status.
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request failed: %v", e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("server error (status %d): %s", e.Status, e.Body)
	}
	return fmt.Sprintf("server error (status %d)", e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// EventStream is an open turn response.
type EventStream interface {
	// Next returns the next event, io.EOF after the end sentinel, or an
	// error if the stream breaks.
	Next() (stream.Event, error)
	Close() error
}

// Opener starts one turn from the conversation so far.
type Opener interface {
	Open(ctx context.Context, history []types.Message) (EventStream, error)
}

// Transport opens turns against a chat server over HTTP.
type Transport struct {
	url          string
	conversation types.ConversationID
	httpClient   *http.Client
}

// NewTransport creates a Transport for the server at baseURL. Requests are
// tagged with conv so the server can reject overlapping turns.
func NewTransport(baseURL string, conv types.ConversationID) *Transport {
	return &Transport{
		url:          strings.TrimRight(baseURL, "/") + "/api/chat",
		conversation: conv,
		httpClient:   &http.Client{},
	}
}

type wireMessage struct {
	Role    types.Role `json:"role"`
	Content string     `json:"content"`
}

// Open posts history and returns the response as an event stream.
// Cancelling ctx aborts the request and unblocks a pending Next.
func (t *Transport) Open(ctx context.Context, history []types.Message) (EventStream, error) {
	msgs := make([]wireMessage, 0, len(history))
	for _, m := range history {
		text := m.Text()
		if text == "" && m.Role == types.RoleAssistant {
			continue
		}
		msgs = append(msgs, wireMessage{Role: m.Role, Content: text})
	}
	body, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", stream.ContentType)
	if t.conversation != "" {
		req.Header.Set(conversationHeader, string(t.conversation))
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{Status: resp.StatusCode, Body: errorMessage(data)}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != stream.ContentType {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: content type %q", ErrProtocol, resp.Header.Get("Content-Type"))
	}
	if v := resp.Header.Get(stream.ProtocolHeader); v != stream.ProtocolVersion {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: protocol version %q", ErrProtocol, v)
	}

	return &httpStream{dec: stream.NewDecoder(resp.Body), body: resp.Body}, nil
}

// errorMessage extracts the error field of a JSON error body, falling back
// to the raw text.
func errorMessage(data []byte) string {
	var resp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &resp) == nil && resp.Error != "" {
		return resp.Error
	}
	return strings.TrimSpace(string(data))
}

type httpStream struct {
	dec  *stream.Decoder
	body io.ReadCloser
}

func (s *httpStream) Next() (stream.Event, error) { return s.dec.Next() }

func (s *httpStream) Close() error { return s.body.Close() }
