package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/user/energychat/internal/gateway"
	"github.com/user/energychat/internal/runtime"
	"github.com/user/energychat/internal/stream"
	"github.com/user/energychat/internal/types"
	"github.com/user/energychat/pkg/llm"
)

const (
	conversationHeader = "X-Conversation-ID"
	maxChatBody        = 1 << 20
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// decodeChatRequest accepts either a bare array of messages or an object
// with a messages field.
func decodeChatRequest(body io.Reader) ([]chatMessage, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxChatBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxChatBody {
		return nil, errors.New("request body too large")
	}
	data = bytes.TrimSpace(data)

	var msgs []chatMessage
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	} else {
		var req struct {
			Messages []chatMessage `json:"messages"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		msgs = req.Messages
	}

	if len(msgs) == 0 {
		return nil, errors.New("messages are required")
	}
	for i, m := range msgs {
		if m.Role != string(types.RoleUser) && m.Role != string(types.RoleAssistant) {
			return nil, fmt.Errorf("message %d: role must be user or assistant", i)
		}
	}
	last := msgs[len(msgs)-1]
	if last.Role != string(types.RoleUser) || last.Content == "" {
		return nil, errors.New("last message must be a non-empty user message")
	}
	return msgs, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	msgs, err := decodeChatRequest(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv := types.ConversationID(r.Header.Get(conversationHeader))
	release, err := s.gate.Acquire(r.Context(), conv)
	if errors.Is(err, gateway.ErrTurnInFlight) {
		writeError(w, http.StatusConflict, "a response is already streaming for this conversation")
		return
	}
	if errors.Is(err, gateway.ErrServerBusy) {
		writeError(w, http.StatusServiceUnavailable, "server busy")
		return
	}
	if err != nil {
		slog.Debug("chat request abandoned before admission", "error", err)
		return
	}
	defer release()

	history := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		history[i] = llm.Message{Role: m.Role, Content: m.Content}
	}

	h := w.Header()
	h.Set("Content-Type", stream.ContentType)
	h.Set(stream.ProtocolHeader, stream.ProtocolVersion)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	enc := stream.NewEncoder(w)
	err = s.turns.Turn(r.Context(), history, runtime.EmitterFunc(enc.Encode))
	if r.Context().Err() != nil {
		slog.Info("client disconnected mid-turn", "conversation", conv)
		return
	}
	if err != nil {
		slog.Warn("turn ended with error", "conversation", conv, "error", err)
	}
	if err := enc.Done(); err != nil {
		slog.Debug("write done sentinel", "error", err)
	}
}
