// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type ConversationID string

// shortID returns prefix followed by the first 12 hex digits of a random UUID.
func shortID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func NewMessageID() string {
	return shortID("msg-")
}

func NewTextID() string {
	return shortID("t-")
}

func NewToolCallID() string {
	return shortID("call-")
}

// NewConversationID returns a time-sortable conversation identifier.
func NewConversationID() ConversationID {
	return ConversationID(ulid.Make().String())
}
