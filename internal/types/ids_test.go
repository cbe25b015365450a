// internal/types/ids_test.go
package types

import (
	"strings"
	"testing"
)

func TestNewMessageID(t *testing.T) {
	id := NewMessageID()
	if !strings.HasPrefix(id, "msg-") {
		t.Errorf("expected msg- prefix, got %s", id)
	}
	if len(id) != len("msg-")+12 {
		t.Errorf("expected 12 hex digits after prefix, got %s", id)
	}
	if NewMessageID() == id {
		t.Error("expected unique ids")
	}
}

func TestNewTextAndToolCallID(t *testing.T) {
	if !strings.HasPrefix(NewTextID(), "t-") {
		t.Error("expected t- prefix")
	}
	if !strings.HasPrefix(NewToolCallID(), "call-") {
		t.Error("expected call- prefix")
	}
}

func TestNewConversationIDSortable(t *testing.T) {
	a := NewConversationID()
	if len(string(a)) != 26 {
		t.Errorf("expected ULID format, got %s", a)
	}
}
