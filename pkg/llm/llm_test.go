package llm

import (
	"testing"
	"time"

	"github.com/raczooby/voiceturn/pkg/session"
)

func TestFromHistoryPreservesOrderAndRole(t *testing.T) {
	history := []session.ConversationMessage{
		{Role: session.RoleSystem, Content: "be terse", Timestamp: time.Now()},
		{Role: session.RoleUser, Content: "hi", Timestamp: time.Now()},
		{Role: session.RoleAgent, Content: "hello", Timestamp: time.Now()},
	}

	out := FromHistory(history)
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}
	if out[0].Role != RoleSystem || out[1].Role != RoleUser || out[2].Role != RoleAssistant {
		t.Fatalf("expected roles preserved in order, got %+v", out)
	}
	if out[1].Content != "hi" {
		t.Fatalf("expected content preserved, got %q", out[1].Content)
	}
}
