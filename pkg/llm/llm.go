// Package llm defines the LLM Stream Adapter contract (C5): a provider
// that streams response tokens as they are generated, plus a batch
// fallback used when streaming is unavailable or fails mid-turn.
package llm

import (
	"context"

	"github.com/raczooby/voiceturn/pkg/session"
)

// Role mirrors the chat-message roles the providers speak on the wire.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in the conversation sent to the LLM.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// FromHistory converts session conversation messages into the wire Message
// type, mapping the session's agent role onto RoleAssistant. Every message
// is kept.
func FromHistory(history []session.ConversationMessage) []Message {
	out := make([]Message, 0, len(history))
	for _, m := range history {
		role := Role(m.Role)
		if m.Role == session.RoleAgent {
			role = RoleAssistant
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	return out
}

// Provider is the batch completion contract: it waits for the full
// response before returning. Used as the max_tokens-capped fallback when a
// streaming call returns an error, whether or not tokens were produced.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// StreamingProvider is the C5 contract. Implementations MUST NOT buffer the
// entire response before invoking onChunk for the first time — the first
// call to onChunk is what the turn orchestrator measures as
// llm_first_token. onChunk is called with each incremental token/fragment
// as the provider's wire format yields it; the full accumulated text is
// returned once the stream ends.
type StreamingProvider interface {
	Provider

	GenerateStream(ctx context.Context, messages []Message, onChunk func(fragment string)) (full string, err error)
}

// MaxTokensFallback is the cap applied to the batch Complete() call used
// when streaming returns an error, keeping the fallback
// response short enough that TTS can start promptly.
const MaxTokensFallback = 80
