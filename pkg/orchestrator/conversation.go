package orchestrator

import (
	"github.com/raczooby/voiceturn/pkg/session"
	"github.com/raczooby/voiceturn/pkg/stt"
)

// Conversation is a thin convenience wrapper bundling one call's Session
// with the Stream driving it, for callers (demos, simple tests) that don't
// need to manage session construction themselves.
type Conversation struct {
	sess   *session.Session
	stream *Stream
}

// NewConversation creates a session using the orchestrator's configured
// history limit and defaults, and starts a Stream for it.
func NewConversation(orch *Orchestrator, sink PlaybackSink, onEvent func(Event)) *Conversation {
	return NewConversationWithConfig(orch, sink, onEvent, orch.config.HistoryLimit)
}

// NewConversationWithConfig is NewConversation with an explicit history
// limit override.
func NewConversationWithConfig(orch *Orchestrator, sink PlaybackSink, onEvent func(Event), historyLimit int) *Conversation {
	sess := session.New(historyLimit)
	sess.SetVoice(orch.config.DefaultVoice)
	sess.SetLanguage(orch.config.DefaultLanguage)
	if orch.config.SystemPrompt != "" {
		sess.AddMessage(session.RoleSystem, orch.config.SystemPrompt)
	}
	return &Conversation{sess: sess, stream: orch.NewStream(sess, sink, onEvent)}
}

func (c *Conversation) SetVoice(v session.Voice)       { c.sess.SetVoice(v) }
func (c *Conversation) SetLanguage(l session.Language) { c.sess.SetLanguage(l) }

// SetSystemPrompt appends a system message; since history is trimmed
// oldest-first and ClearHistory keeps system messages, call this once up
// front rather than repeatedly.
func (c *Conversation) SetSystemPrompt(prompt string) {
	c.sess.AddMessage(session.RoleSystem, prompt)
}

func (c *Conversation) StartGreeting(text string)                     { c.stream.StartGreeting(text) }
func (c *Conversation) OnPartial(text string)                         { c.stream.OnPartial(text) }
func (c *Conversation) OnFinal(text string, timing stt.TimingMetrics) { c.stream.OnFinal(text, timing) }
func (c *Conversation) OnPlaybackInterrupted()                        { c.stream.OnPlaybackInterrupted() }
func (c *Conversation) OnPlaybackEnded()                              { c.stream.OnPlaybackEnded() }
func (c *Conversation) Close()                                        { c.stream.Close() }

func (c *Conversation) State() SessionState { return c.stream.State() }

// GetContext returns a defensive copy of the conversation history.
func (c *Conversation) GetContext() []session.ConversationMessage { return c.sess.ContextCopy() }

func (c *Conversation) GetSessionID() string { return c.sess.ID }

// ClearContext clears history (keeping system messages). The Stream's state
// is left unchanged.
func (c *Conversation) ClearContext() { c.sess.ClearHistory() }
