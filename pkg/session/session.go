// Package session holds the data model shared by every component of the
// voice orchestration engine: the conversation history, per-turn timing and
// the aggregate latency bookkeeping for a call.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Voice selects a synthesis voice understood by the configured TTS provider.
type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)

// Language is a BCP-47-ish language tag understood by the STT/LLM/TTS providers.
type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)

// Role tags a ConversationMessage. The wire role sent to LLM providers
// renders "agent" as "assistant".
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
)

// ConversationMessage is one entry of a session's ordered history.
type ConversationMessage struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// LatencyBreakdown is the per-turn timing record defined by the engine's
// metrics contract. All durations are in milliseconds.
//
//	stt   = real_latency (first audio frame of speech -> first partial)
//	llm   = llm_first_token - llm_start
//	tts   = tts_first_chunk - tts_start
//	ttfa  = playback_start - stt_end
//	total = stt + llm + tts
type LatencyBreakdown struct {
	STT               int64
	LLM               int64
	TTS               int64
	TimeToFirstAudio  int64
	Total             int64
	SpeechDurationMS  int64 // reported, never summed into Total
	VADWaitMS         int64 // reported, never summed into Total
	Bottleneck        bool
}

// Turn is one user utterance plus the agent reply it produced. Turns are
// append-only: once recorded, a Turn is never mutated.
type Turn struct {
	ID string

	STTStart       time.Time
	STTFinal       time.Time
	LLMStart       time.Time
	LLMFirstToken  time.Time
	TTSStart       time.Time
	TTSFirstChunk  time.Time
	PlaybackStart  time.Time
	PlaybackEnd    time.Time

	Interrupted       bool
	HasStartedPlayback bool

	UserText  string
	AgentText string

	Latency LatencyBreakdown
}

// Session is one call: one caller, one ordered history, one running set of
// aggregate latency counters. A Session owns its history exclusively; no
// other component may mutate it directly.
type Session struct {
	mu sync.RWMutex

	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Active    bool

	ProspectName string

	// GreetingBuffer accumulates partial/final transcripts captured while the
	// initial greeting is playing (barge-in disabled); it is prepended to the
	// next real final transcript, see orchestrator state Greeting.
	GreetingBuffer string

	History     []ConversationMessage
	Turns       []Turn
	HistoryLimit int

	CurrentVoice    Voice
	CurrentLanguage Language

	aggregateTotal   int64
	aggregateCount   int64
}

// New creates an active session with a random id and the given history
// limit (the number of most-recent messages forwarded to the LLM).
func New(historyLimit int) *Session {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Session{
		ID:              uuid.NewString(),
		StartedAt:       time.Now(),
		Active:          true,
		HistoryLimit:    historyLimit,
		CurrentVoice:    VoiceF1,
		CurrentLanguage: LanguageEn,
	}
}

// AddMessage appends a message to history, trimming to HistoryLimit.
func (s *Session) AddMessage(role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, ConversationMessage{Role: role, Content: content, Timestamp: time.Now()})
	if len(s.History) > s.HistoryLimit {
		s.History = s.History[len(s.History)-s.HistoryLimit:]
	}
}

// ContextCopy returns a defensive copy of the current history.
func (s *Session) ContextCopy() []ConversationMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ConversationMessage, len(s.History))
	copy(out, s.History)
	return out
}

// ClearHistory drops all history but system messages, preserving instructions.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.History[:0:0]
	for _, m := range s.History {
		if m.Role == RoleSystem {
			kept = append(kept, m)
		}
	}
	s.History = kept
}

// AppendTurn records a completed turn and folds its latency into the
// session's running average.
func (s *Session) AppendTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Turns = append(s.Turns, t)
	s.aggregateTotal += t.Latency.Total
	s.aggregateCount++
}

// AverageTotalLatencyMS returns the incrementally-updated average of
// recorded turns' Total latency, or 0 if none have been recorded.
func (s *Session) AverageTotalLatencyMS() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.aggregateCount == 0 {
		return 0
	}
	return s.aggregateTotal / s.aggregateCount
}

// SetVoice updates the voice used for subsequent TTS calls.
func (s *Session) SetVoice(v Voice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentVoice = v
}

// SetLanguage updates the language used for subsequent STT/LLM/TTS calls.
func (s *Session) SetLanguage(l Language) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentLanguage = l
}

// Voice returns the session's current voice.
func (s *Session) Voice() Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentVoice
}

// Language returns the session's current language.
func (s *Session) Language() Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentLanguage
}

// Close marks the session ended.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Active = false
	s.EndedAt = time.Now()
}

// LastAgentReplies returns up to n most recent agent replies, most-recent
// last, used by the echo/noise filters (exact-substring-of-last-N check).
func (s *Session) LastAgentReplies(n int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for i := len(s.History) - 1; i >= 0 && len(out) < n; i-- {
		if s.History[i].Role == RoleAgent {
			out = append([]string{s.History[i].Content}, out...)
		}
	}
	return out
}
