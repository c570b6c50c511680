// Package orchestrator implements the Turn Orchestrator (C4): the central
// state machine that consumes STT transcripts, drives LLM token streaming,
// chunk-slices generated text for TTS, handles barge-in, continuation
// detection and cancel-and-reprocess, and records per-turn latency.
package orchestrator

import (
	"time"

	"github.com/raczooby/voiceturn/pkg/logging"
	"github.com/raczooby/voiceturn/pkg/session"
)

// Logger is the structured logging contract every component depends on.
type Logger = logging.Logger

// SessionState is the turn state machine's four live states plus the
// terminal Ended state: one explicit, exhaustive value instead of a
// combination of isSpeaking/isThinking booleans.
type SessionState int

const (
	// Idle: no in-flight LLM or TTS; listening for user speech.
	Idle SessionState = iota
	// Greeting: the initial agent utterance is playing; barge-in is
	// disabled; incoming partials/finals are captured into the session's
	// greeting buffer but do not trigger processing.
	Greeting
	// Processing: a final transcript was received and the LLM is
	// generating; no playback has started yet for this turn.
	Processing
	// Speaking: the first TTS chunk has been dispatched to the playback
	// sink.
	Speaking
	// Ended: terminal; the session is closed.
	Ended
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Greeting:
		return "Greeting"
	case Processing:
		return "Processing"
	case Speaking:
		return "Speaking"
	case Ended:
		return "Ended"
	default:
		return "Unknown"
	}
}

// EventType tags an event published by the core for observation by the
// enclosing application, logging, and test harnesses.
type EventType string

const (
	EventSessionStarted      EventType = "session:started"
	EventPartialTranscript   EventType = "partial:transcript"
	EventUserSpoke           EventType = "user:spoke"
	EventAgentSpoke          EventType = "agent:spoke"
	EventMetrics             EventType = "metrics"
	EventPlaybackInterrupted EventType = "playback:interrupted"
	EventSessionEnded        EventType = "session:ended"
	EventError               EventType = "error"
)

// Event is one published occurrence, carrying whatever payload its type
// implies (a string for transcript/speech events, a session.LatencyBreakdown
// for metrics, an error for EventError, a SessionSummary for
// EventSessionEnded).
type Event struct {
	Type      EventType
	SessionID string
	Data      interface{}
}

// SessionSummary accompanies EventSessionEnded.
type SessionSummary struct {
	TurnCount           int
	AverageTotalLatency int64
}

// PlaybackSink is the subset of the Audio I/O Gateway (C1) that C4 drives
// directly: pushing TTS PCM, ending a stream, playing a short
// acknowledgment, and the synchronous/idempotent stop used on barge-in and
// session close. audiogateway.Gateway satisfies this.
type PlaybackSink interface {
	PushStreamChunk(pcm []byte)
	EndStream()
	PlayOneshot(pcm []byte) error
	StopPlayback()
	IsPlaying() bool
	ResetInterruptState()

	// SetBargeInEnabled toggles barge-in evaluation for the audio currently
	// playing. The Greeting state disables it (§4.4) without muting the
	// microphone: callers re-enable it once the greeting yields to Idle.
	SetBargeInEnabled(enabled bool)
}

// Config tunes the orchestrator's turn-taking and history settings. It is
// used as given: zero-value fields are not replaced by DefaultConfig's
// values. TTSMinChars, TTSMaxChars and BottleneckThresholdMS are not read:
// the chunker always uses tts.MinChars/tts.MaxChars and the latency recorder
// always uses metrics.BottleneckThresholdMS.
type Config struct {
	HistoryLimit int

	TTSMinChars int
	TTSMaxChars int

	BargeInGracePeriodMS int
	CancelLogDebounceMS  int

	BottleneckThresholdMS int64

	DefaultVoice    session.Voice
	DefaultLanguage session.Language

	SystemPrompt string
}

// DefaultConfig returns the orchestrator's recommended tuning defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:          20,
		TTSMinChars:           80,
		TTSMaxChars:           250,
		BargeInGracePeriodMS:  800,
		CancelLogDebounceMS:   500,
		BottleneckThresholdMS: 2000,
		DefaultVoice:          session.VoiceF1,
		DefaultLanguage:       session.LanguageEn,
	}
}

func msBetween(start, end time.Time) int64 {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start).Milliseconds()
}
