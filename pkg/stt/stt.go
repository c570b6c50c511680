// Package stt defines the STT Stream Adapter contract (C3): a persistent
// streaming transcription session with precise timing semantics, plus the
// simpler batch contract used as a fallback when no streaming provider is
// configured.
package stt

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/raczooby/voiceturn/pkg/session"
)

// TimingMetrics carries the precise latency semantics the orchestrator
// needs for per-turn accounting.
type TimingMetrics struct {
	StartTime       time.Time
	FirstPartialTime time.Time
	CommitTime      time.Time

	// RealLatency = FirstPartialTime - StartTime: the metric representing
	// user-perceived STT lag.
	RealLatency time.Duration
	// SpeechDuration = CommitTime - VADWait - RealLatency. Reported but
	// never summed into the turn-latency total.
	SpeechDuration time.Duration
	VADWait        time.Duration
}

// TranscriptionResult is emitted by a streaming provider on commit (final).
type TranscriptionResult struct {
	Text    string
	Lang    session.Language
	Timing  TimingMetrics
}

// Provider is the batch (non-streaming) STT contract.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte, lang session.Language) (string, error)
	Name() string
}

// StreamingProvider is the C3 contract: a long-lived transport with partial
// and final transcript callbacks.
type StreamingProvider interface {
	Provider

	// Open establishes the transport for sessionID. feedAudio sends one
	// frame; it must be non-blocking. onPartial/onFinal are invoked as
	// transcripts arrive; onFinal additionally carries TimingMetrics.
	Open(ctx context.Context, sessionID string, lang session.Language, onPartial func(text string), onFinal func(text string, timing TimingMetrics)) (feedAudio func([]byte) error, err error)

	// ResetTimingOnBargein clears the start-of-speech time so audio sent
	// during agent playback is not counted as user latency.
	ResetTimingOnBargein()

	// SetAgentSpeaking is a hint the adapter may use for internal filtering.
	SetAgentSpeaking(speaking bool)

	// IsConnected lets callers short-circuit sends during reconnect.
	IsConnected() bool

	Close() error
}

// ReconnectPolicy builds the exponential backoff policy C3 uses for
// automatic reconnection, capped at maxAttempts via backoff.WithMaxRetries.
func ReconnectPolicy(maxAttempts uint64) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 250 * time.Millisecond
	eb.MaxInterval = 10 * time.Second
	eb.MaxElapsedTime = 0 // bounded by attempt count instead of elapsed time
	// WithMaxRetries counts retries after the first attempt.
	retries := uint64(0)
	if maxAttempts > 0 {
		retries = maxAttempts - 1
	}
	return backoff.WithMaxRetries(eb, retries)
}

// Reconnect runs connect with ReconnectPolicy, retrying on error until it
// succeeds, the attempt cap is reached, or ctx is cancelled.
func Reconnect(ctx context.Context, maxAttempts uint64, connect func() error) error {
	return backoff.Retry(func() error {
		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		default:
		}
		return connect()
	}, backoff.WithContext(ReconnectPolicy(maxAttempts), ctx))
}

// KeepaliveInterval is the keepalive period for C3 adapters. Only the
// constant is defined here: DeepgramStreaming does not send keepalive frames.
const KeepaliveInterval = 10 * time.Second
