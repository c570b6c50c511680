package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raczooby/voiceturn/pkg/llm"
	"github.com/raczooby/voiceturn/pkg/session"
	"github.com/raczooby/voiceturn/pkg/stt"
	"github.com/raczooby/voiceturn/pkg/tts"
)

// ackPhrase is the short listening acknowledgment played at most once per
// continuation event (behavior (b)).
const ackPhrase = "uhum"

var errTurnCancelled = errors.New("orchestrator: turn cancelled")

// Stream is the C4 state machine for one live call: it consumes STT
// partial/final events, drives the LLM and TTS pipeline, reacts to
// playback interruption, and records per-turn metrics. A Stream is safe
// for concurrent use by the callback-driven collaborators (C1/C3) that own
// it, generation counters invalidate any in-flight goroutine's callbacks
// once a cancel, barge-in, or close has moved the state machine on.
type Stream struct {
	mu sync.Mutex

	orch    *Orchestrator
	sess    *session.Session
	sink    PlaybackSink
	onEvent func(Event)

	state SessionState

	// generation increments on every cancel, barge-in, and close; any
	// goroutine still producing LLM tokens or TTS chunks for an older
	// generation silently stops forwarding them.
	generation      uint64
	cancelRequested bool

	// pendingText merges continuation/cancel-and-reprocess and
	// post-turn-arrived finals into the next turn; capturedDuringPlayback
	// is the most recent non-noise partial seen while agent audio was
	// in flight, used both for corruption recovery and barge-in capture.
	pendingText            string
	capturedDuringPlayback string

	lastPartialAt time.Time

	prebuiltMessages      []llm.Message
	prebuiltPartialPrefix string

	hasStartedPlayback bool
	bargeInGraceUntil  time.Time
	lastAckAt          time.Time

	current *session.Turn
}

func newStream(orch *Orchestrator, sess *session.Session, sink PlaybackSink, onEvent func(Event)) *Stream {
	s := &Stream{
		orch:    orch,
		sess:    sess,
		sink:    sink,
		onEvent: onEvent,
		state:   Idle,
	}
	s.publish(EventSessionStarted, nil)
	return s
}

func (s *Stream) publish(t EventType, data interface{}) {
	if s.onEvent == nil {
		return
	}
	s.onEvent(Event{Type: t, SessionID: s.sess.ID, Data: data})
}

func (s *Stream) isCurrentGeneration(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen && !s.cancelRequested
}

// State returns the current SessionState. Exposed mainly for tests.
func (s *Stream) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartGreeting plays the session's opening utterance and disables barge-in
// on the sink while state is Greeting; any partials/finals that arrive are
// absorbed into the session's greeting buffer instead of starting a turn.
func (s *Stream) StartGreeting(text string) {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return
	}
	s.generation++
	gen := s.generation
	s.cancelRequested = false
	s.state = Greeting
	s.hasStartedPlayback = false
	s.mu.Unlock()

	// Barge-in disabled for the greeting does not mean the microphone is
	// muted: mic frames must still reach C3 so greeting-window speech is
	// captured into the session's greeting buffer (behavior §4.4 Greeting,
	// scenario S4).
	s.sink.SetBargeInEnabled(false)

	go s.runGreeting(gen, text)
}

func (s *Stream) runGreeting(gen uint64, text string) {
	var chunker tts.Chunker
	for _, chunk := range chunker.Push(text) {
		s.dispatchGreetingChunk(gen, chunk)
	}
	if remainder := chunker.Flush(); remainder != "" {
		s.dispatchGreetingChunk(gen, remainder)
	}

	s.mu.Lock()
	if s.generation == gen {
		s.state = Idle
		s.hasStartedPlayback = false
		s.mu.Unlock()
		s.sink.EndStream()
		s.sink.SetBargeInEnabled(true)
		return
	}
	s.mu.Unlock()
}

func (s *Stream) dispatchGreetingChunk(gen uint64, text string) {
	if !s.isCurrentGeneration(gen) {
		return
	}
	err := s.orch.providers.TTS.StreamSynthesize(context.Background(), text, s.sess.Voice(), s.sess.Language(), func(pcm []byte) error {
		if !s.isCurrentGeneration(gen) {
			return errTurnCancelled
		}
		s.mu.Lock()
		s.hasStartedPlayback = true
		s.mu.Unlock()
		s.sink.PushStreamChunk(pcm)
		return nil
	})
	if err != nil && !errors.Is(err, errTurnCancelled) {
		s.orch.logger.Warn("greeting tts chunk failed", "sessionID", s.sess.ID, "error", err)
	}
}

// OnPartial handles one partial transcript from C3 (behaviors (a) and (b),
// plus greeting-buffer capture).
func (s *Stream) OnPartial(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Ended {
		return
	}
	s.publish(EventPartialTranscript, text)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	if s.state == Greeting {
		s.sess.GreetingBuffer = strings.TrimSpace(s.sess.GreetingBuffer + " " + trimmed)
		return
	}

	if s.hasStartedPlayback {
		if !s.isNoise(trimmed) {
			s.capturedDuringPlayback = trimmed
		}
	}

	switch s.state {
	case Idle:
		if qualifiesForPrebuild(trimmed, s.lastPartialAt) {
			s.prebuiltMessages = s.buildMessagesLocked(trimmed)
			s.prebuiltPartialPrefix = trimmed
		}
		s.lastPartialAt = time.Now()
	case Processing:
		if !s.hasStartedPlayback && !s.isNoise(trimmed) {
			s.cancelCurrentLocked()
		}
	}
}

// cancelCurrentLocked implements the continuation/cancel-and-reprocess path
// (behavior (b)): it discards the in-flight pre-playback turn, stashes its
// user text to be merged with the next final, and plays a debounced
// listening acknowledgment.
func (s *Stream) cancelCurrentLocked() {
	if s.current == nil {
		return
	}
	s.pendingText = s.current.UserText
	s.cancelRequested = true
	s.generation++
	s.state = Idle
	s.hasStartedPlayback = false
	s.current = nil
	s.maybePlayAckLocked()
}

func (s *Stream) maybePlayAckLocked() {
	debounce := time.Duration(s.orch.config.CancelLogDebounceMS) * time.Millisecond
	now := time.Now()
	if !s.lastAckAt.IsZero() && now.Sub(s.lastAckAt) < debounce {
		return
	}
	s.lastAckAt = now
	voice, lang := s.sess.Voice(), s.sess.Language()
	go s.playAck(voice, lang)
}

func (s *Stream) playAck(voice session.Voice, lang session.Language) {
	pcm, err := s.orch.providers.TTS.SynthesizeAck(context.Background(), ackPhrase, voice, lang)
	if err != nil {
		s.orch.logger.Warn("ack synthesis failed", "sessionID", s.sess.ID, "error", err)
		return
	}
	if err := s.sink.PlayOneshot(pcm); err != nil {
		s.orch.logger.Warn("ack playback failed", "sessionID", s.sess.ID, "error", err)
	}
}

// OnFinal handles one final transcript from C3: corruption recovery,
// greeting/continuation merges, the barge-in grace window, and the
// Idle -> Processing transition.
func (s *Stream) OnFinal(text string, timing stt.TimingMetrics) {
	s.mu.Lock()

	if s.state == Ended {
		s.mu.Unlock()
		return
	}

	if !s.bargeInGraceUntil.IsZero() && time.Now().Before(s.bargeInGraceUntil) {
		s.orch.logger.Debug("dropping final inside barge-in grace window", "sessionID", s.sess.ID, "text", text)
		s.mu.Unlock()
		return
	}

	trimmed := strings.TrimSpace(text)

	if s.state == Greeting {
		s.sess.GreetingBuffer = strings.TrimSpace(s.sess.GreetingBuffer + " " + trimmed)
		s.mu.Unlock()
		return
	}

	// (e) corruption recovery: a final that looks corrupted/echoed is
	// replaced by the most recent usable partial captured during playback,
	// when one exists; otherwise it is dropped like any other noise input.
	if s.isNoise(trimmed) {
		if s.capturedDuringPlayback != "" {
			trimmed = s.capturedDuringPlayback
			s.capturedDuringPlayback = ""
		} else {
			s.mu.Unlock()
			return
		}
	}

	if buf := s.sess.GreetingBuffer; buf != "" {
		trimmed = strings.TrimSpace(buf + " " + trimmed)
		s.sess.GreetingBuffer = ""
	}
	if s.pendingText != "" {
		trimmed = strings.TrimSpace(s.pendingText + " " + trimmed)
		s.pendingText = ""
	}

	if s.state == Processing || s.state == Speaking {
		// A final landed for a turn that is already live (no cancelling
		// partial preceded it); queue it to start right after the current
		// turn yields instead of dropping it.
		s.pendingText = trimmed
		s.mu.Unlock()
		return
	}

	s.startTurnLocked(trimmed, timing)
	s.mu.Unlock()
}

func (s *Stream) buildMessagesLocked(userText string) []llm.Message {
	history := s.sess.ContextCopy()
	msgs := llm.FromHistory(history)
	if s.orch.config.SystemPrompt != "" && (len(msgs) == 0 || msgs[0].Role != llm.RoleSystem) {
		msgs = append([]llm.Message{{Role: llm.RoleSystem, Content: s.orch.config.SystemPrompt}}, msgs...)
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: userText})
}

// messagesForLocked reuses the optimistic prebuild from behavior (a) when
// the final shares the prebuilt partial's prefix, replacing only the final
// user message's content.
func (s *Stream) messagesForLocked(text string) []llm.Message {
	if s.prebuiltMessages != nil && s.prebuiltPartialPrefix != "" && strings.HasPrefix(text, s.prebuiltPartialPrefix) {
		msgs := make([]llm.Message, len(s.prebuiltMessages))
		copy(msgs, s.prebuiltMessages)
		msgs[len(msgs)-1].Content = text
		s.prebuiltMessages = nil
		s.prebuiltPartialPrefix = ""
		return msgs
	}
	s.prebuiltMessages = nil
	s.prebuiltPartialPrefix = ""
	return s.buildMessagesLocked(text)
}

func (s *Stream) startTurnLocked(text string, timing stt.TimingMetrics) {
	s.generation++
	gen := s.generation
	s.cancelRequested = false
	s.hasStartedPlayback = false
	s.capturedDuringPlayback = ""
	s.state = Processing

	turn := &session.Turn{
		ID:       uuid.NewString(),
		STTStart: timing.StartTime,
		STTFinal: time.Now(),
		UserText: text,
	}
	turn.Latency.SpeechDurationMS = timing.SpeechDuration.Milliseconds()
	turn.Latency.VADWaitMS = timing.VADWait.Milliseconds()
	turn.Latency.STT = timing.RealLatency.Milliseconds()
	s.current = turn

	messages := s.messagesForLocked(text)

	s.publish(EventUserSpoke, text)

	go s.runTurn(gen, turn, messages)
}

func (s *Stream) runTurn(gen uint64, turn *session.Turn, messages []llm.Message) {
	ctx := context.Background()

	s.mu.Lock()
	turn.LLMStart = time.Now()
	s.mu.Unlock()

	var chunker tts.Chunker
	firstToken := false

	emit := func(fragment string) {
		if fragment == "" || !s.isCurrentGeneration(gen) {
			return
		}
		if !firstToken {
			firstToken = true
			s.mu.Lock()
			turn.LLMFirstToken = time.Now()
			s.mu.Unlock()
		}
		for _, chunk := range chunker.Push(fragment) {
			s.dispatchChunk(gen, turn, chunk)
		}
	}

	var genErr error
	if s.orch.providers.LLMStreaming != nil {
		_, genErr = s.orch.providers.LLMStreaming.GenerateStream(ctx, messages, emit)
	} else {
		genErr = errors.New("no streaming llm provider configured")
	}

	if genErr != nil {
		s.orch.logger.Warn("llm stream failed, falling back to batch completion", "sessionID", s.sess.ID, "error", genErr)
		if !s.isCurrentGeneration(gen) {
			return
		}
		s.mu.Lock()
		turn.LLMStart = time.Now()
		s.mu.Unlock()

		text, err := s.orch.providers.LLM.Complete(ctx, messages)
		if err != nil {
			s.publish(EventError, fmt.Errorf("%w: %v", ErrLLMFailed, err))
			s.finishTurn(gen, turn)
			return
		}
		if !firstToken {
			firstToken = true
			s.mu.Lock()
			turn.LLMFirstToken = time.Now()
			s.mu.Unlock()
		}
		for _, chunk := range chunker.Push(text) {
			s.dispatchChunk(gen, turn, chunk)
		}
	}

	if remainder := chunker.Flush(); remainder != "" {
		s.dispatchChunk(gen, turn, remainder)
	}

	s.finishTurn(gen, turn)
}

// dispatchChunk synthesizes one TTS chunk and forwards every PCM frame to
// the playback sink in order; chunks for one turn run strictly
// sequentially since this is the only goroutine producing them.
func (s *Stream) dispatchChunk(gen uint64, turn *session.Turn, text string) {
	if !s.isCurrentGeneration(gen) {
		return
	}

	s.mu.Lock()
	turn.AgentText += text
	if turn.TTSStart.IsZero() {
		turn.TTSStart = time.Now()
	}
	s.mu.Unlock()

	err := s.orch.providers.TTS.StreamSynthesize(context.Background(), text, s.sess.Voice(), s.sess.Language(), func(pcm []byte) error {
		if !s.isCurrentGeneration(gen) {
			return errTurnCancelled
		}
		s.mu.Lock()
		if turn.TTSFirstChunk.IsZero() {
			turn.TTSFirstChunk = time.Now()
		}
		first := !s.hasStartedPlayback
		if first {
			s.hasStartedPlayback = true
			turn.HasStartedPlayback = true
			turn.PlaybackStart = time.Now()
			s.state = Speaking
		}
		s.mu.Unlock()
		s.sink.PushStreamChunk(pcm)
		return nil
	})
	if err != nil && !errors.Is(err, errTurnCancelled) {
		s.orch.logger.Warn("tts chunk failed, skipping", "sessionID", s.sess.ID, "error", err)
		s.publish(EventError, fmt.Errorf("%w: %v", ErrTTSFailed, err))
	}
}

// finishTurn completes a turn that ran to the end of its LLM/TTS pipeline
// without being superseded by a cancel or barge-in. Per behavior (g) and
// the turn-recording invariant, the agent reply is appended to history and
// recorded only if at least one TTS chunk actually reached the sink.
func (s *Stream) finishTurn(gen uint64, turn *session.Turn) {
	s.mu.Lock()
	if s.generation != gen {
		// Superseded by a cancel-before-audio or barge-in; that path
		// already finalized or discarded this turn.
		s.mu.Unlock()
		return
	}
	turn.PlaybackEnd = time.Now()
	started := s.hasStartedPlayback
	s.state = Idle
	s.hasStartedPlayback = false
	s.current = nil
	pending := s.pendingText
	s.mu.Unlock()

	s.sink.EndStream()
	if started {
		s.finalizeTurn(turn)
	}

	if pending != "" {
		s.reprocessPending(pending)
	}
}

func (s *Stream) reprocessPending(text string) {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return
	}
	s.pendingText = ""
	now := time.Now()
	s.startTurnLocked(text, stt.TimingMetrics{StartTime: now, FirstPartialTime: now})
	s.mu.Unlock()
}

// finalizeTurn appends the turn to history/Turns and emits agent:spoke and
// metrics, but only when audio was actually produced for it — an
// interrupted or cancelled turn with no spoken text is never recorded.
func (s *Stream) finalizeTurn(turn *session.Turn) {
	if turn == nil || turn.AgentText == "" {
		return
	}
	turn.Latency.LLM = msBetween(turn.LLMStart, turn.LLMFirstToken)
	turn.Latency.TTS = msBetween(turn.TTSStart, turn.TTSFirstChunk)
	turn.Latency.TimeToFirstAudio = msBetween(turn.STTFinal, turn.PlaybackStart)

	s.sess.AddMessage(session.RoleUser, turn.UserText)
	s.sess.AddMessage(session.RoleAgent, turn.AgentText)

	bd := s.orch.metrics.Record(turn.Latency)
	turn.Latency = bd
	s.sess.AppendTurn(*turn)

	s.publish(EventAgentSpoke, turn.AgentText)
	s.publish(EventMetrics, bd)
}

// OnPlaybackInterrupted handles barge-in (behavior (c)): it stops playback,
// discards the in-flight turn's remaining generation, records the agent
// text already handed to TTS for this turn, arms the grace period, and
// resets to Idle.
func (s *Stream) OnPlaybackInterrupted() {
	s.mu.Lock()
	if s.state != Speaking && s.state != Greeting {
		s.mu.Unlock()
		return
	}
	wasGreeting := s.state == Greeting
	s.generation++
	s.cancelRequested = true
	s.bargeInGraceUntil = time.Now().Add(time.Duration(s.orch.config.BargeInGracePeriodMS) * time.Millisecond)

	turn := s.current
	captured := s.capturedDuringPlayback
	s.capturedDuringPlayback = ""
	if captured != "" && !wasGreeting {
		s.pendingText = captured
	}

	var greetingBuf string
	if wasGreeting {
		greetingBuf = s.sess.GreetingBuffer
		if captured != "" {
			greetingBuf = strings.TrimSpace(greetingBuf + " " + captured)
		}
		s.sess.GreetingBuffer = greetingBuf
	}

	s.state = Idle
	s.hasStartedPlayback = false
	s.current = nil
	s.mu.Unlock()

	s.sink.StopPlayback()
	if wasGreeting {
		s.sink.SetBargeInEnabled(true)
	}
	if sttp := s.orch.providers.STT; sttp != nil {
		sttp.ResetTimingOnBargein()
	}
	_ = s.orch.providers.TTS.Abort()

	s.publish(EventPlaybackInterrupted, nil)

	if turn != nil && !wasGreeting {
		turn.Interrupted = true
		turn.PlaybackEnd = time.Now()
		s.finalizeTurn(turn)
	}
}

// OnPlaybackEnded signals that the audio device finished draining the
// current stream. The state machine already returns to Idle as soon as the
// TTS generation loop completes queueing chunks (see finishTurn); this
// method exists to satisfy the external event contract for a playback
// sink that can report true device-drain completion, and is otherwise a
// no-op against the generation already in flight.
func (s *Stream) OnPlaybackEnded() {}

// Close ends the session: it stops playback, closes the STT provider if
// one was supplied, and publishes session:ended with the final summary.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.state == Ended {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.cancelRequested = true
	s.state = Ended
	s.mu.Unlock()

	s.sink.StopPlayback()
	if sttp := s.orch.providers.STT; sttp != nil {
		_ = sttp.Close()
	}
	s.sess.Close()

	s.publish(EventSessionEnded, SessionSummary{
		TurnCount:           len(s.sess.Turns),
		AverageTotalLatency: s.sess.AverageTotalLatencyMS(),
	})
}
