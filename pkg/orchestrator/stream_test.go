package orchestrator

import (
	"strings"
	"testing"
	"time"

	"github.com/raczooby/voiceturn/pkg/logging"
	"github.com/raczooby/voiceturn/pkg/metrics"
	"github.com/raczooby/voiceturn/pkg/session"
	"github.com/raczooby/voiceturn/pkg/stt"
)

func newTestOrchestrator(llmProvider *fakeLLM, ttsProvider *fakeTTS) *Orchestrator {
	return New(Providers{
		LLM:          llmProvider,
		LLMStreaming: llmProvider,
		TTS:          ttsProvider,
	}, metrics.NewRecorder(nil), logging.NoOp{}, DefaultConfig())
}

func waitForEvent(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	for {
		select {
		case e := <-events:
			if e.Type == want {
				return e
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

// S1: a clean turn produces user:spoke, agent:spoke, and a metrics event,
// and the response (shorter than TTSMinChars) is sent as one chunk.
func TestStreamCleanTurn(t *testing.T) {
	events := make(chan Event, 32)
	orch := newTestOrchestrator(&fakeLLM{streamText: "Hello there."}, &fakeTTS{})
	sess := session.New(10)
	sink := &fakeSink{}
	stream := orch.NewStream(sess, sink, func(e Event) { events <- e })

	waitForEvent(t, events, EventSessionStarted)

	stream.OnFinal("Hi there, my name is João.", stt.TimingMetrics{
		StartTime:   time.Now(),
		RealLatency: 100 * time.Millisecond,
	})

	userEvt := waitForEvent(t, events, EventUserSpoke)
	if userEvt.Data.(string) != "Hi there, my name is João." {
		t.Fatalf("unexpected user:spoke text: %v", userEvt.Data)
	}

	waitForEvent(t, events, EventAgentSpoke)
	metricsEvt := waitForEvent(t, events, EventMetrics)
	bd, ok := metricsEvt.Data.(session.LatencyBreakdown)
	if !ok {
		t.Fatalf("expected LatencyBreakdown payload, got %T", metricsEvt.Data)
	}
	if bd.Total != bd.STT+bd.LLM+bd.TTS {
		t.Fatalf("total latency not additive: %+v", bd)
	}

	deadline := time.Now().Add(time.Second)
	for stream.State() != Idle && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if stream.State() != Idle {
		t.Fatalf("expected Idle once the turn completes, got %v", stream.State())
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.chunks) != 1 {
		t.Fatalf("expected exactly one chunk for a sub-MinChars reply, got %d", len(sink.chunks))
	}
	if string(sink.chunks[0]) != "Hello there." {
		t.Fatalf("unexpected chunk text: %q", sink.chunks[0])
	}
	if sink.ended == 0 {
		t.Fatal("expected EndStream to be called")
	}
}

// S4: partials/finals that arrive during Greeting are absorbed into the
// greeting buffer instead of starting a turn.
func TestStreamGreetingAbsorbsPartial(t *testing.T) {
	events := make(chan Event, 32)
	orch := newTestOrchestrator(&fakeLLM{streamText: "ok"}, &fakeTTS{})
	sess := session.New(10)
	stream := orch.NewStream(sess, &fakeSink{}, func(e Event) { events <- e })

	stream.StartGreeting("Hi, this is Ana.")
	if stream.State() != Greeting {
		t.Fatalf("expected Greeting state immediately, got %v", stream.State())
	}

	stream.OnPartial("Alô?")

loop:
	for {
		select {
		case e := <-events:
			if e.Type == EventUserSpoke {
				t.Fatal("unexpected user:spoke while greeting is playing")
			}
		case <-time.After(150 * time.Millisecond):
			break loop
		}
	}

	if sess.GreetingBuffer != "Alô?" {
		t.Fatalf("expected greeting buffer to capture the partial, got %q", sess.GreetingBuffer)
	}
}

// S3: a continuation cancels the pre-playback turn and merges with the next
// final into one user:spoke.
func TestContinuationMergesPendingText(t *testing.T) {
	orch := newTestOrchestrator(&fakeLLM{streamText: "thinking"}, &fakeTTS{})
	sess := session.New(10)
	stream := orch.NewStream(sess, &fakeSink{}, nil)

	stream.mu.Lock()
	stream.state = Processing
	stream.current = &session.Turn{ID: "t1", UserText: "Tenho uma loja."}
	stream.hasStartedPlayback = false
	stream.mu.Unlock()

	stream.OnPartial("de cosméticos")

	stream.mu.Lock()
	pending, state := stream.pendingText, stream.state
	stream.mu.Unlock()
	if state != Idle {
		t.Fatalf("expected cancel to return state to Idle, got %v", state)
	}
	if pending != "Tenho uma loja." {
		t.Fatalf("expected pendingText to hold the prior turn's text, got %q", pending)
	}

	events := make(chan Event, 32)
	stream.mu.Lock()
	stream.onEvent = func(e Event) { events <- e }
	stream.mu.Unlock()

	stream.OnFinal("de cosméticos.", stt.TimingMetrics{StartTime: time.Now()})

	userEvt := waitForEvent(t, events, EventUserSpoke)
	want := "Tenho uma loja. de cosméticos."
	if userEvt.Data.(string) != want {
		t.Fatalf("expected merged continuation text %q, got %q", want, userEvt.Data)
	}
}

// Barge-in: interrupting mid-speech stops playback, records only the agent
// text handed to TTS so far, and returns to Idle with the grace period armed.
func TestOnPlaybackInterruptedRecordsSpokenPrefix(t *testing.T) {
	orch := newTestOrchestrator(&fakeLLM{}, &fakeTTS{})
	sess := session.New(10)
	sink := &fakeSink{}
	events := make(chan Event, 32)
	stream := orch.NewStream(sess, sink, func(e Event) { events <- e })

	turn := &session.Turn{ID: "t1", UserText: "tell me a story", AgentText: "Once upon a"}
	stream.mu.Lock()
	stream.state = Speaking
	stream.hasStartedPlayback = true
	stream.current = turn
	stream.mu.Unlock()

	stream.OnPlaybackInterrupted()

	if stream.State() != Idle {
		t.Fatalf("expected Idle after barge-in, got %v", stream.State())
	}
	if !turn.Interrupted {
		t.Fatal("expected turn.Interrupted to be true")
	}

	hist := sess.ContextCopy()
	if len(hist) != 2 || hist[0].Content != "tell me a story" || hist[1].Content != "Once upon a" {
		t.Fatalf("expected only the spoken prefix recorded, got %+v", hist)
	}

	if sink.stopped == 0 {
		t.Fatal("expected StopPlayback to be called")
	}

	waitForEvent(t, events, EventPlaybackInterrupted)

	stream.mu.Lock()
	grace := stream.bargeInGraceUntil
	stream.mu.Unlock()
	if !grace.After(time.Now()) {
		t.Fatal("expected the barge-in grace period to be armed")
	}
}

// After barge-in, a final landing inside the grace window is dropped.
func TestFinalDroppedDuringBargeInGraceWindow(t *testing.T) {
	orch := newTestOrchestrator(&fakeLLM{streamText: "reply"}, &fakeTTS{})
	sess := session.New(10)
	events := make(chan Event, 32)
	stream := orch.NewStream(sess, &fakeSink{}, func(e Event) { events <- e })

	stream.mu.Lock()
	stream.bargeInGraceUntil = time.Now().Add(time.Hour)
	stream.mu.Unlock()

	stream.OnFinal("Espera, eu ia dizer outra coisa.", stt.TimingMetrics{StartTime: time.Now()})

drain:
	for {
		select {
		case e := <-events:
			if e.Type == EventUserSpoke {
				t.Fatal("expected final inside grace window to be dropped")
			}
		case <-time.After(100 * time.Millisecond):
			break drain
		}
	}
}

func TestIsNoiseFiltersEchoAndRepeats(t *testing.T) {
	orch := newTestOrchestrator(&fakeLLM{}, &fakeTTS{})
	sess := session.New(10)
	stream := orch.NewStream(sess, &fakeSink{}, nil)

	cases := []struct {
		text  string
		noise bool
	}{
		{"hi", false},
		{"a", true},
		{"uhum", true},
		{"Hummm", true},
		{"oi oi oi", true},
		{"no no no no", true},
		{"tell me a story please", false},
	}
	for _, c := range cases {
		if got := stream.isNoise(c.text); got != c.noise {
			t.Errorf("isNoise(%q) = %v, want %v", c.text, got, c.noise)
		}
	}
}

func TestIsNoiseRejectsEchoOfAgentReply(t *testing.T) {
	orch := newTestOrchestrator(&fakeLLM{}, &fakeTTS{})
	sess := session.New(10)
	sess.AddMessage(session.RoleAgent, "Beleza, vamos marcar para amanhã então.")
	stream := orch.NewStream(sess, &fakeSink{}, nil)

	if !stream.isNoise("vamos marcar para amanhã") {
		t.Fatal("expected substring of a recent agent reply to be treated as echo noise")
	}
}

func TestChunkerIntegrationForcesBreakOnLongReply(t *testing.T) {
	orch := newTestOrchestrator(&fakeLLM{streamText: strings.Repeat("word ", 80)}, &fakeTTS{})
	sess := session.New(10)
	sink := &fakeSink{}
	events := make(chan Event, 32)
	stream := orch.NewStream(sess, sink, func(e Event) { events <- e })

	stream.OnFinal("tell me something long", stt.TimingMetrics{StartTime: time.Now()})
	waitForEvent(t, events, EventAgentSpoke)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.chunks) < 2 {
		t.Fatalf("expected a long reply to be split into multiple chunks, got %d", len(sink.chunks))
	}
}
