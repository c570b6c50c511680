package orchestrator

import (
	"context"
	"strings"
	"sync"

	"github.com/raczooby/voiceturn/pkg/llm"
	"github.com/raczooby/voiceturn/pkg/session"
)

// fakeLLM is a minimal llm.Provider/llm.StreamingProvider double: it
// streams streamText word-by-word (or returns streamErr), and answers
// Complete with batchText/batchErr for the fallback path.
type fakeLLM struct {
	streamText string
	streamErr  error
	batchText  string
	batchErr   error
}

func (f *fakeLLM) Name() string { return "fake-llm" }

func (f *fakeLLM) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	return f.batchText, f.batchErr
}

func (f *fakeLLM) GenerateStream(ctx context.Context, messages []llm.Message, onChunk func(string)) (string, error) {
	if f.streamErr != nil {
		return "", f.streamErr
	}
	for _, w := range strings.Fields(f.streamText) {
		onChunk(w + " ")
	}
	return f.streamText, nil
}

// fakeTTS is a tts.Provider double: StreamSynthesize hands the text back as
// its own "pcm" payload in one call, so tests can assert on what text was
// actually dispatched to the sink.
type fakeTTS struct {
	mu         sync.Mutex
	abortCalls int
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string, voice session.Voice, lang session.Language) ([]byte, error) {
	return []byte(text), nil
}

func (f *fakeTTS) StreamSynthesize(ctx context.Context, text string, voice session.Voice, lang session.Language, onChunk func([]byte) error) error {
	return onChunk([]byte(text))
}

func (f *fakeTTS) SynthesizeAck(ctx context.Context, shortText string, voice session.Voice, lang session.Language) ([]byte, error) {
	return []byte(shortText), nil
}

func (f *fakeTTS) Abort() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortCalls++
	return nil
}

func (f *fakeTTS) Name() string { return "fake-tts" }

// fakeSink is a PlaybackSink double recording what reached it.
type fakeSink struct {
	mu       sync.Mutex
	chunks   [][]byte
	oneshots [][]byte
	ended    int
	stopped  int
	playing  bool
}

func (f *fakeSink) PushStreamChunk(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, pcm)
	f.playing = true
}

func (f *fakeSink) EndStream() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
	f.playing = false
}

func (f *fakeSink) PlayOneshot(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oneshots = append(f.oneshots, pcm)
	return nil
}

func (f *fakeSink) StopPlayback() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	f.playing = false
}

func (f *fakeSink) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeSink) ResetInterruptState() {}

func (f *fakeSink) SetBargeInEnabled(enabled bool) {}
