package audiogateway

import (
	"sync"
	"testing"
	"time"

	"github.com/raczooby/voiceturn/pkg/echo"
)

type fakeOutput struct {
	mu      sync.Mutex
	written []byte
	closed  bool
}

func (f *fakeOutput) Write(pcm []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, pcm...)
	return len(pcm), nil
}

func (f *fakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeOutput) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func silentFrame(n int) []byte { return make([]byte, n*2) }

func loudMicFrame(n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(25000)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// mediumLoudFrame is above the barge-in multiplier threshold but well below
// the very-high-energy bypass threshold.
func mediumLoudFrame(n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(3500)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func TestStopPlaybackIsIdempotent(t *testing.T) {
	out := &fakeOutput{}
	g := New(DefaultConfig(), out, echo.New(0))

	g.StopPlayback()
	g.StopPlayback()
	if g.IsPlaying() {
		t.Fatal("expected not playing")
	}
}

func TestPlayOneshotFeedsEchoReference(t *testing.T) {
	out := &fakeOutput{}
	canceller := echo.New(0)
	g := New(DefaultConfig(), out, canceller)

	pcm := loudMicFrame(800)
	if err := g.PlayOneshot(pcm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.len() == 0 {
		t.Fatal("expected oneshot audio written to output")
	}
	if g.IsPlaying() {
		t.Fatal("expected playback to end synchronously after oneshot returns")
	}
	if !canceller.Process(pcm).IsEcho {
		t.Fatal("expected oneshot audio to be fed to the echo canceller as reference")
	}
}

func TestPushStreamChunkFlushesWithoutPreBufferFill(t *testing.T) {
	out := &fakeOutput{}
	cfg := DefaultConfig()
	cfg.PreBufferMS = 10000 // never fills within the test
	g := New(cfg, out, echo.New(0))

	payload := loudMicFrame(100)
	g.PushStreamChunk(payload)
	g.EndStream()

	deadline := time.Now().Add(2 * time.Second)
	for g.IsPlaying() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if out.len() == 0 {
		t.Fatal("expected queued bytes to be flushed in one go on end_stream")
	}
}

func TestBargeInConfirmsAfterConsecutiveLoudFrames(t *testing.T) {
	out := &fakeOutput{}
	cfg := DefaultConfig()
	cfg.BargeInConfirmFrames = 2
	g := New(cfg, out, echo.New(0))

	var interrupted bool
	g.OnInterrupted(func() { interrupted = true })

	cfg2 := cfg
	_ = cfg2
	g.mu.Lock()
	g.playing = true
	g.mu.Unlock()

	g.PushMicFrame(mediumLoudFrame(160))
	if interrupted {
		t.Fatal("did not expect barge-in confirmed after one frame")
	}
	g.PushMicFrame(mediumLoudFrame(160))
	if !interrupted {
		t.Fatal("expected barge-in confirmed after BargeInConfirmFrames consecutive loud frames")
	}
	if g.IsPlaying() {
		t.Fatal("expected playback stopped on confirmed barge-in")
	}
}

func TestVeryHighEnergyBypassesCounter(t *testing.T) {
	out := &fakeOutput{}
	cfg := DefaultConfig()
	cfg.BargeInConfirmFrames = 10
	g := New(cfg, out, echo.New(0))

	var interrupted bool
	g.OnInterrupted(func() { interrupted = true })

	g.mu.Lock()
	g.playing = true
	g.mu.Unlock()

	// A single very-high-energy frame should bypass the counter entirely.
	g.PushMicFrame(loudMicFrame(160))
	if !interrupted {
		t.Fatal("expected very-high-energy frame to confirm barge-in immediately")
	}
}

func TestQuietFramesDoNotTriggerBargeIn(t *testing.T) {
	out := &fakeOutput{}
	g := New(DefaultConfig(), out, echo.New(0))
	g.mu.Lock()
	g.playing = true
	g.mu.Unlock()

	var interrupted bool
	g.OnInterrupted(func() { interrupted = true })

	for i := 0; i < 10; i++ {
		g.PushMicFrame(silentFrame(160))
	}
	if interrupted {
		t.Fatal("did not expect barge-in from silent frames")
	}
}
