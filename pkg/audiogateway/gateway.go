// Package audiogateway implements the Audio I/O Gateway (C1): fixed-format
// full-duplex audio capture/playback with explicit barge-in semantics. It
// depends only on the AudioOutput collaborator interface (and, through the
// echo package, a Canceller) so it can be exercised without a real device.
package audiogateway

import (
	"bytes"
	"math"
	"sync"
	"time"

	"github.com/raczooby/voiceturn/pkg/echo"
)

// AudioOutput is the write-only playback sink collaborator.
type AudioOutput interface {
	Write(pcm []byte) (int, error)
	Close() error
}

// Mode selects which of C1's two voice-activity strategies drives
// downstream STT ingestion for a session.
type Mode int

const (
	// ModeExternal forwards every non-echo frame as-is to the streaming STT
	// consumer; the STT service owns utterance boundary detection.
	ModeExternal Mode = iota
	// ModeInternal accumulates frames with an internal energy detector and
	// emits whole utterances to a batch consumer.
	ModeInternal
)

// Config tunes VAD, barge-in and playback behavior. When OutputSampleRate is
// zero, New replaces the sample-format, energy, barge-in and playback fields
// with DefaultConfig's values; Mode, SilenceDurationMS and
// MinSpeechDurationMS are always used as given.
type Config struct {
	Mode Mode

	OutputSampleRate int
	BytesPerSample   int // 2 for 16-bit PCM

	EnergyThreshold        float64
	BargeInMultiplier      float64 // frame qualifies for barge-in counting above threshold*multiplier
	BargeInVeryHighFactor  float64 // bypasses the counter entirely (unambiguous speech)
	BargeInConfirmFrames   int     // consecutive qualifying frames to confirm barge-in
	SilenceDurationMS      int     // internal-mode utterance close
	MinSpeechDurationMS    int     // internal-mode: shorter utterances are dropped at speech end

	PreBufferMS      int
	DrainIntervalMS  int
	FadeInMS         int
	PlaybackCooldownMS int
	PlaybackRingMS   int
}

// DefaultConfig returns the gateway's recommended tuning defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                  ModeExternal,
		OutputSampleRate:      22050,
		BytesPerSample:        2,
		EnergyThreshold:       0.02,
		BargeInMultiplier:     3.0,
		BargeInVeryHighFactor: 8.0,
		BargeInConfirmFrames:  4,
		SilenceDurationMS:     500,
		MinSpeechDurationMS:   150,
		PreBufferMS:           400,
		DrainIntervalMS:       20,
		FadeInMS:              80,
		PlaybackCooldownMS:    300,
		PlaybackRingMS:        500,
	}
}

// Gateway owns the audio devices and playback queue; no other component may
// touch the playback queue directly — it may only call StopPlayback.
type Gateway struct {
	cfg      Config
	canceller *echo.Canceller
	out      AudioOutput

	frameSubs     []func([]byte)
	utteranceSubs []func([]byte)

	mu sync.Mutex

	playing         bool
	bargeInEnabled  bool
	interrupted     bool
	lastPlaybackEnd time.Time
	firstUtterChunk bool

	playbackRing    [][]byte
	playbackRingLen int
	consecutiveVoice int

	internalVAD       *RMSVAD
	internalBuf       *bytes.Buffer
	internalSpeakStart time.Time

	drainQueue   *bytes.Buffer
	drainBuf     bool // true once pre_buffer_bytes reached and drain loop started
	drainStop    chan struct{}
	streamActive bool

	onInterrupted func()
}

// New builds a Gateway writing playback PCM to out and consulting canceller
// for echo decisions.
func New(cfg Config, out AudioOutput, canceller *echo.Canceller) *Gateway {
	if cfg.OutputSampleRate == 0 {
		d := DefaultConfig()
		cfg.OutputSampleRate = d.OutputSampleRate
		cfg.BytesPerSample = d.BytesPerSample
		cfg.EnergyThreshold = d.EnergyThreshold
		cfg.BargeInMultiplier = d.BargeInMultiplier
		cfg.BargeInVeryHighFactor = d.BargeInVeryHighFactor
		cfg.BargeInConfirmFrames = d.BargeInConfirmFrames
		cfg.PreBufferMS = d.PreBufferMS
		cfg.DrainIntervalMS = d.DrainIntervalMS
		cfg.FadeInMS = d.FadeInMS
		cfg.PlaybackCooldownMS = d.PlaybackCooldownMS
		cfg.PlaybackRingMS = d.PlaybackRingMS
	}
	return &Gateway{
		cfg:            cfg,
		canceller:      canceller,
		out:            out,
		bargeInEnabled: true,
		internalVAD:    NewRMSVAD(cfg.EnergyThreshold, time.Duration(cfg.SilenceDurationMS)*time.Millisecond),
		internalBuf:    new(bytes.Buffer),
		drainQueue:     new(bytes.Buffer),
	}
}

// SetBargeInEnabled toggles whether active playback is evaluated for
// barge-in. The Turn Orchestrator disables this while a Greeting is
// playing: barge-in disabled does not mean the microphone is muted, so mic
// frames still reach the registered STT consumer instead of only being
// buffered in the playback ring.
func (g *Gateway) SetBargeInEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bargeInEnabled = enabled
}

// SubscribeFrames registers a consumer called for every non-echo mic frame
// (External mode).
func (g *Gateway) SubscribeFrames(cb func([]byte)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frameSubs = append(g.frameSubs, cb)
}

// SubscribeUtterance registers a consumer called when Internal-mode VAD
// closes an utterance.
func (g *Gateway) SubscribeUtterance(cb func([]byte)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.utteranceSubs = append(g.utteranceSubs, cb)
}

// OnInterrupted registers the callback invoked when a barge-in is confirmed.
func (g *Gateway) OnInterrupted(cb func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onInterrupted = cb
}

// PushMicFrame processes one captured frame: RMS, echo gating, barge-in
// evaluation, and routing to the registered consumer(s).
func (g *Gateway) PushMicFrame(frame []byte) {
	rms := calculateRMS(frame)

	g.mu.Lock()
	playing := g.playing
	bargeIn := g.bargeInEnabled
	g.mu.Unlock()

	if playing && bargeIn {
		g.appendPlaybackRing(frame)
		g.evaluateBargeIn(frame, rms)
		return // while playback is active, frames are only buffered until a barge-in is confirmed
	}

	// Either not playing, or playing with barge-in disabled (the greeting):
	// gate on echo so loudspeaker decay/bleed is not mistaken for speech,
	// then forward as usual. Barge-in disabled never means the microphone
	// is muted.
	analysis := g.canceller.Process(frame)
	if analysis.IsEcho {
		return
	}

	g.dispatchFrame(frame)
}

func (g *Gateway) dispatchFrame(frame []byte) {
	switch g.cfg.Mode {
	case ModeInternal:
		g.processInternalVAD(frame)
	default:
		g.mu.Lock()
		subs := append([]func([]byte){}, g.frameSubs...)
		g.mu.Unlock()
		for _, cb := range subs {
			cb(frame)
		}
	}
}

func (g *Gateway) processInternalVAD(frame []byte) {
	ev, _ := g.internalVAD.Process(frame)
	if ev == nil {
		if g.internalVAD.IsSpeaking() {
			g.internalBuf.Write(frame)
		}
		return
	}
	switch ev.Type {
	case SpeechStart:
		g.internalBuf.Reset()
		g.internalBuf.Write(frame)
		g.internalSpeakStart = time.Now()
	case SpeechEnd:
		if time.Since(g.internalSpeakStart) >= time.Duration(g.cfg.MinSpeechDurationMS)*time.Millisecond {
			data := make([]byte, g.internalBuf.Len())
			copy(data, g.internalBuf.Bytes())
			g.mu.Lock()
			subs := append([]func([]byte){}, g.utteranceSubs...)
			g.mu.Unlock()
			for _, cb := range subs {
				cb(data)
			}
		}
		g.internalBuf.Reset()
	case Silence:
		if g.internalVAD.IsSpeaking() {
			g.internalBuf.Write(frame)
		}
	}
}

func (g *Gateway) appendPlaybackRing(frame []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.playbackRing = append(g.playbackRing, frame)
	g.playbackRingLen += len(frame)
	maxBytes := g.cfg.OutputSampleRate * g.cfg.BytesPerSample * g.cfg.PlaybackRingMS / 1000
	for g.playbackRingLen > maxBytes && len(g.playbackRing) > 0 {
		g.playbackRingLen -= len(g.playbackRing[0])
		g.playbackRing = g.playbackRing[1:]
	}
}

func (g *Gateway) evaluateBargeIn(frame []byte, rms float64) {
	veryHigh := rms > g.cfg.EnergyThreshold*g.cfg.BargeInVeryHighFactor
	if veryHigh {
		g.confirmBargeIn()
		return
	}

	analysis := g.canceller.ProcessForBargeIn(frame)
	qualifies := rms > g.cfg.EnergyThreshold*g.cfg.BargeInMultiplier && !analysis.IsEcho

	g.mu.Lock()
	if qualifies {
		g.consecutiveVoice++
	} else {
		g.consecutiveVoice = 0
	}
	confirmed := g.consecutiveVoice >= g.cfg.BargeInConfirmFrames
	g.mu.Unlock()

	if confirmed {
		g.confirmBargeIn()
	}
}

func (g *Gateway) confirmBargeIn() {
	g.mu.Lock()
	if !g.playing {
		g.mu.Unlock()
		return
	}
	ring := g.playbackRing
	g.playbackRing = nil
	g.playbackRingLen = 0
	g.consecutiveVoice = 0
	g.interrupted = true
	cb := g.onInterrupted
	g.mu.Unlock()

	g.StopPlayback()

	// Flush the pre-roll ring to STT so the start of the user's interjection
	// is not lost.
	for _, frame := range ring {
		g.dispatchFrame(frame)
	}

	if cb != nil {
		cb()
	}
}

// IsPlaying reports whether stream/oneshot playback is currently active.
func (g *Gateway) IsPlaying() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.playing
}

// Interrupted reports whether the most recent playback ended via barge-in.
func (g *Gateway) Interrupted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interrupted
}

// ResetInterruptState clears the barge-in flag ahead of a new turn.
func (g *Gateway) ResetInterruptState() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.interrupted = false
}

// PlayOneshot plays a short acknowledgment to completion; it bypasses the
// pre-buffered drain loop (used for backchannels/acks, which are short
// enough that underrun risk is negligible).
func (g *Gateway) PlayOneshot(pcm []byte) error {
	g.mu.Lock()
	g.playing = true
	first := !g.firstUtterChunk
	g.firstUtterChunk = true
	g.mu.Unlock()

	faded := pcm
	if first {
		faded = applyFadeIn(pcm, g.cfg.OutputSampleRate, g.cfg.BytesPerSample, g.cfg.FadeInMS)
	}

	_, err := g.out.Write(faded)
	g.canceller.FeedReference(faded)

	g.mu.Lock()
	g.playing = false
	g.lastPlaybackEnd = time.Now()
	g.mu.Unlock()
	g.canceller.EndPlayback()
	return err
}

// PushStreamChunk enqueues PCM for the pre-buffered drain loop, starting
// playback once pre_buffer_bytes has accumulated.
func (g *Gateway) PushStreamChunk(pcm []byte) {
	g.mu.Lock()
	if !g.streamActive {
		g.streamActive = true
		g.playing = true
		g.firstUtterChunk = false
		g.drainQueue.Reset()
		g.drainStop = make(chan struct{})
		go g.drainLoop(g.drainStop)
	}
	g.drainQueue.Write(pcm)
	g.mu.Unlock()
}

func (g *Gateway) drainLoop(stop chan struct{}) {
	preBufferBytes := g.cfg.OutputSampleRate * g.cfg.BytesPerSample * g.cfg.PreBufferMS / 1000
	chunkBytes := g.cfg.OutputSampleRate * g.cfg.BytesPerSample * g.cfg.DrainIntervalMS / 1000
	if chunkBytes <= 0 {
		chunkBytes = 1
	}

	// Wait for pre-buffer to fill, or for end_stream to flush what we have.
	for {
		g.mu.Lock()
		have := g.drainQueue.Len()
		active := g.streamActive
		g.mu.Unlock()
		if have >= preBufferBytes || !active {
			break
		}
		select {
		case <-stop:
			// end_stream fired before pre-buffer filled: flush whatever is
			// queued in one go, no underrun silence.
		case <-time.After(time.Duration(g.cfg.DrainIntervalMS) * time.Millisecond):
			continue
		}
		break
	}

	ticker := time.NewTicker(time.Duration(g.cfg.DrainIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	first := true
	for {
		select {
		case <-stop:
			g.mu.Lock()
			remaining := g.drainQueue.Bytes()
			out := make([]byte, len(remaining))
			copy(out, remaining)
			g.drainQueue.Reset()
			g.mu.Unlock()
			if len(out) > 0 {
				g.writePlaybackChunk(out, first)
			}
			g.finishPlayback()
			return
		case <-ticker.C:
			g.mu.Lock()
			n := chunkBytes
			if g.drainQueue.Len() < n {
				n = g.drainQueue.Len()
			}
			chunk := make([]byte, n)
			copy(chunk, g.drainQueue.Next(n))
			streamEnded := !g.streamActive && g.drainQueue.Len() == 0
			g.mu.Unlock()

			out := chunk
			if len(out) < chunkBytes {
				padded := make([]byte, chunkBytes)
				copy(padded, out)
				out = padded
			}
			g.writePlaybackChunk(out, first)
			first = false

			if streamEnded {
				g.finishPlayback()
				return
			}
		}
	}
}

func (g *Gateway) writePlaybackChunk(chunk []byte, first bool) {
	if first {
		chunk = applyFadeIn(chunk, g.cfg.OutputSampleRate, g.cfg.BytesPerSample, g.cfg.FadeInMS)
	}
	g.out.Write(chunk)
	g.canceller.FeedReference(chunk)
}

func (g *Gateway) finishPlayback() {
	g.mu.Lock()
	g.playing = false
	g.streamActive = false
	g.lastPlaybackEnd = time.Now()
	g.mu.Unlock()
	g.canceller.EndPlayback()
}

// EndStream signals no more chunks are coming for this utterance; the drain
// loop flushes whatever remains (in one go if pre-buffer never filled).
func (g *Gateway) EndStream() {
	g.mu.Lock()
	g.streamActive = false
	stop := g.drainStop
	g.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// StopPlayback is synchronous and idempotent: it discards any queued
// drain bytes without flushing them, closes the streaming loop, and
// notifies the echo canceller that the reference stream ended.
func (g *Gateway) StopPlayback() {
	g.mu.Lock()
	if !g.playing {
		g.mu.Unlock()
		return
	}
	g.playing = false
	g.streamActive = false
	stop := g.drainStop
	g.drainStop = nil
	g.drainQueue.Reset()
	g.lastPlaybackEnd = time.Now()
	g.mu.Unlock()

	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	g.canceller.EndPlayback()
}

// applyFadeIn scales the first fadeMS of PCM with an exponential ease-in
// curve to avoid a click at utterance start.
func applyFadeIn(pcm []byte, sampleRate, bytesPerSample, fadeMS int) []byte {
	if len(pcm) == 0 || fadeMS <= 0 {
		return pcm
	}
	fadeSamples := sampleRate * fadeMS / 1000
	totalSamples := len(pcm) / bytesPerSample
	if fadeSamples > totalSamples {
		fadeSamples = totalSamples
	}
	if fadeSamples == 0 {
		return pcm
	}

	out := make([]byte, len(pcm))
	copy(out, pcm)
	for i := 0; i < fadeSamples; i++ {
		t := float64(i) / float64(fadeSamples)
		gain := 1 - math.Exp(-3*t) // exponential ease-in, approaches 1
		idx := i * bytesPerSample
		if idx+1 >= len(out) {
			break
		}
		s := int16(out[idx]) | (int16(out[idx+1]) << 8)
		scaled := int16(float64(s) * gain)
		out[idx] = byte(scaled)
		out[idx+1] = byte(scaled >> 8)
	}
	return out
}
