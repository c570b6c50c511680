// Command agent is the demo entrypoint wiring the engine packages to a real
// microphone/speaker device and vendor STT/LLM/TTS clients. Process
// lifecycle, configuration loading, and vendor selection live entirely
// outside pkg/ — the engine itself never imports this package.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/raczooby/voiceturn/pkg/audiogateway"
	"github.com/raczooby/voiceturn/pkg/echo"
	"github.com/raczooby/voiceturn/pkg/logging"
	"github.com/raczooby/voiceturn/pkg/metrics"
	"github.com/raczooby/voiceturn/pkg/orchestrator"
	llmProvider "github.com/raczooby/voiceturn/pkg/providers/llm"
	sttProvider "github.com/raczooby/voiceturn/pkg/providers/stt"
	ttsProvider "github.com/raczooby/voiceturn/pkg/providers/tts"
	"github.com/raczooby/voiceturn/pkg/session"
	"github.com/raczooby/voiceturn/pkg/stt"
)

const sampleRate = 22050

// loadConfig layers an optional voiceturn.{yaml,json,toml} file under the
// process environment: env vars still win, the file only fills in keys an
// operator would otherwise have to export by hand (STT_PROVIDER and friends).
func loadConfig() {
	viper.SetConfigName("voiceturn")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/voiceturn")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("voiceturn config file present but unreadable: %v", err)
		}
		return
	}
	for _, key := range viper.AllKeys() {
		envKey := strings.ToUpper(key)
		if os.Getenv(envKey) == "" {
			if v := viper.GetString(key); v != "" {
				os.Setenv(envKey, v)
			}
		}
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}
	loadConfig()

	logger := logging.NewDevelopment()

	providers, sttStreaming, sttBatch := buildProviders(logger)

	lang := session.Language(os.Getenv("AGENT_LANGUAGE"))
	if lang == "" {
		lang = session.LanguageEn
	}

	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)

	cfg := orchestrator.DefaultConfig()
	cfg.DefaultLanguage = lang
	cfg.SystemPrompt = "You are a helpful and concise voice assistant. Use short sentences suitable for speech."

	orch := orchestrator.New(providers, recorder, logger, cfg)

	canceller := echo.New(sampleRate * 2 * 800 / 1000)
	gwCfg := audiogateway.DefaultConfig()
	gwCfg.OutputSampleRate = sampleRate
	if sttStreaming == nil {
		gwCfg.Mode = audiogateway.ModeInternal
	}

	out := newRingOutput()
	gateway := audiogateway.New(gwCfg, out, canceller)

	conv := orchestrator.NewConversation(orch, gateway, func(ev orchestrator.Event) {
		logEvent(logger, ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wireSTT(ctx, gateway, sttStreaming, sttBatch, conv, lang, logger)

	gateway.OnInterrupted(conv.OnPlaybackInterrupted)

	conv.StartGreeting("Hi, I'm your voice assistant. How can I help you today?")

	deviceCleanup := startDevice(gateway, out)
	defer deviceCleanup()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe("127.0.0.1:9090", mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	fmt.Println("voiceturn agent started, listening on the default audio device. Ctrl+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("\nshutting down...")
	conv.Close()
}

// buildProviders selects one vendor client per concern from environment
// variables (STT_PROVIDER, LLM_PROVIDER, TTS_PROVIDER), defaulting to Groq
// (batch STT, streaming LLM) with Lokutor TTS. It
// returns the streaming STT adapter and the batch STT provider separately:
// unlike LLM/TTS, only one vendor here (Deepgram) implements the streaming
// contract, so Providers.STT stays nil unless Deepgram is selected, and the
// batch-only vendors are returned alongside for wireSTT's fallback path.
func buildProviders(logger orchestrator.Logger) (orchestrator.Providers, stt.StreamingProvider, stt.Provider) {
	groqKey := os.Getenv("GROQ_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	googleKey := os.Getenv("GOOGLE_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	assemblyKey := os.Getenv("ASSEMBLYAI_API_KEY")
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")
	elevenLabsKey := os.Getenv("ELEVENLABS_API_KEY")

	var providers orchestrator.Providers
	var streaming stt.StreamingProvider
	var batch stt.Provider

	switch os.Getenv("STT_PROVIDER") {
	case "deepgram":
		d := sttProvider.NewDeepgramStreaming(deepgramKey)
		d.SetSampleRate(sampleRate)
		providers.STT = d
		streaming = d
	case "openai":
		o := sttProvider.NewOpenAISTT(openaiKey, "whisper-1")
		o.SetSampleRate(sampleRate)
		batch = o
	case "assemblyai":
		batch = sttProvider.NewAssemblyAISTT(assemblyKey)
	case "groq":
		fallthrough
	default:
		g := sttProvider.NewGroqSTT(groqKey, "whisper-large-v3-turbo")
		g.SetSampleRate(sampleRate)
		batch = g
	}

	switch os.Getenv("LLM_PROVIDER") {
	case "openai":
		p := llmProvider.NewOpenAILLM(openaiKey, "gpt-4o")
		providers.LLM, providers.LLMStreaming = p, p
	case "anthropic":
		p := llmProvider.NewAnthropicLLM(anthropicKey, "claude-3-5-sonnet-20241022")
		providers.LLM, providers.LLMStreaming = p, p
	case "google":
		p := llmProvider.NewGoogleLLM(googleKey, "gemini-1.5-flash")
		providers.LLM, providers.LLMStreaming = p, p
	case "groq":
		fallthrough
	default:
		p := llmProvider.NewGroqLLM(groqKey, "llama-3.3-70b-versatile")
		providers.LLM, providers.LLMStreaming = p, p
	}

	switch os.Getenv("TTS_PROVIDER") {
	case "elevenlabs":
		providers.TTS = ttsProvider.NewElevenLabsTTS(elevenLabsKey)
	case "lokutor":
		fallthrough
	default:
		providers.TTS = ttsProvider.NewLokutorTTS(lokutorKey)
	}

	if providers.LLM == nil || providers.TTS == nil {
		logger.Error("missing required provider configuration")
	}
	return providers, streaming, batch
}

// wireSTT connects the gateway's captured audio to whichever STT path is
// configured: a true streaming provider feeds every non-echo frame and
// forwards its partial/final callbacks directly into the conversation;
// otherwise the gateway's internal VAD batches whole utterances and each one
// is transcribed through the batch Provider contract before being handed to
// the conversation as a final transcript.
func wireSTT(ctx context.Context, gateway *audiogateway.Gateway, streaming stt.StreamingProvider, batch stt.Provider, conv *orchestrator.Conversation, lang session.Language, logger orchestrator.Logger) {
	if streaming != nil {
		feedAudio, err := streaming.Open(ctx, conv.GetSessionID(), lang, conv.OnPartial, conv.OnFinal)
		if err != nil {
			logger.Error("failed to open streaming STT session", "error", err)
			return
		}
		gateway.SubscribeFrames(func(frame []byte) {
			if streaming.IsConnected() {
				_ = feedAudio(frame)
			}
		})
		return
	}

	gateway.SubscribeUtterance(func(utterance []byte) {
		start := time.Now()
		text, err := batch.Transcribe(ctx, utterance, lang)
		if err != nil {
			logger.Warn("batch stt transcription failed", "error", err)
			return
		}
		now := time.Now()
		conv.OnFinal(text, stt.TimingMetrics{
			StartTime:        start,
			FirstPartialTime: now,
			CommitTime:       now,
			RealLatency:      now.Sub(start),
		})
	})
}

func logEvent(logger orchestrator.Logger, ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventUserSpoke:
		logger.Info("user spoke", "sessionID", ev.SessionID, "text", ev.Data)
	case orchestrator.EventAgentSpoke:
		logger.Info("agent spoke", "sessionID", ev.SessionID, "text", ev.Data)
	case orchestrator.EventPlaybackInterrupted:
		logger.Info("playback interrupted", "sessionID", ev.SessionID)
	case orchestrator.EventMetrics:
		logger.Info("turn metrics", "sessionID", ev.SessionID, "latency", ev.Data)
	case orchestrator.EventError:
		logger.Warn("core error", "sessionID", ev.SessionID, "error", ev.Data)
	case orchestrator.EventSessionEnded:
		logger.Info("session ended", "sessionID", ev.SessionID, "summary", ev.Data)
	}
}

// ringOutput is the AudioOutput collaborator the gateway writes playback PCM
// into; the malgo device callback drains it on every output period.
type ringOutput struct {
	mu  sync.Mutex
	buf []byte
}

func newRingOutput() *ringOutput { return &ringOutput{} }

func (r *ringOutput) Write(pcm []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, pcm...)
	return len(pcm), nil
}

func (r *ringOutput) Close() error { return nil }

func (r *ringOutput) drain(out []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := copy(out, r.buf)
	r.buf = r.buf[n:]
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

// startDevice opens a full-duplex malgo device, forwarding captured frames
// to gateway.PushMicFrame and draining queued playback PCM from out on every
// output period. A missing audio backend or device is a fatal startup error.
func startDevice(gateway *audiogateway.Gateway, out *ringOutput) func() {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatalf("fatal: no audio backend available: %v", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = sampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			if len(pInput) > 0 {
				frame := make([]byte, len(pInput))
				copy(frame, pInput)
				gateway.PushMicFrame(frame)
			}
			if len(pOutput) > 0 {
				out.drain(pOutput)
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		log.Fatalf("fatal: failed to open audio device: %v", err)
	}
	if err := device.Start(); err != nil {
		log.Fatalf("fatal: failed to start audio device: %v", err)
	}

	return func() {
		device.Uninit()
		mctx.Uninit()
	}
}
