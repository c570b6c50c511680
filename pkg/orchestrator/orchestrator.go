package orchestrator

import (
	"github.com/raczooby/voiceturn/pkg/llm"
	"github.com/raczooby/voiceturn/pkg/logging"
	"github.com/raczooby/voiceturn/pkg/metrics"
	"github.com/raczooby/voiceturn/pkg/session"
	"github.com/raczooby/voiceturn/pkg/stt"
	"github.com/raczooby/voiceturn/pkg/tts"
)

// Providers bundles the adapters a Stream drives. LLM and TTS are required;
// LLMStreaming and STT are optional — without LLMStreaming every turn falls
// back to the batch Complete() path directly; STT, when set, only receives
// ResetTimingOnBargein/Close calls, since C1/C3 feed transcripts to a Stream
// through OnPartial/OnFinal rather than the Stream pulling from C3 itself.
type Providers struct {
	LLM          llm.Provider
	LLMStreaming llm.StreamingProvider
	TTS          tts.Provider
	STT          stt.StreamingProvider
}

// Orchestrator is the C4 factory: it holds the shared providers, metrics
// recorder, logger and config, and mints one Stream per live session.
type Orchestrator struct {
	providers Providers
	metrics   *metrics.Recorder
	logger    Logger
	config    Config
}

// New builds an Orchestrator. A nil logger defaults to logging.NoOp; a nil
// recorder builds one against no registry (metrics are computed but not
// exported).
func New(providers Providers, recorder *metrics.Recorder, logger Logger, cfg Config) *Orchestrator {
	if logger == nil {
		logger = logging.NoOp{}
	}
	if recorder == nil {
		recorder = metrics.NewRecorder(nil)
	}
	if providers.LLM == nil || providers.TTS == nil {
		logger.Error("orchestrator missing a required provider", "error", ErrNilProvider)
	}
	return &Orchestrator{providers: providers, metrics: recorder, logger: logger, config: cfg}
}

// NewStream starts a turn orchestrator for one live call. onEvent is called
// synchronously from whichever goroutine raises the event and must not
// block; it may be nil.
func (o *Orchestrator) NewStream(sess *session.Session, sink PlaybackSink, onEvent func(Event)) *Stream {
	return newStream(o, sess, sink, onEvent)
}
