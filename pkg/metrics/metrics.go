// Package metrics records per-turn latency as Prometheus histograms and
// counts bottleneck turns, mirroring the counter/histogram style the
// orchestration pack uses for VAD and barge-in instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raczooby/voiceturn/pkg/session"
)

// BottleneckThresholdMS is the turn-latency threshold above which a turn is
// flagged as a bottleneck (both for total and time-to-first-audio).
const BottleneckThresholdMS = 2000

// Recorder records LatencyBreakdown values into Prometheus metrics.
type Recorder struct {
	stt        prometheus.Histogram
	llm        prometheus.Histogram
	tts        prometheus.Histogram
	ttfa       prometheus.Histogram
	total      prometheus.Histogram
	bottleneck prometheus.Counter
	turns      prometheus.Counter
}

// NewRecorder builds a Recorder and registers its collectors with reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the default
// global registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	buckets := []float64{50, 100, 200, 300, 500, 750, 1000, 1500, 2000, 3000, 5000}

	r := &Recorder{
		stt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "voiceturn_stt_latency_ms", Help: "STT real latency per turn.", Buckets: buckets,
		}),
		llm: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "voiceturn_llm_latency_ms", Help: "LLM first-token latency per turn.", Buckets: buckets,
		}),
		tts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "voiceturn_tts_latency_ms", Help: "TTS first-chunk latency per turn.", Buckets: buckets,
		}),
		ttfa: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "voiceturn_time_to_first_audio_ms", Help: "Time from STT final to first played audio sample.", Buckets: buckets,
		}),
		total: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "voiceturn_total_latency_ms", Help: "stt + llm + tts for the turn.", Buckets: buckets,
		}),
		bottleneck: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voiceturn_bottleneck_turns_total", Help: "Turns whose total or TTFA exceeded the bottleneck threshold.",
		}),
		turns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voiceturn_turns_total", Help: "Turns with recorded latency.",
		}),
	}

	if reg != nil {
		reg.MustRegister(r.stt, r.llm, r.tts, r.ttfa, r.total, r.bottleneck, r.turns)
	}
	return r
}

// Record observes one turn's latency breakdown, computing Total and the
// bottleneck flag, then returns the finalized breakdown so the caller can
// publish it as a "metrics" event.
func (r *Recorder) Record(bd session.LatencyBreakdown) session.LatencyBreakdown {
	bd.Total = bd.STT + bd.LLM + bd.TTS
	bd.Bottleneck = bd.Total > BottleneckThresholdMS || bd.TimeToFirstAudio > BottleneckThresholdMS

	r.stt.Observe(float64(bd.STT))
	r.llm.Observe(float64(bd.LLM))
	r.tts.Observe(float64(bd.TTS))
	r.ttfa.Observe(float64(bd.TimeToFirstAudio))
	r.total.Observe(float64(bd.Total))
	r.turns.Inc()
	if bd.Bottleneck {
		r.bottleneck.Inc()
	}
	return bd
}
