package orchestrator

import "testing"

func TestSessionStateString(t *testing.T) {
	cases := map[SessionState]string{
		Idle:       "Idle",
		Greeting:   "Greeting",
		Processing: "Processing",
		Speaking:   "Speaking",
		Ended:      "Ended",
		SessionState(99): "Unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("SessionState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BargeInGracePeriodMS != 800 {
		t.Errorf("expected 800ms barge-in grace period, got %d", cfg.BargeInGracePeriodMS)
	}
	if cfg.CancelLogDebounceMS != 500 {
		t.Errorf("expected 500ms cancel debounce, got %d", cfg.CancelLogDebounceMS)
	}
	if cfg.BottleneckThresholdMS != 2000 {
		t.Errorf("expected 2000ms bottleneck threshold, got %d", cfg.BottleneckThresholdMS)
	}
	if cfg.TTSMinChars != 80 || cfg.TTSMaxChars != 250 {
		t.Errorf("expected tts min/max chars 80/250, got %d/%d", cfg.TTSMinChars, cfg.TTSMaxChars)
	}
}
