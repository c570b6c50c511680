package stt

import "testing"

func TestDeepgramStreamingStartsDisconnected(t *testing.T) {
	s := NewDeepgramStreaming("test-key")
	if s.IsConnected() {
		t.Fatal("expected a freshly constructed client to report not connected")
	}
	if s.Name() != "deepgram-streaming-stt" {
		t.Errorf("expected deepgram-streaming-stt, got %s", s.Name())
	}
}

func TestDeepgramStreamingAgentSpeakingGate(t *testing.T) {
	s := NewDeepgramStreaming("test-key")
	s.SetAgentSpeaking(true)
	if !s.agentSpeaking {
		t.Fatal("expected agentSpeaking flag to be set")
	}
	s.ResetTimingOnBargein()
	if !s.firstPartial.IsZero() {
		t.Fatal("expected firstPartial to be cleared on bargein reset")
	}
}

func TestDeepgramStreamingCloseWithoutOpenIsNoop(t *testing.T) {
	s := NewDeepgramStreaming("test-key")
	if err := s.Close(); err != nil {
		t.Fatalf("expected no error closing an unopened client, got %v", err)
	}
}
