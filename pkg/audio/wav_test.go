package audio

import (
	"bytes"
	"testing"
)

func TestNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sampleRate := 44100
	wav, err := NewWavBuffer(pcm, sampleRate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}

	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("Expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("Expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestNewWavBufferRejectsOddLength(t *testing.T) {
	if _, err := NewWavBuffer([]byte{0x01, 0x02, 0x03}, 44100); err == nil {
		t.Fatal("expected an error for a pcm buffer that is not a whole number of 16-bit samples")
	}
}

func TestNewWavBufferRejectsInvalidSampleRate(t *testing.T) {
	if _, err := NewWavBuffer([]byte{0x01, 0x02}, 0); err == nil {
		t.Fatal("expected an error for a non-positive sample rate")
	}
}
