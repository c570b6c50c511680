package echo

import (
	"math"
	"testing"
)

func tone(freq float64, n int, sampleRate int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate))
		s := int16(v * 20000)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func TestEmptyReferenceNeverClassifiesEcho(t *testing.T) {
	c := New(0)
	frame := tone(440, 400, 16000)
	a := c.Process(frame)
	if a.IsEcho {
		t.Fatal("expected is_echo=false with empty reference buffer regardless of content")
	}
}

func TestIdenticalSignalIsClassifiedAsEcho(t *testing.T) {
	c := New(0)
	frame := tone(440, 800, 16000)
	c.FeedReference(frame)

	a := c.Process(frame)
	if !a.IsEcho {
		t.Fatalf("expected identical playback to be classified as echo, correlation=%.3f", a.Correlation)
	}
	if a.Correlation < c.NormalThreshold {
		t.Fatalf("expected correlation >= %.2f, got %.3f", c.NormalThreshold, a.Correlation)
	}
}

func TestBargeInThresholdStricterThanNormal(t *testing.T) {
	c := New(0)
	if c.BargeInThreshold <= c.NormalThreshold {
		t.Fatal("expected barge-in threshold to be stricter than the normal threshold")
	}
}

func TestDifferentToneNotClassifiedAsEcho(t *testing.T) {
	c := New(0)
	c.FeedReference(tone(220, 800, 16000))

	a := c.Process(tone(3800, 800, 16000))
	if a.IsEcho {
		t.Fatalf("did not expect unrelated high-frequency tone to register as echo, correlation=%.3f", a.Correlation)
	}
}

func TestClearReferenceResetsState(t *testing.T) {
	c := New(0)
	frame := tone(440, 800, 16000)
	c.FeedReference(frame)
	c.ClearReference()

	a := c.Process(frame)
	if a.IsEcho {
		t.Fatal("expected echo classification to reset after ClearReference")
	}
}
