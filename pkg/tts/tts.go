// Package tts defines the TTS Chunk Pipeline contract (C6): per-chunk
// streaming synthesis with a cancelable in-flight call, plus the exact text
// chunking algorithm the turn orchestrator uses to decide what to send to a
// provider and when.
package tts

import (
	"context"
	"strings"

	"github.com/raczooby/voiceturn/pkg/session"
)

// Provider is the C6 contract.
type Provider interface {
	Synthesize(ctx context.Context, text string, voice session.Voice, lang session.Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice session.Voice, lang session.Language, onChunk func([]byte) error) error

	// SynthesizeAck produces a short utterance (a backchannel like "uhum" or
	// a brief confirmation) suitable for Gateway.PlayOneshot. It is expected
	// to be fast and need not stream. The implementations in this module
	// synthesize on every call; the result is not cached.
	SynthesizeAck(ctx context.Context, shortText string, voice session.Voice, lang session.Language) ([]byte, error)

	// Abort cancels any in-flight StreamSynthesize call for this provider
	// instance. Whether the transport survives is up to the implementation:
	// LokutorTTS keeps its connection, ElevenLabsTTS closes it and the next
	// call redials. Safe to call when nothing is in flight.
	Abort() error

	Name() string
}

// Chunking parameters. A chunk is sent to the provider once it reaches
// MinChars and a safe break point is found, forcing a break once MaxChars
// is reached even mid-clause.
const (
	MinChars                 = 80
	MaxChars                 = 250
	ClauseDelimiterFraction  = 0.90 // search for a clause delimiter within this fraction of MaxChars
)

var sentenceDelimiters = []rune{'.', '!', '?'}
var clauseDelimiters = []rune{';', ':', ','}

// Chunker accumulates streamed LLM fragments and yields TTS-ready chunks as
// soon as a safe break point is available, without waiting for the full
// response.
type Chunker struct {
	buf strings.Builder
}

// Push appends fragment text and returns zero or more complete chunks ready
// for synthesis. Call Flush once the LLM stream ends to emit any remainder.
func (c *Chunker) Push(fragment string) []string {
	c.buf.WriteString(fragment)
	var chunks []string
	for {
		chunk, ok := c.extractChunk()
		if !ok {
			break
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Flush returns any remaining buffered text as a final chunk (empty string
// if nothing remains).
func (c *Chunker) Flush() string {
	remainder := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	return remainder
}

func (c *Chunker) extractChunk() (string, bool) {
	text := c.buf.String()
	if len(text) < MinChars {
		return "", false
	}

	// A sentence delimiter once MinChars is reached is emitted immediately,
	// without waiting for MaxChars or the clause-delimiter threshold.
	if idx := lastDelimiterIndex(text, sentenceDelimiters); idx >= 0 {
		return c.splitAt(text, idx+1)
	}

	if len(text) >= MaxChars {
		breakAt := findSafeBreak(text, MaxChars)
		return c.splitAt(text, breakAt)
	}

	// Look for a clause delimiter once we're past 90% of MaxChars, so we
	// don't break on every comma in a short sentence.
	threshold := int(float64(MaxChars) * ClauseDelimiterFraction)
	if len(text) < threshold {
		return "", false
	}

	idx := lastDelimiterIndex(text, clauseDelimiters)
	if idx < 0 {
		return "", false
	}
	return c.splitAt(text, idx+1)
}

func (c *Chunker) splitAt(text string, at int) (string, bool) {
	chunk := strings.TrimSpace(text[:at])
	c.buf.Reset()
	c.buf.WriteString(text[at:])
	return chunk, chunk != ""
}

func lastDelimiterIndex(text string, delimiters []rune) int {
	best := -1
	for _, r := range delimiters {
		if i := strings.LastIndexRune(text, r); i > best {
			best = i
		}
	}
	return best
}

// findSafeBreak looks backward from limit for whitespace so a forced break
// at MaxChars doesn't split a word; falls back to limit itself.
func findSafeBreak(text string, limit int) int {
	if limit > len(text) {
		limit = len(text)
	}
	for i := limit; i > 0; i-- {
		if text[i-1] == ' ' {
			return i
		}
	}
	return limit
}
