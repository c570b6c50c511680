// Package audio provides the minimal WAV container writer the batch STT
// vendor clients need: their HTTP upload endpoints expect a self-describing
// audio file, not headerless PCM.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// The engine's AudioChunk invariant (spec §3: "opaque binary PCM at a known
// sample rate, bit depth 16, mono") is fixed at these two constants rather
// than threaded through every caller as parameters.
const (
	numChannels    = 1
	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
)

// NewWavBuffer wraps mono 16-bit PCM in a standard 44-byte WAV header at
// sampleRate. It returns an error if pcm does not hold a whole number of
// samples, since a truncated trailing byte would silently shift every
// sample that follows when a vendor decodes the file.
func NewWavBuffer(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}
	if len(pcm)%bytesPerSample != 0 {
		return nil, fmt.Errorf("audio: pcm length %d is not a whole number of %d-bit samples", len(pcm), bitsPerSample)
	}

	byteRate := sampleRate * numChannels * bytesPerSample
	blockAlign := numChannels * bytesPerSample

	buf := new(bytes.Buffer)
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))             // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))               // PCM
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes(), nil
}
