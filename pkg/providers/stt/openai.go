package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/raczooby/voiceturn/pkg/audio"
	"github.com/raczooby/voiceturn/pkg/session"
)

// OpenAISTT is a batch-only Whisper transcription client: it satisfies
// stt.Provider but not stt.StreamingProvider, so the gateway falls back to
// its internal-VAD batch path when this is the only STT provider configured.
type OpenAISTT struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
}

func NewOpenAISTT(apiKey string, model string) *OpenAISTT {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAISTT{
		apiKey:     apiKey,
		url:        "https://api.openai.com/v1/audio/transcriptions",
		model:      model,
		sampleRate: 44100,
	}
}

// SetSampleRate overrides the rate embedded in the WAV header sent to
// OpenAI; callers must keep it matching the gateway's input_sample_rate.
func (s *OpenAISTT) SetSampleRate(rate int) {
	s.sampleRate = rate
}

func (s *OpenAISTT) Name() string {
	return "openai_stt"
}

func (s *OpenAISTT) Transcribe(ctx context.Context, audioPCM []byte, lang session.Language) (string, error) {
	wavData, err := audio.NewWavBuffer(audioPCM, s.sampleRate)
	if err != nil {
		return "", fmt.Errorf("openai stt: encode wav: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", s.model); err != nil {
		return "", fmt.Errorf("openai stt: write model field: %w", err)
	}

	if lang != "" {
		if err := writer.WriteField("language", string(lang)); err != nil {
			return "", fmt.Errorf("openai stt: write language field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("openai stt: create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return "", fmt.Errorf("openai stt: write audio payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("openai stt: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, body)
	if err != nil {
		return "", fmt.Errorf("openai stt: build request: %w", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai stt: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai stt error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("openai stt: decode response: %w", err)
	}

	return result.Text, nil
}
