package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/raczooby/voiceturn/pkg/session"
	"github.com/raczooby/voiceturn/pkg/stt"
)

// DeepgramSTT is the batch transcription client, used as a fallback and
// embedded by DeepgramStreaming to satisfy the Provider half of the
// StreamingProvider interface.
type DeepgramSTT struct {
	apiKey     string
	url        string
	sampleRate int
}

func NewDeepgramSTT(apiKey string) *DeepgramSTT {
	return &DeepgramSTT{
		apiKey:     apiKey,
		url:        "https://api.deepgram.com/v1/listen",
		sampleRate: 44100,
	}
}

func (s *DeepgramSTT) SetSampleRate(rate int) { s.sampleRate = rate }

func (s *DeepgramSTT) Name() string { return "deepgram-stt" }

func (s *DeepgramSTT) Transcribe(ctx context.Context, audioPCM []byte, lang session.Language) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", err
	}

	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	if lang != "" {
		params.Set("language", string(lang))
	}
	params.Set("sample_rate", strconv.Itoa(s.sampleRate))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(audioPCM))
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/l16; rate=%d; channels=1", s.sampleRate))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("deepgram error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}

	return result.Results.Channels[0].Alternatives[0].Transcript, nil
}

// DeepgramStreaming opens a websocket to Deepgram's live endpoint and feeds
// raw PCM frames as binary messages, decoding interim/final results as they
// arrive. The original repo declared StreamingSTTProvider but never
// implemented it over a real transport; this closes that gap, following the
// Lokutor TTS client's connection-lifecycle shape (also a coder/websocket
// consumer).
type DeepgramStreaming struct {
	*DeepgramSTT

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	agentSpeaking bool
	startTime     time.Time
	firstPartial  time.Time
}

func NewDeepgramStreaming(apiKey string) *DeepgramStreaming {
	return &DeepgramStreaming{DeepgramSTT: NewDeepgramSTT(apiKey)}
}

type dgStreamResult struct {
	IsFinal bool `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *DeepgramStreaming) Open(ctx context.Context, sessionID string, lang session.Language, onPartial func(string), onFinal func(string, stt.TimingMetrics)) (func([]byte) error, error) {
	u := fmt.Sprintf("wss://api.deepgram.com/v1/listen?model=nova-2&smart_format=true&interim_results=true&encoding=linear16&sample_rate=%d", s.sampleRate)
	if lang != "" {
		u += "&language=" + url.QueryEscape(string(lang))
	}

	var conn *websocket.Conn
	err := stt.Reconnect(ctx, 5, func() error {
		c, _, dialErr := websocket.Dial(ctx, u, &websocket.DialOptions{
			HTTPHeader: http.Header{"Authorization": []string{"Token " + s.apiKey}},
		})
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram streaming dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.startTime = time.Now()
	s.firstPartial = time.Time{}
	s.mu.Unlock()

	go s.readLoop(ctx, onPartial, onFinal)

	feedAudio := func(chunk []byte) error {
		s.mu.Lock()
		c := s.conn
		connected := s.connected
		s.mu.Unlock()
		if !connected || c == nil {
			return fmt.Errorf("deepgram stream not connected")
		}
		return c.Write(ctx, websocket.MessageBinary, chunk)
	}

	return feedAudio, nil
}

func (s *DeepgramStreaming) readLoop(ctx context.Context, onPartial func(string), onFinal func(string, stt.TimingMetrics)) {
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, s.conn, &raw); err != nil {
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			return
		}

		var result dgStreamResult
		if err := json.Unmarshal(raw, &result); err != nil {
			continue
		}
		text := ""
		if len(result.Channel.Alternatives) > 0 {
			text = result.Channel.Alternatives[0].Transcript
		}
		if text == "" {
			continue
		}

		s.mu.Lock()
		if s.agentSpeaking {
			s.mu.Unlock()
			continue
		}
		if s.firstPartial.IsZero() {
			s.firstPartial = time.Now()
		}
		start := s.startTime
		firstPartial := s.firstPartial
		s.mu.Unlock()

		if !result.IsFinal {
			if onPartial != nil {
				onPartial(text)
			}
			continue
		}

		commit := time.Now()
		if onFinal != nil {
			onFinal(text, stt.TimingMetrics{
				StartTime:        start,
				FirstPartialTime: firstPartial,
				CommitTime:       commit,
				RealLatency:      firstPartial.Sub(start),
				SpeechDuration:   commit.Sub(firstPartial),
			})
		}
	}
}

func (s *DeepgramStreaming) ResetTimingOnBargein() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTime = time.Now()
	s.firstPartial = time.Time{}
}

func (s *DeepgramStreaming) SetAgentSpeaking(speaking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentSpeaking = speaking
}

func (s *DeepgramStreaming) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *DeepgramStreaming) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	s.connected = false
	return s.conn.Close(websocket.StatusNormalClosure, "session ended")
}

func (s *DeepgramStreaming) Name() string { return "deepgram-streaming-stt" }
