package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/raczooby/voiceturn/pkg/session"
)

// ElevenLabsTTS is a second vendor client for C6, exercising the
// gorilla/websocket transport (rather than LokutorTTS's coder/websocket) and
// ElevenLabs's context-keyed multi-stream protocol.
type ElevenLabsTTS struct {
	apiKey       string
	model        string
	outputFormat string
	sampleRate   int

	mu     sync.Mutex
	conn   *websocket.Conn
	wsHost string // overridden by tests against an httptest server
	scheme string
}

// voiceToElevenLabsID maps a session.Voice onto an ElevenLabs voice id;
// unknown voices fall back to "Rachel", ElevenLabs's default premade voice.
var voiceToElevenLabsID = map[session.Voice]string{
	session.VoiceF1: "21m00Tcm4TlvDq8ikWAM",
	session.VoiceF2: "AZnzlk1XvdvUeBnXmlld",
	session.VoiceM1: "pNInz6obpgDQGcFmaJgB",
	session.VoiceM2: "VR6AewLTigWG4xSOukaG",
}

func NewElevenLabsTTS(apiKey string) *ElevenLabsTTS {
	return &ElevenLabsTTS{
		apiKey:       apiKey,
		model:        "eleven_flash_v2_5",
		outputFormat: "pcm_22050",
		sampleRate:   22050,
		wsHost:       "api.elevenlabs.io",
		scheme:       "wss",
	}
}

func (t *ElevenLabsTTS) voiceID(v session.Voice) string {
	if id, ok := voiceToElevenLabsID[v]; ok {
		return id
	}
	return voiceToElevenLabsID[session.VoiceF1]
}

func (t *ElevenLabsTTS) getConn(ctx context.Context, voiceID string) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	url := fmt.Sprintf("%s://%s/v1/text-to-speech/%s/multi-stream-input?model_id=%s&output_format=%s",
		t.scheme, t.wsHost, voiceID, t.model, t.outputFormat)
	header := http.Header{}
	header.Set("xi-api-key", t.apiKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	t.conn = conn
	return conn, nil
}

// StreamSynthesize opens (or reuses) the multi-stream connection, sends one
// context_id-tagged text message, and forwards each base64-decoded audio
// chunk until the server's isFinal marker for that context arrives.
func (t *ElevenLabsTTS) StreamSynthesize(ctx context.Context, text string, voice session.Voice, lang session.Language, onChunk func([]byte) error) error {
	voiceID := t.voiceID(voice)
	conn, err := t.getConn(ctx, voiceID)
	if err != nil {
		return err
	}

	contextID := fmt.Sprintf("%s-%d", voiceID, len(text))
	req := map[string]interface{}{
		"text":                   text,
		"context_id":             contextID,
		"try_trigger_generation": true,
		"voice_settings": map[string]float64{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		t.dropConn()
		return fmt.Errorf("elevenlabs: send text: %w", err)
	}
	flush := map[string]interface{}{"text": "", "context_id": contextID, "flush": true}
	if err := conn.WriteJSON(flush); err != nil {
		t.dropConn()
		return fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var resp struct {
			Audio     string `json:"audio"`
			IsFinal   bool   `json:"isFinal"`
			ContextID string `json:"contextId"`
		}
		if err := conn.ReadJSON(&resp); err != nil {
			t.dropConn()
			return fmt.Errorf("elevenlabs: read: %w", err)
		}
		if resp.ContextID != "" && resp.ContextID != contextID {
			continue
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				continue
			}
			if err := onChunk(pcm); err != nil {
				return err
			}
		}
		if resp.IsFinal {
			return nil
		}
	}
}

func (t *ElevenLabsTTS) dropConn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

func (t *ElevenLabsTTS) Synthesize(ctx context.Context, text string, voice session.Voice, lang session.Language) ([]byte, error) {
	url := fmt.Sprintf("https://%s/v1/text-to-speech/%s?output_format=%s", t.wsHost, t.voiceID(voice), t.outputFormat)
	body, _ := json.Marshal(map[string]interface{}{
		"text":     text,
		"model_id": t.model,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("elevenlabs: status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

// SynthesizeAck uses the batch HTTP path: acks are short enough that the
// extra round trip does not matter, and it avoids perturbing the
// multi-stream context_id bookkeeping of an in-flight turn.
func (t *ElevenLabsTTS) SynthesizeAck(ctx context.Context, shortText string, voice session.Voice, lang session.Language) ([]byte, error) {
	return t.Synthesize(ctx, shortText, voice, lang)
}

// Abort closes the multi-stream connection outright; ElevenLabs has no
// partial-context-cancel message cheaper than a fresh dial, so the next
// StreamSynthesize call simply reconnects.
func (t *ElevenLabsTTS) Abort() error {
	t.dropConn()
	return nil
}

func (t *ElevenLabsTTS) Name() string { return "elevenlabs" }

func (t *ElevenLabsTTS) Close() error {
	t.dropConn()
	return nil
}
