package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/raczooby/voiceturn/pkg/session"
)

type LokutorTTS struct {
	apiKey string
	host   string
	scheme string // "wss" in production; tests override with "ws" against httptest
	mu     sync.Mutex
	conn   *websocket.Conn

	// streamMu guards activeCancel, kept separate from mu so Abort never
	// blocks on the in-flight conn.Read it is trying to interrupt.
	streamMu     sync.Mutex
	activeCancel context.CancelFunc
}

func NewLokutorTTS(apiKey string) *LokutorTTS {
	return &LokutorTTS{
		apiKey: apiKey,
		host:   "api.lokutor.com",
		scheme: "wss",
	}
}

func (t *LokutorTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	scheme := t.scheme
	if scheme == "" {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lokutor: %w", err)
	}

	t.conn = conn
	return conn, nil
}

func (t *LokutorTTS) Synthesize(ctx context.Context, text string, voice session.Voice, lang session.Language) ([]byte, error) {
	var audio []byte
	err := t.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

func (t *LokutorTTS) StreamSynthesize(ctx context.Context, text string, voice session.Voice, lang session.Language, onChunk func([]byte) error) error {
	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	t.streamMu.Lock()
	t.activeCancel = cancel
	t.streamMu.Unlock()
	defer func() {
		t.streamMu.Lock()
		if t.activeCancel != nil {
			t.activeCancel = nil
		}
		t.streamMu.Unlock()
		cancel()
	}()

	req := map[string]interface{}{
		"text":    text,
		"voice":   string(voice),
		"lang":    string(lang),
		"speed":   1.05,
		"steps":   5,
		"version": "versa-1.0",
	}

	if err := wsjson.Write(streamCtx, conn, req); err != nil {
		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return fmt.Errorf("failed to send synthesis request: %w", err)
	}

	for {
		messageType, payload, err := conn.Read(streamCtx)
		if err != nil {
			if streamCtx.Err() != nil {
				// Aborted mid-stream: keep the connection for reuse, the
				// caller is discarding this turn's audio, not the socket.
				return fmt.Errorf("lokutor synthesis aborted: %w", streamCtx.Err())
			}
			t.mu.Lock()
			t.conn = nil
			t.mu.Unlock()
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return fmt.Errorf("failed to read from lokutor: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("lokutor error: %s", msg)
			}
		}
	}
}

// SynthesizeAck produces a short backchannel/confirmation utterance using
// the same batch path as Synthesize. The result is not cached: each call
// makes a fresh request.
func (t *LokutorTTS) SynthesizeAck(ctx context.Context, shortText string, voice session.Voice, lang session.Language) ([]byte, error) {
	return t.Synthesize(ctx, shortText, voice, lang)
}

// Abort interrupts any in-flight StreamSynthesize call. The underlying
// websocket connection is preserved so the next turn can reuse it; only the
// current synthesis request is cut short.
func (t *LokutorTTS) Abort() error {
	t.streamMu.Lock()
	cancel := t.activeCancel
	t.streamMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	// Best-effort: tell the server to stop generating for this turn, in
	// case its buffered audio keeps arriving after we've stopped reading.
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		_ = wsjson.Write(context.Background(), conn, map[string]interface{}{"action": "abort"})
	}
	return nil
}

func (t *LokutorTTS) Name() string {
	return "lokutor"
}

func (t *LokutorTTS) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}
