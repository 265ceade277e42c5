package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"

	"minutes/session"
)

const deepgramListenURL = "wss://api.deepgram.com/v1/listen"

type streamConfig struct {
	SampleRate int
	Channels   int
	Language   string
	Model      string
}

type deepgramStreamResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStreamSession struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func listenURL(base string, cfg streamConfig) (string, error) {
	if base == "" {
		base = deepgramListenURL
	}
	endpoint, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := endpoint.Query()
	model := cfg.Model
	if model == "" {
		model = "nova-3"
	}
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if cfg.SampleRate > 0 {
		q.Set("sample_rate", fmt.Sprintf("%d", cfg.SampleRate))
	}
	if cfg.Channels > 0 {
		q.Set("channels", fmt.Sprintf("%d", cfg.Channels))
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}

// dialStream opens the websocket. dialCtx bounds the handshake only.
func (d *Deepgram) dialStream(dialCtx context.Context, cfg streamConfig) (rawStreamSession, error) {
	u, err := listenURL(d.endpoint, cfg)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	conn, resp, err := websocket.Dial(dialCtx, u, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: deepgram handshake %d", session.ErrNotAllowed, resp.StatusCode)
		}
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &deepgramStreamSession{conn: conn, ctx: ctx, cancel: cancel}, nil
}

func (s *deepgramStreamSession) Send(pcm []byte) error {
	return s.conn.Write(s.ctx, websocket.MessageBinary, pcm)
}

func (s *deepgramStreamSession) CloseSend() error {
	return s.conn.Write(s.ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
}

func (s *deepgramStreamSession) Recv() (streamUpdate, error) {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if isPolicyClose(err) {
				return streamUpdate{}, fmt.Errorf("%w: %v", session.ErrNotAllowed, err)
			}
			return streamUpdate{}, err
		}

		var resp deepgramStreamResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return streamUpdate{}, fmt.Errorf("deepgram message: %w", err)
		}
		if resp.Type != "" && resp.Type != "Results" {
			continue // Metadata, SpeechStarted, UtteranceEnd
		}

		transcript := ""
		if len(resp.Channel.Alternatives) > 0 {
			transcript = resp.Channel.Alternatives[0].Transcript
		}
		return streamUpdate{
			Transcript:   strings.TrimSpace(transcript),
			IsFinal:      resp.IsFinal,
			SpeechFinal:  resp.SpeechFinal,
			FromFinalize: resp.FromFinalize,
		}, nil
	}
}

func (s *deepgramStreamSession) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

func isPolicyClose(err error) bool {
	return websocket.CloseStatus(err) == websocket.StatusPolicyViolation
}
