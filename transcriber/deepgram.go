package transcriber

import (
	"context"
	"time"

	"minutes/audio"
	"minutes/log"
	"minutes/session"
)

// Deepgram streams PCM to Deepgram's live listen endpoint. It implements
// session.TranscriptionProvider.
type Deepgram struct {
	apiKey      string
	endpoint    string
	language    string
	model       string
	dialTimeout time.Duration

	dial func(ctx context.Context, cfg streamConfig) (rawStreamSession, error)
}

func NewDeepgram(cfg Config) *Deepgram {
	d := &Deepgram{
		apiKey:      cfg.APIKey,
		endpoint:    cfg.Endpoint,
		language:    cfg.Language,
		model:       cfg.Model,
		dialTimeout: cfg.DialTimeout,
	}
	if d.dialTimeout <= 0 {
		d.dialTimeout = DefaultDialTimeout
	}
	d.dial = d.dialStream
	return d
}

func (d *Deepgram) Supported() bool { return true }

// Start connects synchronously so a refused handshake is reported to the
// caller instead of through callbacks.
func (d *Deepgram) Start(h session.Handle, cb session.Callbacks) (session.Recognition, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.dialTimeout)
	defer cancel()

	began := time.Now()
	ws, err := d.dial(ctx, streamConfig{
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
		Language:   d.language,
		Model:      d.model,
	})
	if err != nil {
		return nil, err
	}
	connect := time.Since(began)
	log.Infof("deepgram stream connected in %dms", connect.Milliseconds())
	return startRecognition(ws, h, cb, connect), nil
}
