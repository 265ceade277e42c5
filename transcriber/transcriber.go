// Package transcriber provides live speech-to-text for a capture handle.
package transcriber

import (
	"fmt"
	"os"
	"time"

	"minutes/session"
)

type Config struct {
	APIKey      string
	Language    string
	Model       string
	Endpoint    string        // overrides the Deepgram listen URL
	DialTimeout time.Duration // 0 means DefaultDialTimeout
}

const DefaultDialTimeout = 5 * time.Second

// New picks the configured provider. Without an API key (from cfg or
// DEEPGRAM_API_KEY) it returns a provider that reports itself unsupported.
func New(cfg Config) session.TranscriptionProvider {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	}
	if cfg.APIKey == "" {
		return Unsupported{}
	}
	return NewDeepgram(cfg)
}

// Name identifies a provider in logs.
func Name(p session.TranscriptionProvider) string {
	switch p.(type) {
	case *Deepgram:
		return "deepgram"
	case *Fake:
		return "fake"
	case Unsupported:
		return "none"
	default:
		return fmt.Sprintf("%T", p)
	}
}

type Unsupported struct{}

func (Unsupported) Supported() bool { return false }

func (Unsupported) Start(session.Handle, session.Callbacks) (session.Recognition, error) {
	return nil, session.ErrUnsupported
}
