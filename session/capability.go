package session

import (
	"context"
	"errors"
)

// Capture errors. Providers wrap one of these so the controller can tell a
// refused prompt from missing hardware.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnsupported      = errors.New("unsupported")
)

// ErrNotAllowed is reported through Callbacks.OnError when the
// transcription engine refuses service outright. It forces a pause.
var ErrNotAllowed = errors.New("transcription not allowed")

// Handle is an acquired microphone stream.
type Handle interface {
	// Active reports false once the stream was revoked or its device went away.
	Active() bool
	// Subscribe registers fn for every captured PCM16 buffer.
	Subscribe(fn func(pcm []byte)) (cancel func())
}

type CaptureProvider interface {
	Acquire(ctx context.Context) (Handle, error)
	Release(h Handle)
}

// AmplitudeSource exposes byte frequency data for a handle, refreshed on
// every read.
type AmplitudeSource interface {
	FrequencyBins(h Handle) []byte
}

// Result is one transcription event. Only Final segments are kept.
type Result struct {
	Final   []string
	Interim []string
}

type Callbacks struct {
	OnResult func(Result)
	OnError  func(error)
	OnEnd    func()
}

// Recognition is one running transcription instance.
type Recognition interface {
	// Stop detaches the instance. No callback starts after Stop returns.
	// It may be called from inside one of the instance's own callbacks.
	Stop()
}

type TranscriptionProvider interface {
	Supported() bool
	Start(h Handle, cb Callbacks) (Recognition, error)
}

// MailComposer hands a message to the user's mail client.
type MailComposer interface {
	Compose(recipient, subject, body string) error
}

// FrameScheduler runs fn once on a later frame. It must never call fn
// before RequestFrame returns.
type FrameScheduler interface {
	RequestFrame(fn func()) (cancel func())
}

// Sink receives everything the UI shows. Calls are made outside the
// controller lock and may arrive from any goroutine.
type Sink interface {
	Stage(stage Stage, status Status)
	Bars(levels []float64)
	Transcript(text string)
	Notice(err *Error)
}

type nopSink struct{}

func (nopSink) Stage(Stage, Status) {}
func (nopSink) Bars([]float64)      {}
func (nopSink) Transcript(string)   {}
func (nopSink) Notice(*Error)       {}
