package session

import "errors"

// Kind classifies the failures shown to the user.
type Kind int

const (
	CaptureUnavailable Kind = iota + 1
	CaptureDenied
	TranscriptionUnsupported
	TranscriptionStartFailed
	TranscriptionDenied
	NoTranscriptYet
	MissingRecipient
	NotPaused
	DeliveryFailed
)

var kindMessages = map[Kind]string{
	CaptureUnavailable:       "microphone access failed: no usable capture device",
	CaptureDenied:            "microphone access failed: permission denied",
	TranscriptionUnsupported: "live transcription is unavailable; recording continues without a transcript",
	TranscriptionStartFailed: "live transcription could not start",
	TranscriptionDenied:      "live transcription was refused; recording paused",
	NoTranscriptYet:          "no transcript yet",
	MissingRecipient:         "enter a recipient email address",
	NotPaused:                "pause the recording before sending the transcript",
	DeliveryFailed:           "could not open the mail client",
}

func (k Kind) String() string {
	if m, ok := kindMessages[k]; ok {
		return m
	}
	return "unknown error"
}

// Error is a failure surfaced to the UI layer. It never changes the
// controller's stage on its own.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the Kind carried by err, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
