package session

import (
	"time"

	"minutes/waveform"
)

type Stage int

const (
	Idle Stage = iota
	Recording
	Paused
)

func (s Stage) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Baseline is the resting bar intensity shown for a stage when there is no
// live amplitude data.
func (s Stage) Baseline() float64 {
	switch s {
	case Recording:
		return waveform.RecordingLevel
	case Paused:
		return waveform.PausedLevel
	default:
		return waveform.IdleLevel
	}
}

// Snapshot is a copy of the controller state.
type Snapshot struct {
	Stage           Stage
	Transcript      string
	StartedAt       time.Time // zero until the session first records
	HasCapture      bool
	Acquiring       bool
	SpeechSupported bool
	SessionID       string
}

// Status is the user-facing projection of a Snapshot.
type Status struct {
	Text      string
	Action    string
	CanSend   bool
	Acquiring bool
	StartedAt time.Time // the session start used in the delivered message
}

func (s Snapshot) Status() Status {
	st := Status{Acquiring: s.Acquiring, StartedAt: s.StartedAt}
	switch {
	case s.Acquiring:
		st.Text = "Requesting microphone access..."
		st.Action = "Waiting for microphone"
	case s.Stage == Recording:
		st.Text = "Recording In Progress"
		st.Action = "Pause recording"
		if !s.SpeechSupported {
			st.Text += " (no live transcript)"
		}
	case s.Stage == Paused:
		st.Text = "Recording Paused"
		st.Action = "Resume recording"
		st.CanSend = s.Transcript != ""
	default:
		st.Text = "Recording Not Started"
		st.Action = "Start recording"
	}
	return st
}
