package main

import (
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"minutes/beep"
	"minutes/session"
)

// Messages delivered to the TUI.
type stageMsg struct {
	Stage     session.Stage
	Status    session.Status
	StartedAt time.Time
}
type barsMsg struct{ Levels []float64 }
type transcriptMsg struct{ Text string }
type noticeMsg struct {
	Kind session.Kind
	Text string
}
type voiceMsg struct{ Silent bool }
type deviceMsg struct{ Name string }

// teaSink forwards controller output to a running program.
type teaSink struct {
	send func(tea.Msg)
}

func (s teaSink) Stage(stage session.Stage, status session.Status) {
	s.send(stageMsg{Stage: stage, Status: status, StartedAt: status.StartedAt})
}

func (s teaSink) Bars(levels []float64) {
	s.send(barsMsg{Levels: levels})
}

func (s teaSink) Transcript(text string) {
	s.send(transcriptMsg{Text: text})
}

func (s teaSink) Notice(err *session.Error) {
	s.send(noticeMsg{Kind: err.Kind, Text: err.Error()})
}

// cueSink plays a beep on stage changes and failures and counts started
// sessions.
type cueSink struct {
	mu       sync.Mutex
	last     session.Stage
	sessions atomic.Int32
}

func (s *cueSink) Stage(stage session.Stage, _ session.Status) {
	s.mu.Lock()
	prev := s.last
	s.last = stage
	s.mu.Unlock()
	if stage == prev {
		return
	}
	switch stage {
	case session.Recording:
		if prev == session.Idle {
			s.sessions.Add(1)
		}
		beep.Play(beep.Recording)
	case session.Paused:
		beep.Play(beep.Paused)
	}
}

func (s *cueSink) Bars([]float64)    {}
func (s *cueSink) Transcript(string) {}

func (s *cueSink) Notice(err *session.Error) {
	switch err.Kind {
	case session.CaptureDenied, session.CaptureUnavailable,
		session.TranscriptionDenied, session.TranscriptionStartFailed, session.DeliveryFailed:
		beep.Play(beep.Failure)
	}
}

func (s *cueSink) Sessions() int { return int(s.sessions.Load()) }

type multiSink []session.Sink

func (m multiSink) Stage(stage session.Stage, status session.Status) {
	for _, s := range m {
		s.Stage(stage, status)
	}
}

func (m multiSink) Bars(levels []float64) {
	for _, s := range m {
		s.Bars(levels)
	}
}

func (m multiSink) Transcript(text string) {
	for _, s := range m {
		s.Transcript(text)
	}
}

func (m multiSink) Notice(err *session.Error) {
	for _, s := range m {
		s.Notice(err)
	}
}
