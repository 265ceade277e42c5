// Package metrics exposes recorder counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"minutes/session"
)

type Metrics struct {
	Registry *prometheus.Registry

	Transitions    *prometheus.CounterVec
	Notices        *prometheus.CounterVec
	Frames         prometheus.Counter
	TranscriptSize prometheus.Gauge
	SilenceWarns   prometheus.Counter
	HotkeyPresses  prometheus.Counter
	DevicesLost    prometheus.Counter

	mu   sync.Mutex
	last session.Stage
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minutes_stage_transitions_total",
			Help: "Recording stage transitions by target stage",
		}, []string{"stage"}),
		Notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minutes_notices_total",
			Help: "Failures shown to the user by kind",
		}, []string{"kind"}),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minutes_waveform_frames_total",
			Help: "Waveform frames rendered",
		}),
		TranscriptSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "minutes_transcript_bytes",
			Help: "Length of the current transcript",
		}),
		SilenceWarns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minutes_silence_warnings_total",
			Help: "No-voice warnings raised while recording",
		}),
		HotkeyPresses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minutes_hotkey_presses_total",
			Help: "Global hotkey toggles",
		}),
		DevicesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minutes_capture_devices_lost_total",
			Help: "Capture devices that disappeared mid-session",
		}),
	}
	m.Registry.MustRegister(
		m.Transitions, m.Notices, m.Frames, m.TranscriptSize,
		m.SilenceWarns, m.HotkeyPresses, m.DevicesLost,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Sink returns a session.Sink that records controller output.
func (m *Metrics) Sink() session.Sink { return sink{m} }

type sink struct{ m *Metrics }

func (s sink) Stage(stage session.Stage, _ session.Status) {
	s.m.mu.Lock()
	changed := stage != s.m.last
	s.m.last = stage
	s.m.mu.Unlock()
	if changed {
		s.m.Transitions.WithLabelValues(stage.String()).Inc()
	}
}

func (s sink) Bars([]float64) { s.m.Frames.Inc() }

func (s sink) Transcript(text string) { s.m.TranscriptSize.Set(float64(len(text))) }

func (s sink) Notice(err *session.Error) {
	s.m.Notices.WithLabelValues(kindLabel(err.Kind)).Inc()
}

var kindLabels = map[session.Kind]string{
	session.CaptureUnavailable:       "capture_unavailable",
	session.CaptureDenied:            "capture_denied",
	session.TranscriptionUnsupported: "transcription_unsupported",
	session.TranscriptionStartFailed: "transcription_start_failed",
	session.TranscriptionDenied:      "transcription_denied",
	session.NoTranscriptYet:          "no_transcript",
	session.MissingRecipient:         "missing_recipient",
	session.NotPaused:                "not_paused",
	session.DeliveryFailed:           "delivery_failed",
}

func kindLabel(k session.Kind) string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return "unknown"
}
