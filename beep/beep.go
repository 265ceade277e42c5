// Package beep plays short audible cues for recording state changes.
package beep

import (
	"math"
	"sync/atomic"
)

type Cue int

const (
	Recording Cue = iota
	Paused
	Failure
	Silence
)

const sampleRate = 44100

type tone struct {
	freq     float64
	duration float64 // seconds, includes the decay tail
	volume   float64
	decay    float64
	repeat   int     // extra copies after a gap
	gap      float64 // seconds between copies
}

var tones = map[Cue]tone{
	Recording: {freq: 1200, duration: 0.2, volume: 0.5, decay: 60},
	Paused:    {freq: 900, duration: 0.2, volume: 0.5, decay: 40},
	Failure:   {freq: 350, duration: 0.08, volume: 0.6, decay: 30, repeat: 1, gap: 0.05},
	Silence:   {freq: 600, duration: 0.12, volume: 0.35, decay: 50},
}

var disabled atomic.Bool

func Disable() { disabled.Store(true) }

// Play starts the cue in the background. Unknown cues and playback errors
// are ignored.
func Play(c Cue) {
	if disabled.Load() {
		return
	}
	samples := Samples(c)
	if samples == nil {
		return
	}
	go play(samples)
}

// Samples renders a cue as mono 16-bit samples at 44.1 kHz.
func Samples(c Cue) []int16 {
	t, ok := tones[c]
	if !ok {
		return nil
	}
	one := render(t)
	gap := make([]int16, int(sampleRate*t.gap))
	out := make([]int16, 0, len(one)*(t.repeat+1)+len(gap)*t.repeat)
	out = append(out, one...)
	for i := 0; i < t.repeat; i++ {
		out = append(out, gap...)
		out = append(out, one...)
	}
	return out
}

func render(t tone) []int16 {
	n := int(sampleRate * t.duration)
	samples := make([]int16, n)
	for i := range samples {
		x := float64(i) / sampleRate
		env := math.Exp(-x * t.decay)
		samples[i] = int16(math.Sin(2*math.Pi*t.freq*x) * 32767 * t.volume * env)
	}
	return samples
}
