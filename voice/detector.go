// Package voice watches the microphone tap for speech and warns when a
// recording has gone quiet.
package voice

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"minutes/audio"
)

const (
	frameMs    = 20
	frameBytes = audio.SampleRate * frameMs / 1000 * audio.BytesPerSample // 640 bytes
	debounce   = 3                                                        // consecutive speech frames to confirm voice

	// A frame is speech when its RMS clears both the absolute minimum and
	// floorRatio times the running noise floor.
	minSpeechRMS = 300.0
	floorRatio   = 3.0
	floorAdapt   = 0.05

	speechThreshold = 0.10 // share of frames in a tick that must be speech
)

// Detector classifies 16 kHz mono PCM in 20ms frames by energy. It is safe
// for concurrent use.
type Detector struct {
	mu            sync.Mutex
	buf           []byte
	floor         float64
	floorSet      bool
	speechRun     int
	voiceDetected bool
	lastVoiceTime time.Time
	totalFrames   int
	speechFrames  int
	tickTotal     int
	tickSpeech    int
}

func NewDetector() *Detector {
	return &Detector{}
}

// Write implements the audio tap signature.
func (d *Detector) Write(pcm []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, pcm...)
	for len(d.buf) >= frameBytes {
		active := d.classify(d.buf[:frameBytes])
		d.buf = d.buf[frameBytes:]

		d.totalFrames++
		if !active {
			d.speechRun = 0
			continue
		}
		d.speechFrames++
		d.speechRun++
		if d.voiceDetected || d.speechRun >= debounce {
			d.voiceDetected = true
			d.lastVoiceTime = time.Now()
		}
	}
}

func (d *Detector) classify(frame []byte) bool {
	level := rms(frame)
	if !d.floorSet {
		d.floor, d.floorSet = level, true
	}
	speech := level >= minSpeechRMS && level > d.floor*floorRatio
	if !speech {
		d.floor += (level - d.floor) * floorAdapt
	}
	return speech
}

func rms(frame []byte) float64 {
	n := len(frame) / audio.BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

func (d *Detector) VoiceDetected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.voiceDetected
}

func (d *Detector) LastVoiceTime() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastVoiceTime
}

func (d *Detector) Stats() (total, speech int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalFrames, d.speechFrames
}

// SpeechTick reports whether enough frames since the previous call were
// speech.
func (d *Detector) SpeechTick() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.totalFrames - d.tickTotal
	s := d.speechFrames - d.tickSpeech
	d.tickTotal, d.tickSpeech = d.totalFrames, d.speechFrames
	if t == 0 {
		return false
	}
	return float64(s)/float64(t) >= speechThreshold
}

// Reset clears buffered audio and the detected state. The noise floor is
// kept since the room has not changed.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = d.buf[:0]
	d.voiceDetected = false
	d.lastVoiceTime = time.Time{}
	d.speechRun = 0
	d.tickTotal, d.tickSpeech = d.totalFrames, d.speechFrames
}
