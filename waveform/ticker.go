package waveform

import (
	"sync"
	"time"
)

const DefaultFrameInterval = 33 * time.Millisecond

// Ticker schedules one-shot frame callbacks, the terminal stand-in for an
// animation frame request.
type Ticker struct {
	interval time.Duration
}

func NewTicker(interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Ticker{interval: interval}
}

func (t *Ticker) Interval() time.Duration { return t.interval }

// RequestFrame runs fn once after one frame interval. The returned cancel
// func may be called any number of times, before or after fn has run.
func (t *Ticker) RequestFrame(fn func()) (cancel func()) {
	timer := time.AfterFunc(t.interval, fn)
	var once sync.Once
	return func() {
		once.Do(func() { timer.Stop() })
	}
}
