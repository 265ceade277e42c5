package voice

import (
	"context"
	"time"
)

const (
	TickInterval     = 100 * time.Millisecond
	silenceWarnAfter = 8 * time.Second
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher threshold to clear the warning
)

type Event int

const (
	None   Event = iota
	Warn         // no voice detected
	Clear        // speech resumed after a warning
	Repeat       // still silent, cue again
)

func (e Event) String() string {
	switch e {
	case Warn:
		return "warn"
	case Clear:
		return "clear"
	case Repeat:
		return "repeat"
	}
	return "none"
}

// Monitor turns per-tick speech flags into silence warnings over a
// sliding window of silenceWarnAfter.
type Monitor struct {
	window   []bool
	ticks    int
	warned   bool
	lastWarn int
}

func NewMonitor() *Monitor {
	return &Monitor{window: make([]bool, int(silenceWarnAfter/TickInterval))}
}

func (m *Monitor) ratio() float64 {
	n := len(m.window)
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+len(m.window))%len(m.window)] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *Monitor) Tick(hasSpeech bool) Event {
	m.window[m.ticks%len(m.window)] = hasSpeech
	m.ticks++
	warnAt := len(m.window)
	r := m.ratio()

	switch {
	case !m.warned && m.ticks >= warnAt && r < speechMinRatio:
		m.warned = true
		m.lastWarn = m.ticks
		return Warn
	case m.warned && r >= speechClearRatio:
		m.warned = false
		return Clear
	case m.warned && m.ticks-m.lastWarn >= warnAt:
		m.lastWarn = m.ticks
		return Repeat
	}
	return None
}

func (m *Monitor) Warned() bool { return m.warned }

func (m *Monitor) Reset() {
	clear(m.window)
	m.ticks = 0
	m.warned = false
	m.lastWarn = 0
}

// Watch ticks every TickInterval while ctx is live. While active reports
// false the monitor and detector are reset, and a pending warning is
// cleared through fn.
func Watch(ctx context.Context, d *Detector, active func() bool, fn func(Event)) {
	m := NewMonitor()
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !active() {
			if m.Warned() {
				fn(Clear)
			}
			if m.ticks > 0 {
				m.Reset()
				d.Reset()
			}
			continue
		}
		if ev := m.Tick(d.SpeechTick()); ev != None {
			fn(ev)
		}
	}
}
