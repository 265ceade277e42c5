package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeHandle struct {
	active atomic.Bool
	mu     sync.Mutex
	subs   map[int]func([]byte)
	next   int
}

func newFakeHandle() *fakeHandle {
	h := &fakeHandle{subs: map[int]func([]byte){}}
	h.active.Store(true)
	return h
}

func (h *fakeHandle) Active() bool       { return h.active.Load() }
func (h *fakeHandle) DeviceName() string { return "fake mic" }

func (h *fakeHandle) Subscribe(fn func([]byte)) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

type fakeCapture struct {
	mu       sync.Mutex
	err      error
	gate     chan struct{} // when set, Acquire waits on it
	acquires int
	releases int
	handles  []*fakeHandle
}

func (f *fakeCapture) Acquire(ctx context.Context) (Handle, error) {
	f.mu.Lock()
	f.acquires++
	gate := f.gate
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	h := newFakeHandle()
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h, nil
}

func (f *fakeCapture) Release(h Handle) {
	f.mu.Lock()
	f.releases++
	f.mu.Unlock()
	h.(*fakeHandle).active.Store(false)
}

func (f *fakeCapture) counts() (acquires, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires, f.releases
}

func (f *fakeCapture) last() *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

type fakeAmp struct {
	mu   sync.Mutex
	bins []byte
}

func (a *fakeAmp) set(bins []byte) {
	a.mu.Lock()
	a.bins = bins
	a.mu.Unlock()
}

func (a *fakeAmp) FrequencyBins(Handle) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bins
}

type fakeRec struct {
	cb      Callbacks
	stopped atomic.Bool
}

func (r *fakeRec) Stop() { r.stopped.Store(true) }

type fakeSpeech struct {
	unsupported bool
	mu          sync.Mutex
	startErr    error
	recs        []*fakeRec
}

func (s *fakeSpeech) Supported() bool { return !s.unsupported }

func (s *fakeSpeech) Start(_ Handle, cb Callbacks) (Recognition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	r := &fakeRec{cb: cb}
	s.recs = append(s.recs, r)
	return r, nil
}

func (s *fakeSpeech) setStartErr(err error) {
	s.mu.Lock()
	s.startErr = err
	s.mu.Unlock()
}

func (s *fakeSpeech) all() []*fakeRec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeRec(nil), s.recs...)
}

func (s *fakeSpeech) last() *fakeRec {
	recs := s.all()
	if len(recs) == 0 {
		return nil
	}
	return recs[len(recs)-1]
}

type mailCall struct {
	recipient, subject, body string
}

type fakeMail struct {
	mu    sync.Mutex
	err   error
	calls []mailCall
}

func (m *fakeMail) Compose(recipient, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mailCall{recipient, subject, body})
	return m.err
}

// manualFrames holds frame callbacks until fire is called.
type manualFrames struct {
	mu      sync.Mutex
	next    int
	pending map[int]func()
}

func (f *manualFrames) RequestFrame(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		f.pending = map[int]func(){}
	}
	id := f.next
	f.next++
	f.pending[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.pending, id)
		f.mu.Unlock()
	}
}

func (f *manualFrames) fire() int {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.pending))
	for _, fn := range f.pending {
		fns = append(fns, fn)
	}
	f.pending = map[int]func(){}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func (f *manualFrames) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

type recordingSink struct {
	mu          sync.Mutex
	stages      []Stage
	statuses    []Status
	bars        [][]float64
	transcripts []string
	notices     []*Error
}

func (s *recordingSink) Stage(st Stage, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, st)
	s.statuses = append(s.statuses, status)
}

func (s *recordingSink) Bars(levels []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = append(s.bars, levels)
}

func (s *recordingSink) Transcript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, text)
}

func (s *recordingSink) Notice(err *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, err)
}

func (s *recordingSink) lastBars() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bars) == 0 {
		return nil
	}
	return s.bars[len(s.bars)-1]
}

func (s *recordingSink) barCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bars)
}

func (s *recordingSink) noticeKinds() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kinds []Kind
	for _, n := range s.notices {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type delayedCall struct {
	d         time.Duration
	fn        func()
	cancelled atomic.Bool
}

type harness struct {
	ctrl    *Controller
	capture *fakeCapture
	amp     *fakeAmp
	speech  *fakeSpeech
	mail    *fakeMail
	frames  *manualFrames
	sink    *recordingSink
	clock   *fakeClock

	mu      sync.Mutex
	delayed []*delayedCall
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		capture: &fakeCapture{},
		amp:     &fakeAmp{},
		speech:  &fakeSpeech{},
		mail:    &fakeMail{},
		frames:  &manualFrames{},
		sink:    &recordingSink{},
		clock:   &fakeClock{now: time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)},
	}
	h.build()
	return h
}

func (h *harness) build() {
	h.ctrl = New(Options{
		Capture:   h.capture,
		Amplitude: h.amp,
		Speech:    h.speech,
		Mail:      h.mail,
		Frames:    h.frames,
		Sink:      h.sink,
		Now:       h.clock.Now,
		After: func(d time.Duration, fn func()) func() {
			dc := &delayedCall{d: d, fn: fn}
			h.mu.Lock()
			h.delayed = append(h.delayed, dc)
			h.mu.Unlock()
			return func() { dc.cancelled.Store(true) }
		},
	})
}

func (h *harness) runDelayed() {
	h.mu.Lock()
	calls := h.delayed
	h.delayed = nil
	h.mu.Unlock()
	for _, dc := range calls {
		if !dc.cancelled.Load() {
			dc.fn()
		}
	}
}

func (h *harness) mustStart(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.ctrl.Stage(); got != Recording {
		t.Fatalf("stage after Start = %v, want recording", got)
	}
}

func final(segs ...string) Result { return Result{Final: segs} }
