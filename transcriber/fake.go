package transcriber

import (
	"fmt"
	"sync"
	"sync/atomic"

	"minutes/audio"
	"minutes/session"
)

// Fake emits one scripted segment for every BytesPerSegment of PCM it
// receives, first as an interim result and then as a final one. Each
// recognition continues the script where the previous one stopped.
type Fake struct {
	BytesPerSegment int
	err             error

	mu     sync.Mutex
	script []string
	next   int
	starts int
}

// NewFake returns a fake provider. A non-nil err makes every Start fail.
func NewFake(script []string, err error) *Fake {
	return &Fake{
		BytesPerSegment: audio.SampleRate * audio.BytesPerSample, // one second
		script:          script,
		err:             err,
	}
}

func (f *Fake) Supported() bool { return true }

func (f *Fake) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *Fake) Start(h session.Handle, cb session.Callbacks) (session.Recognition, error) {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	if f.err != nil {
		return nil, fmt.Errorf("fake transcriber: %w", f.err)
	}
	r := &fakeRecognition{f: f, cb: cb}
	r.cancel = h.Subscribe(r.feed)
	return r, nil
}

func (f *Fake) take() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.script) {
		return "", false
	}
	seg := f.script[f.next]
	f.next++
	return seg, true
}

type fakeRecognition struct {
	f       *Fake
	cb      session.Callbacks
	cancel  func()
	stopped atomic.Bool

	mu  sync.Mutex
	got int
}

func (r *fakeRecognition) feed(pcm []byte) {
	if r.stopped.Load() {
		return
	}
	r.mu.Lock()
	r.got += len(pcm)
	due := r.got >= r.f.BytesPerSegment
	if due {
		r.got -= r.f.BytesPerSegment
	}
	r.mu.Unlock()
	if !due {
		return
	}

	seg, ok := r.f.take()
	if !ok {
		return
	}
	if r.cb.OnResult == nil || r.stopped.Load() {
		return
	}
	r.cb.OnResult(session.Result{Interim: []string{seg}})
	if r.stopped.Load() {
		return
	}
	r.cb.OnResult(session.Result{Final: []string{seg}})
}

func (r *fakeRecognition) Stop() {
	if r.stopped.Swap(true) {
		return
	}
	r.cancel()
}
