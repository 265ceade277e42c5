package audio

import (
	"sync"
	"sync/atomic"
)

// Stream is an acquired capture device. It implements session.Handle.
type Stream struct {
	device   DeviceInfo
	capture  CaptureDevice
	analyser *Analyser
	tap      func([]byte)

	active atomic.Bool

	mu   sync.Mutex
	subs map[uint64]func([]byte)
	next uint64
}

func newStream(device DeviceInfo, capture CaptureDevice, tap func([]byte)) *Stream {
	s := &Stream{
		device:   device,
		capture:  capture,
		analyser: NewAnalyser(),
		tap:      tap,
		subs:     make(map[uint64]func([]byte)),
	}
	s.active.Store(true)
	return s
}

func (s *Stream) Active() bool { return s.active.Load() }

func (s *Stream) DeviceName() string { return s.device.Name }

func (s *Stream) Subscribe(fn func(pcm []byte)) (cancel func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Revoke marks the stream lost and drops its subscribers. Buffers that
// arrive afterwards are discarded.
func (s *Stream) Revoke() {
	if !s.active.Swap(false) {
		return
	}
	s.mu.Lock()
	clear(s.subs)
	s.mu.Unlock()
}

func (s *Stream) dispatch(pcm []byte, _ uint32) {
	if !s.active.Load() {
		return
	}
	s.analyser.Write(pcm)

	s.mu.Lock()
	fns := make([]func([]byte), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(pcm)
	}
	if s.tap != nil {
		s.tap(pcm)
	}
}
