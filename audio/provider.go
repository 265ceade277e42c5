package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"minutes/log"
	"minutes/session"
)

// ErrNoBackend means the platform audio system could not be reached.
var ErrNoBackend = errors.New("no audio backend")

// Provider opens capture streams on a selected device. It implements
// session.CaptureProvider and session.AmplitudeSource.
type Provider struct {
	ctx    Context
	device *DeviceInfo // nil selects the system default
	config CaptureConfig

	mu      sync.Mutex
	streams map[*Stream]struct{}
	taps    map[uint64]func([]byte)
	nextTap uint64
}

// NewProvider wraps ctx. A nil ctx yields a provider whose Acquire always
// reports session.ErrUnsupported.
func NewProvider(ctx Context, device *DeviceInfo) *Provider {
	return &Provider{
		ctx:     ctx,
		device:  device,
		config:  DefaultCaptureConfig(),
		streams: make(map[*Stream]struct{}),
		taps:    make(map[uint64]func([]byte)),
	}
}

func (p *Provider) Device() *DeviceInfo { return p.device }

func (p *Provider) Acquire(ctx context.Context) (session.Handle, error) {
	if p.ctx == nil {
		return nil, fmt.Errorf("%w: %w", session.ErrUnsupported, ErrNoBackend)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	capture, err := p.ctx.NewCapture(p.device, p.config)
	if err != nil {
		return nil, classify(err)
	}

	info := DeviceInfo{Name: "system default"}
	if p.device != nil {
		info = *p.device
	}
	s := newStream(info, capture, p.fanout)
	capture.SetCallback(s.dispatch)
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		return nil, classify(err)
	}
	if err := ctx.Err(); err != nil {
		p.stop(s)
		return nil, err
	}

	p.mu.Lock()
	p.streams[s] = struct{}{}
	p.mu.Unlock()
	return s, nil
}

func (p *Provider) Release(h session.Handle) {
	s, ok := h.(*Stream)
	if !ok {
		return
	}
	p.mu.Lock()
	_, owned := p.streams[s]
	delete(p.streams, s)
	p.mu.Unlock()
	if owned {
		p.stop(s)
	}
}

func (p *Provider) stop(s *Stream) {
	s.Revoke()
	s.capture.ClearCallback()
	s.capture.Stop()
	s.capture.Close()
}

func (p *Provider) FrequencyBins(h session.Handle) []byte {
	s, ok := h.(*Stream)
	if !ok || !s.Active() {
		return nil
	}
	return s.analyser.Bins()
}

// Tap registers fn for the PCM of every stream this provider opens.
func (p *Provider) Tap(fn func(pcm []byte)) (cancel func()) {
	p.mu.Lock()
	id := p.nextTap
	p.nextTap++
	p.taps[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.taps, id)
		p.mu.Unlock()
	}
}

func (p *Provider) fanout(pcm []byte) {
	p.mu.Lock()
	fns := make([]func([]byte), 0, len(p.taps))
	for _, fn := range p.taps {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(pcm)
	}
}

// DeviceGone revokes the open streams bound to the named device, or every
// stream when name is empty. It returns how many were revoked.
func (p *Provider) DeviceGone(name string) int {
	p.mu.Lock()
	var gone []*Stream
	for s := range p.streams {
		if name == "" || s.device.Name == name {
			gone = append(gone, s)
			delete(p.streams, s)
		}
	}
	p.mu.Unlock()

	for _, s := range gone {
		log.Warnf("capture device gone: %s", s.device.Name)
		p.stop(s)
	}
	return len(gone)
}

// Watch polls the device list until ctx is done and revokes streams whose
// device disappeared. onGone runs after each revocation.
func (p *Provider) Watch(ctx context.Context, every time.Duration, onGone func()) {
	if p.ctx == nil {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		devices, err := p.ctx.Devices()
		if err != nil {
			log.Warnf("device poll: %v", err)
			continue
		}
		if present(devices, p.device) {
			continue
		}
		name := ""
		if p.device != nil {
			name = p.device.Name
		}
		if p.DeviceGone(name) > 0 && onGone != nil {
			onGone()
		}
	}
}

func present(devices []DeviceInfo, want *DeviceInfo) bool {
	if want == nil {
		return len(devices) > 0
	}
	for _, d := range devices {
		if d.ID == want.ID {
			return true
		}
	}
	return false
}

// classify maps a backend failure onto the session capture errors.
func classify(err error) error {
	switch {
	case errors.Is(err, session.ErrPermissionDenied), errors.Is(err, session.ErrUnsupported):
		return err
	case isPermission(err):
		return fmt.Errorf("%w: %w", session.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %w", session.ErrUnsupported, err)
	}
}

func isPermission(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"permission", "access denied", "not authorized", "not permitted"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
