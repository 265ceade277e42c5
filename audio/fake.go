package audio

import (
	"os"
	"sync"
	"time"
)

const fakeFrameSize = 1024 // samples per callback

// FakeContext replays a WAV file through every capture it opens, then
// feeds silence. Realtime pacing is optional.
type FakeContext struct {
	pcm      []byte
	realtime bool

	doneOnce  sync.Once
	audioDone chan struct{}
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContextPCM(data, realtime), nil
}

func NewFakeContextPCM(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime, audioDone: make(chan struct{})}
}

// AudioDone is closed once a capture has played the whole file.
func (f *FakeContext) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &fakeCapture{ctx: f}, nil
}

func (f *FakeContext) markDone() {
	f.doneOnce.Do(func() { close(f.audioDone) })
}

type fakeCapture struct {
	ctx *FakeContext

	mu   sync.Mutex
	cb   DataCallback
	stop chan struct{}
	done chan struct{}
}

func (c *fakeCapture) SetCallback(cb DataCallback) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

func (c *fakeCapture) ClearCallback() { c.SetCallback(nil) }

func (c *fakeCapture) callback() DataCallback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb
}

func (c *fakeCapture) Start() error {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop, c.done = stop, done
	c.mu.Unlock()

	go c.feed(stop, done)
	return nil
}

func (c *fakeCapture) feed(stop, done chan struct{}) {
	defer close(done)

	chunk := fakeFrameSize * BytesPerSample
	interval := time.Millisecond
	if c.ctx.realtime {
		interval = time.Duration(fakeFrameSize) * time.Second / SampleRate
	}
	silence := make([]byte, chunk)
	pcm := c.ctx.pcm
	pos := 0

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		cb := c.callback()
		if cb == nil {
			continue
		}
		if pos < len(pcm) {
			end := min(pos+chunk, len(pcm))
			buf := make([]byte, end-pos)
			copy(buf, pcm[pos:end])
			pos = end
			cb(buf, uint32(len(buf)/BytesPerSample))
			if pos >= len(pcm) {
				c.ctx.markDone()
			}
			continue
		}
		c.ctx.markDone()
		cb(silence, fakeFrameSize)
	}
}

func (c *fakeCapture) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (c *fakeCapture) Close() { c.Stop() }
