//go:build linux

package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// Meeting rooms are quieter than push-to-talk dictation at the desk, so the
// PulseAudio source volume is raised and samples get a modest digital gain.
const (
	pulseSourceVolume = 2
	pulseGain         = 4
)

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("minutes"))
	if err != nil {
		return nil, fmt.Errorf("pulse: %w: %w", ErrNoBackend, err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	devices := make([]DeviceInfo, 0, len(sources))
	for _, s := range sources {
		devices = append(devices, DeviceInfo{ID: s.ID(), Name: s.Name()})
	}
	return devices, nil
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	var source *pulse.Source
	if device != nil {
		s, err := p.client.SourceByID(device.ID)
		if err != nil {
			return nil, fmt.Errorf("pulse source %q: %w", device.Name, err)
		}
		source = s
	}
	return &pulseCapture{client: p.client, source: source, config: config}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseCapture struct {
	client   *pulse.Client
	source   *pulse.Source
	config   CaptureConfig
	callback atomic.Pointer[DataCallback]

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return nil
	}

	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		cb := c.callback.Load()
		if cb == nil || len(buf) == 0 {
			return len(buf), nil
		}
		(*cb)(amplify(buf, pulseGain), uint32(len(buf)))
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(int(c.config.SampleRate)),
		pulse.RecordLatency(0.05),
		pulse.RecordRawOption(func(r *proto.CreateRecordStream) {
			r.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm) * pulseSourceVolume}
		}),
	}
	if c.source != nil {
		opts = append(opts, pulse.RecordSource(c.source))
	}

	stream, err := c.client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("pulse record: %w", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop, c.done = stop, done
	go func() {
		defer close(done)
		stream.Start()
		<-stop
		stream.Stop()
		stream.Close()
	}()
	return nil
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop, c.done = nil, nil
}

func (c *pulseCapture) Close() { c.Stop() }

func (c *pulseCapture) SetCallback(cb DataCallback) { c.callback.Store(&cb) }
func (c *pulseCapture) ClearCallback()              { c.callback.Store(nil) }

// amplify converts samples to little-endian PCM16 with saturating gain.
func amplify(buf []int16, gain int32) []byte {
	data := make([]byte, len(buf)*BytesPerSample)
	for i, s := range buf {
		v := int32(s) * gain
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(v)))
	}
	return data
}
