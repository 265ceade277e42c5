//go:build !linux

package beep

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"minutes/log"
)

var (
	initOnce sync.Once
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	playMu  sync.Mutex
	current atomic.Pointer[[]byte]
	pos     atomic.Uint32
)

func initDevice() error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	var err error
	device, err = malgo.InitDevice(malgoCtx.Context, config, malgo.DeviceCallbacks{Data: fill})
	return err
}

func initPlayback() {
	var err error
	malgoCtx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Warnf("malgo playback: %v", err)
		return
	}
	if err := initDevice(); err != nil {
		log.Warnf("malgo playback device: %v", err)
		_ = malgoCtx.Uninit()
		malgoCtx = nil
	}
}

// fill runs on the audio thread.
func fill(out, _ []byte, frameCount uint32) {
	want := frameCount * 2
	written := uint32(0)
	if buf := current.Load(); buf != nil {
		p := pos.Load()
		if p < uint32(len(*buf)) {
			written = uint32(copy(out[:want], (*buf)[p:]))
			pos.Store(p + written)
		} else {
			current.Store(nil)
		}
	}
	clear(out[written:want])
}

func play(samples []int16) {
	initOnce.Do(initPlayback)
	if malgoCtx == nil {
		return
	}

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	playMu.Lock()
	defer playMu.Unlock()

	_ = device.Stop()
	pos.Store(0)
	current.Store(&buf)
	if err := device.Start(); err != nil {
		// the device goes stale across sleep/wake, rebuild it once
		device.Uninit()
		if err := initDevice(); err != nil {
			current.Store(nil)
			return
		}
		if err := device.Start(); err != nil {
			current.Store(nil)
		}
	}
}
