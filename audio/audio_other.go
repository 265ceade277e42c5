//go:build !linux

package audio

import (
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: %w: %w", ErrNoBackend, err)
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	result := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID.Pointer()[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	if device != nil {
		idBytes, err := hex.DecodeString(device.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	c := &malgoCapture{}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			if cb := c.callback.Load(); cb != nil {
				buf := make([]byte, len(data))
				copy(buf, data)
				(*cb)(buf, frameCount)
			}
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo init device: %w", err)
	}
	c.device = dev
	return c, nil
}

func (m *malgoContext) Close() {
	_ = m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	device   *malgo.Device
	callback atomic.Pointer[DataCallback]
	once     sync.Once
}

func (c *malgoCapture) Start() error { return c.device.Start() }
func (c *malgoCapture) Stop()        { _ = c.device.Stop() }

func (c *malgoCapture) Close() {
	c.once.Do(func() {
		_ = c.device.Stop()
		c.device.Uninit()
	})
}

func (c *malgoCapture) SetCallback(cb DataCallback) { c.callback.Store(&cb) }
func (c *malgoCapture) ClearCallback()              { c.callback.Store(nil) }
