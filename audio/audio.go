// Package audio captures microphone input as 16 kHz mono PCM16 and exposes
// it to the session controller as revocable stream handles.
package audio

import "strings"

const (
	SampleRate     = 16000
	Channels       = 1
	BitsPerSample  = 16
	BytesPerSample = BitsPerSample / 8

	WAVHeaderSize = 44
)

// Headset names that usually mean a Bluetooth link. Those drop to a narrow
// band codec while the microphone is open, which hurts transcription.
var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(pcm []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{SampleRate: SampleRate, Channels: Channels}
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

// Context is a platform audio backend.
type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}
