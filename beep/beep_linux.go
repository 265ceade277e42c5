//go:build linux

package beep

import (
	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"minutes/log"
)

// play opens a short-lived PulseAudio client per cue. Cues are rare, so
// there is no point holding a connection open.
func play(samples []int16) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("minutes"))
	if err != nil {
		log.Warnf("pulse playback: %v", err)
		return
	}
	defer c.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		log.Warnf("pulse playback: %v", err)
		return
	}
	stream.Start()
	stream.Drain()
	stream.Stop()
	stream.Close()
}
