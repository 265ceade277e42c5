// Package waveform turns analyser frequency bins into the bar intensities
// drawn by the recorder UI.
package waveform

const (
	DefaultBars = 52

	// Floor keeps bars from collapsing to nothing on quiet input.
	Floor = 0.18

	IdleLevel      = 0.18
	RecordingLevel = 0.28 // recording, but no signal yet
	PausedLevel    = 0.32
)

// Levels averages bins into n buckets and maps each average onto [Floor, 1].
// An empty bins slice yields the recording baseline for every bar.
func Levels(bins []byte, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if len(bins) == 0 {
		return Fill(n, RecordingLevel)
	}

	out := make([]float64, n)
	for i := range out {
		start := i * len(bins) / n
		end := (i + 1) * len(bins) / n
		if end <= start {
			end = start + 1
		}
		if end > len(bins) {
			end = len(bins)
			start = end - 1
		}

		var sum int
		for _, b := range bins[start:end] {
			sum += int(b)
		}
		avg := float64(sum) / float64(end-start)
		out[i] = clamp(avg / 255)
	}
	return out
}

// Fill returns n bars at the same level.
func Fill(n int, level float64) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = level
	}
	return out
}

func clamp(v float64) float64 {
	if v < Floor {
		return Floor
	}
	if v > 1 {
		return 1
	}
	return v
}
