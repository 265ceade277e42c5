package audio

import (
	"encoding/binary"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	FFTSize    = 2048
	BinCount   = FFTSize / 2
	MinDecibel = -100.0
	MaxDecibel = -30.0
	Smoothing  = 0.8
)

// Analyser turns the most recent FFTSize samples into byte frequency data:
// Hann window, FFT magnitude, exponential smoothing across reads, then the
// [MinDecibel, MaxDecibel] range mapped onto 0..255.
type Analyser struct {
	mu       sync.Mutex
	ring     []float64
	pos      int
	fft      *fourier.FFT
	coeffs   []complex128
	frame    []float64
	smoothed []float64
	out      []byte
}

func NewAnalyser() *Analyser {
	return &Analyser{
		ring:     make([]float64, FFTSize),
		fft:      fourier.NewFFT(FFTSize),
		coeffs:   make([]complex128, FFTSize/2+1),
		frame:    make([]float64, FFTSize),
		smoothed: make([]float64, BinCount),
		out:      make([]byte, BinCount),
	}
}

// Write feeds little-endian PCM16 samples.
func (a *Analyser) Write(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i+1 < len(pcm); i += BytesPerSample {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		a.ring[a.pos] = float64(s) / 32768
		a.pos = (a.pos + 1) % FFTSize
	}
}

// Bins recomputes and returns a copy of the current frequency data.
func (a *Analyser) Bins() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := copy(a.frame, a.ring[a.pos:])
	copy(a.frame[n:], a.ring[:a.pos])
	window.Hann(a.frame)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	for i := 0; i < BinCount; i++ {
		mag := cmplxAbs(a.coeffs[i]) / FFTSize
		a.smoothed[i] = Smoothing*a.smoothed[i] + (1-Smoothing)*mag
		a.out[i] = toByte(a.smoothed[i])
	}
	out := make([]byte, BinCount)
	copy(out, a.out)
	return out
}

func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}

func toByte(mag float64) byte {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := (db - MinDecibel) / (MaxDecibel - MinDecibel) * 255
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return byte(v)
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
