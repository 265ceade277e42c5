package waveform

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestLevelsClampedForAllInputs(t *testing.T) {
	bins := make([]byte, 1024)
	for v := 0; v <= 255; v++ {
		for i := range bins {
			bins[i] = byte((v + i) % 256)
		}
		for _, n := range []int{1, 7, 52, 1024, 2000} {
			for i, l := range Levels(bins, n) {
				if l < Floor || l > 1 {
					t.Fatalf("v=%d n=%d bar %d = %f, out of [%.2f, 1]", v, n, i, l, Floor)
				}
			}
		}
	}
}

func TestLevelsSilenceSitsOnFloor(t *testing.T) {
	for _, l := range Levels(make([]byte, 128), DefaultBars) {
		if l != Floor {
			t.Fatalf("silent bar = %f, want %f", l, Floor)
		}
	}
}

func TestLevelsFullScale(t *testing.T) {
	bins := make([]byte, 104)
	for i := range bins {
		bins[i] = 255
	}
	for _, l := range Levels(bins, DefaultBars) {
		if l != 1 {
			t.Fatalf("full-scale bar = %f, want 1", l)
		}
	}
}

func TestLevelsBucketAverage(t *testing.T) {
	// two bars: first bucket averages 102, second 204
	bins := []byte{51, 153, 204, 204}
	got := Levels(bins, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if want := 102.0 / 255; got[0] != want {
		t.Errorf("bar 0 = %f, want %f", got[0], want)
	}
	if want := 204.0 / 255; got[1] != want {
		t.Errorf("bar 1 = %f, want %f", got[1], want)
	}
}

func TestLevelsMoreBarsThanBins(t *testing.T) {
	got := Levels([]byte{255, 0}, 4)
	want := []float64{1, 1, Floor, Floor}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bar %d = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestLevelsEmptyUsesRecordingBaseline(t *testing.T) {
	got := Levels(nil, DefaultBars)
	if len(got) != DefaultBars {
		t.Fatalf("len = %d, want %d", len(got), DefaultBars)
	}
	for _, l := range got {
		if l != RecordingLevel {
			t.Fatalf("bar = %f, want %f", l, RecordingLevel)
		}
	}
	if Levels(nil, 0) != nil {
		t.Error("zero bars should be nil")
	}
}

func TestTickerFiresOnce(t *testing.T) {
	tk := NewTicker(time.Millisecond)
	var n atomic.Int32
	done := make(chan struct{})
	tk.RequestFrame(func() {
		n.Add(1)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("frame never fired")
	}
	time.Sleep(10 * time.Millisecond)
	if n.Load() != 1 {
		t.Errorf("fired %d times, want 1", n.Load())
	}
}

func TestTickerCancel(t *testing.T) {
	tk := NewTicker(20 * time.Millisecond)
	var fired atomic.Bool
	cancel := tk.RequestFrame(func() { fired.Store(true) })
	cancel()
	cancel()
	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled frame fired")
	}
}

func TestNewTickerDefault(t *testing.T) {
	if got := NewTicker(0).Interval(); got != DefaultFrameInterval {
		t.Errorf("interval = %v, want %v", got, DefaultFrameInterval)
	}
}
