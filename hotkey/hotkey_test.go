package hotkey

import (
	"context"
	"testing"
	"time"
)

func startPresses(t *testing.T, gap time.Duration) (*FakeHotkey, <-chan struct{}, context.CancelFunc) {
	t.Helper()
	fk := NewFake()
	got := make(chan struct{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Presses(ctx, fk, gap, func() { got <- struct{}{} })
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("Presses did not return after cancel")
		}
	})
	return fk, got, cancel
}

func waitPress(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for press")
	}
}

func TestPressFiresOnRelease(t *testing.T) {
	fk, got, _ := startPresses(t, 0)

	fk.SimKeydown()
	select {
	case <-got:
		t.Fatal("fired before the key was released")
	case <-time.After(30 * time.Millisecond):
	}
	fk.SimKeyup()
	waitPress(t, got)

	fk.SimPress()
	waitPress(t, got)
}

func TestPressDebounce(t *testing.T) {
	fk, got, _ := startPresses(t, 200*time.Millisecond)

	fk.SimPress()
	waitPress(t, got)

	fk.SimPress()
	select {
	case <-got:
		t.Fatal("bounced press was not dropped")
	case <-time.After(50 * time.Millisecond):
	}

	time.Sleep(200 * time.Millisecond)
	fk.SimPress()
	waitPress(t, got)
}

func TestPressesStopsOnCancel(t *testing.T) {
	fk, got, cancel := startPresses(t, 0)
	fk.SimKeydown()
	cancel()
	select {
	case <-got:
		t.Fatal("fired after cancel")
	case <-time.After(30 * time.Millisecond):
	}
}
