// Package hotkey listens for the global Ctrl+Shift+Space combination.
package hotkey

import (
	"context"
	"time"
)

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// Combo is the key combination shown to the user.
const Combo = "Ctrl+Shift+Space"

// Presses calls fn once per completed press (key down, then up). Presses
// that land within minGap of the previous one are dropped so a bouncing
// key cannot toggle twice. It returns when ctx is done.
func Presses(ctx context.Context, hk Hotkey, minGap time.Duration, fn func()) {
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-hk.Keydown():
		}
		select {
		case <-ctx.Done():
			return
		case <-hk.Keyup():
		}
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < minGap {
			continue
		}
		last = now
		fn()
	}
}
