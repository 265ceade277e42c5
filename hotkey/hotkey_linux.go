//go:build linux

package hotkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	evKey      = 1
	keyPress   = 1
	keyRelease = 0
	keyLCtrl   = 29
	keyRCtrl   = 97
	keyLShift  = 42
	keyRShift  = 54
	keySpace   = 57
)

// struct input_event on 64-bit: timeval(16) type(2) code(2) value(4)
const inputEventSize = 24

var errNoAccess = errors.New("cannot read keyboard devices (run: sudo usermod -aG input $USER, then re-login)")

type evdevHotkey struct {
	keydown chan struct{}
	keyup   chan struct{}
	files   []*os.File
	once    sync.Once
}

func New() Hotkey {
	return &evdevHotkey{
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}
}

func (h *evdevHotkey) Register() error {
	keyboards, err := findKeyboards()
	if err != nil {
		return fmt.Errorf("scanning input devices: %w", err)
	}
	if len(keyboards) == 0 {
		return errNoAccess
	}
	for _, path := range keyboards {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		h.files = append(h.files, f)
		go h.read(f)
	}
	if len(h.files) == 0 {
		return errNoAccess
	}
	return nil
}

// read ends when Unregister closes the file.
func (h *evdevHotkey) read(f *os.File) {
	var c combo
	buf := make([]byte, inputEventSize*16)
	for {
		n, err := f.Read(buf)
		if err != nil {
			return
		}
		for i := 0; i+inputEventSize <= n; i += inputEventSize {
			ev := buf[i : i+inputEventSize]
			if binary.LittleEndian.Uint16(ev[16:]) != evKey {
				continue
			}
			code := binary.LittleEndian.Uint16(ev[18:])
			value := int32(binary.LittleEndian.Uint32(ev[20:]))
			switch c.feed(code, value) {
			case comboDown:
				signal(h.keydown)
			case comboUp:
				signal(h.keyup)
			}
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

type comboEdge int

const (
	comboNone comboEdge = iota
	comboDown
	comboUp
)

// combo tracks modifier state for one keyboard. Auto-repeat events
// (value 2) keep the held state unchanged.
type combo struct {
	ctrl, shift, space bool
}

func (c *combo) feed(code uint16, value int32) comboEdge {
	pressed := value == keyPress
	released := value == keyRelease
	switch code {
	case keyLCtrl, keyRCtrl:
		c.ctrl = pressed || (!released && c.ctrl)
	case keyLShift, keyRShift:
		c.shift = pressed || (!released && c.shift)
	case keySpace:
		switch {
		case pressed && !c.space && c.ctrl && c.shift:
			c.space = true
			return comboDown
		case released && c.space:
			c.space = false
			return comboUp
		}
	}
	return comboNone
}

func (h *evdevHotkey) Unregister() {
	h.once.Do(func() {
		for _, f := range h.files {
			f.Close()
		}
	})
}

func (h *evdevHotkey) Keydown() <-chan struct{} { return h.keydown }
func (h *evdevHotkey) Keyup() <-chan struct{}   { return h.keyup }

func findKeyboards() ([]string, error) {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		return nil, err
	}
	var keyboards []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "event") && isKeyboard(e.Name()) {
			keyboards = append(keyboards, filepath.Join("/dev/input", e.Name()))
		}
	}
	return keyboards, nil
}

// isKeyboard treats devices with a wide key capability bitmap as
// keyboards. Mice and power buttons report only a few bits.
func isKeyboard(eventName string) bool {
	data, err := os.ReadFile(filepath.Join("/sys/class/input", eventName, "device", "capabilities", "key"))
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(data))) > 10
}

func Diagnose() (string, error) {
	keyboards, err := findKeyboards()
	if err != nil {
		return "", fmt.Errorf("scanning input devices: %w", err)
	}
	for _, path := range keyboards {
		if f, err := os.Open(path); err == nil {
			f.Close()
			return fmt.Sprintf("%d keyboard(s), opened %s, combo %s", len(keyboards), path, Combo), nil
		}
	}
	if len(keyboards) == 0 {
		return "", errNoAccess
	}
	return "", fmt.Errorf("found %d keyboard(s) but none opened: %w", len(keyboards), errNoAccess)
}
