package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var ErrSelectionCancelled = errors.New("device selection cancelled")

// FindDevice returns the first device whose name contains name, case
// insensitively. An empty name selects the system default (nil).
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	if name == "" {
		return nil, nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	want := strings.ToLower(name)
	for i, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), want) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("no capture device matching %q", name)
}

// SelectDevice shows an interactive picker on the terminal. A single
// device is returned without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, fmt.Errorf("no capture devices found")
	case 1:
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	idx, err := pick(os.Stdin, os.Stdout, devices)
	if err != nil {
		return nil, err
	}
	return &devices[idx], nil
}

func pick(in io.Reader, out io.Writer, devices []DeviceInfo) (int, error) {
	cursor := 0
	render := func() {
		fmt.Fprint(out, "\r\x1b[J")
		fmt.Fprint(out, "Select meeting microphone (↑/↓, Enter to confirm):\r\n\r\n")
		for i, d := range devices {
			tag := ""
			if IsBluetooth(d.Name) {
				tag = " \x1b[33m[headset codec, transcripts may suffer]\x1b[0m"
			}
			if i == cursor {
				fmt.Fprintf(out, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
			} else {
				fmt.Fprintf(out, "    %s%s\r\n", d.Name, tag)
			}
		}
	}
	render()

	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("reading input: %w", err)
		}
		switch {
		case n == 1 && buf[0] == '\r':
			fmt.Fprint(out, "\r\n")
			return cursor, nil
		case n == 1 && (buf[0] == 3 || buf[0] == 'q'):
			fmt.Fprint(out, "\r\n")
			return 0, ErrSelectionCancelled
		case n == 1 && buf[0] == 'j', n == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'B':
			if cursor < len(devices)-1 {
				cursor++
			}
		case n == 1 && buf[0] == 'k', n == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'A':
			if cursor > 0 {
				cursor--
			}
		}
		fmt.Fprintf(out, "\x1b[%dA", len(devices)+2)
		render()
	}
}
