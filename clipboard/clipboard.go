// Package clipboard copies the transcript to the system clipboard.
package clipboard

import (
	"errors"
	"fmt"

	cb "github.com/atotto/clipboard"
)

// ErrUnavailable is returned when no clipboard utility is present, as on a
// headless Linux box without xclip, xsel or wl-clipboard.
var ErrUnavailable = errors.New("clipboard unavailable")

func Available() bool {
	return !cb.Unsupported
}

func Read() (string, error) {
	if !Available() {
		return "", ErrUnavailable
	}
	return cb.ReadAll()
}

func Copy(text string) error {
	if !Available() {
		return ErrUnavailable
	}
	if err := cb.WriteAll(text); err != nil {
		return fmt.Errorf("writing clipboard: %w", err)
	}
	return nil
}
