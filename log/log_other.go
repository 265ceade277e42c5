//go:build !windows

package log

import (
	"os"
	"path/filepath"
	"runtime"
)

// getDefaultDir uses ~/Library/Logs on macOS and the XDG state directory
// elsewhere, since logs are state rather than configuration.
func getDefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Logs", "minutes"), nil
	}
	state := os.Getenv("XDG_STATE_HOME")
	if state == "" {
		state = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(state, "minutes"), nil
}
