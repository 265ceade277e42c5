package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	diagFileName       = "diagnostics_log.txt"
	transcriptFileName = "transcribe_log.txt"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcriptFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

func ResolveDir(flagPath string) (string, error) {
	// -logpath wins over MINUTES_LOG_PATH, which wins over the OS default
	for _, p := range []string{flagPath, os.Getenv("MINUTES_LOG_PATH")} {
		if p == "" {
			continue
		}
		if filepath.IsAbs(p) {
			return p, nil
		}
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(wd, p), nil
	}
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	diagFile, err = os.OpenFile(filepath.Join(dir, diagFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	transcriptFile, err = os.OpenFile(filepath.Join(dir, transcriptFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		diagFile = nil
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	logReady = false
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
}

func ready() bool {
	logMu.Lock()
	defer logMu.Unlock()
	return logReady
}

func Debugf(format string, args ...any) {
	if ready() {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Info(msg string) {
	if ready() {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if ready() {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if ready() {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if ready() {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if ready() {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if ready() {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

// Stage records a recording stage transition.
func Stage(sessionID, from, to string) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("from", from).
		Str("to", to).
		Msg("stage")
}

func Capture(sessionID, device string, reused bool) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("device", device).
		Bool("reused", reused).
		Msg("capture_acquired")
}

func Recognition(sessionID string, restarts int, lived time.Duration) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Int("restarts", restarts).
		Int64("lived_ms", lived.Milliseconds()).
		Msg("recognition_restart")
}

func Delivery(sessionID string, chars int) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Int("chars", chars).
		Msg("transcript_delivery")
}

// Segment appends one finalized transcript segment to the transcript log.
func Segment(sessionID, text string) {
	logMu.Lock()
	defer logMu.Unlock()
	if !logReady || transcriptFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, sessionID, text)
	transcriptFile.WriteString(line)
}

func ProcessStart(version, provider string) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("version", version).
		Str("provider", provider).
		Msg("process_start")
}

func ProcessEnd(sessions int) {
	if !ready() {
		return
	}
	diagLog.Info().
		Int("sessions", sessions).
		Msg("process_end")
}
