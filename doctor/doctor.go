// Package doctor runs the -doctor system checks.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"minutes/audio"
	"minutes/clipboard"
	"minutes/hotkey"
	"minutes/mail"
	"minutes/session"
	"minutes/shutdown"
	"minutes/transcriber"
	"minutes/voice"
)

const (
	listenFor      = 3 * time.Second
	checkTimeout   = 10 * time.Second
	silentBinLimit = 8 // max byte value still treated as silence
)

type Options struct {
	Device   string
	Language string
	Model    string
}

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

// errSkipped marks a check that could not run because an earlier one
// failed. It does not fail the run.
var errSkipped = errors.New("skipped")

// Run executes the checks and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	resetTerminal()
	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	fmt.Println("minutes doctor - system diagnostics")
	fmt.Println("===================================")

	mic := &micCheck{opts: opts}
	defer mic.close()

	return runChecks(ctx, os.Stdout, []check{
		{"Hotkey", func(context.Context) (string, error) { return hotkey.Diagnose() }},
		{"Microphone", mic.acquire},
		{"Transcription", mic.transcribe},
		{"Clipboard", checkClipboard},
		{"Mail client", checkMail},
	})
}

func runChecks(ctx context.Context, w io.Writer, checks []check) int {
	failed := 0
	for i, c := range checks {
		fmt.Fprintf(w, "\n[%d/%d] %s\n", i+1, len(checks), c.name)
		if ctx.Err() != nil {
			fmt.Fprintln(w, "  Interrupted")
			return 1
		}
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		detail, err := c.run(cctx)
		cancel()
		switch {
		case errors.Is(err, errSkipped):
			fmt.Fprintf(w, "  SKIP: %v\n", err)
		case err != nil:
			failed++
			fmt.Fprintf(w, "  FAIL: %v\n", err)
		default:
			fmt.Fprintf(w, "  PASS: %s\n", detail)
		}
	}

	fmt.Fprintln(w)
	if failed > 0 {
		fmt.Fprintf(w, "%d check(s) failed. See details above.\n", failed)
		return 1
	}
	fmt.Fprintln(w, "All checks passed!")
	return 0
}

// micCheck keeps the acquired stream open for the transcription check.
type micCheck struct {
	opts     Options
	actx     audio.Context
	provider *audio.Provider
	handle   session.Handle
}

func (m *micCheck) acquire(ctx context.Context) (string, error) {
	actx, err := audio.NewContext()
	if err != nil {
		return "", fmt.Errorf("cannot connect to audio: %w", err)
	}
	m.actx = actx

	device, err := audio.FindDevice(actx, m.opts.Device)
	if err != nil {
		return "", err
	}
	m.provider = audio.NewProvider(actx, device)

	det := voice.NewDetector()
	untap := m.provider.Tap(det.Write)
	defer untap()

	h, err := m.provider.Acquire(ctx)
	if err != nil {
		return "", err
	}
	m.handle = h

	fmt.Printf("  Speak for %s...\n", listenFor)
	peak := 0
	deadline := time.After(listenFor)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			break loop
		case <-tick.C:
			for _, b := range m.provider.FrequencyBins(h) {
				peak = max(peak, int(b))
			}
		}
	}

	name := "system default"
	if device != nil {
		name = device.Name
	}
	total, speech := det.Stats()
	if peak <= silentBinLimit {
		return "", fmt.Errorf("%s captured only silence (%d frames)", name, total)
	}
	return fmt.Sprintf("%s, peak bin %d/255, %d of %d frames voiced", name, peak, speech, total), nil
}

func (m *micCheck) transcribe(ctx context.Context) (string, error) {
	speech := transcriber.New(transcriber.Config{Language: m.opts.Language, Model: m.opts.Model})
	if !speech.Supported() {
		return "", errors.New("DEEPGRAM_API_KEY not set")
	}
	if m.handle == nil {
		return "", fmt.Errorf("%w: no microphone", errSkipped)
	}

	results := make(chan string, 16)
	failed := make(chan error, 1)
	rec, err := speech.Start(m.handle, session.Callbacks{
		OnResult: func(r session.Result) {
			for _, segs := range [][]string{r.Final, r.Interim} {
				for _, s := range segs {
					select {
					case results <- s:
					default:
					}
				}
			}
		},
		OnError: func(err error) {
			select {
			case failed <- err:
			default:
			}
		},
	})
	if err != nil {
		return "", err
	}
	defer rec.Stop()

	fmt.Printf("  Connected to %s, speak for %s...\n", transcriber.Name(speech), listenFor)
	var heard string
	timer := time.NewTimer(listenFor)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case err := <-failed:
			return "", err
		case s := <-results:
			heard = s
		case <-timer.C:
			if heard == "" {
				return "connected, no speech recognized", nil
			}
			return fmt.Sprintf("heard %q", heard), nil
		}
	}
}

func (m *micCheck) close() {
	if m.provider != nil && m.handle != nil {
		m.provider.Release(m.handle)
	}
	if m.actx != nil {
		m.actx.Close()
	}
}

func checkClipboard(context.Context) (string, error) {
	if !clipboard.Available() {
		return "", fmt.Errorf("%w (install xclip, xsel or wl-clipboard)", clipboard.ErrUnavailable)
	}
	prev, err := clipboard.Read()
	if err != nil {
		return "", err
	}
	probe := fmt.Sprintf("minutes-doctor-%d", time.Now().UnixNano())
	if err := clipboard.Copy(probe); err != nil {
		return "", err
	}
	got, err := clipboard.Read()
	_ = clipboard.Copy(prev)
	if err != nil {
		return "", err
	}
	if got != probe {
		return "", fmt.Errorf("read back %q, want %q", got, probe)
	}
	return "copy and read back verified", nil
}

func checkMail(context.Context) (string, error) {
	path, err := mail.HandlerPath()
	if err != nil {
		return "", fmt.Errorf("no URL handler: %w", err)
	}
	return "mailto links open through " + path, nil
}
