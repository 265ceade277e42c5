package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"minutes/audio"
	"minutes/config"
	"minutes/hotkey"
	"minutes/log"
	"minutes/mail"
	"minutes/session"
	"minutes/transcriber"
	"minutes/waveform"
)

// lineSink prints controller output one event per line for scripted runs.
type lineSink struct {
	mu     sync.Mutex
	w      io.Writer
	frames int
	text   string
	cond   *sync.Cond
}

func newLineSink(w io.Writer) *lineSink {
	s := &lineSink{w: w}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *lineSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format+"\n", args...)
}

func (s *lineSink) Stage(stage session.Stage, status session.Status) {
	s.printf("STAGE %s %q", stage, status.Text)
}

func (s *lineSink) Bars([]float64) {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *lineSink) Transcript(text string) {
	s.mu.Lock()
	s.text = text
	fmt.Fprintf(s.w, "TRANSCRIPT %q\n", text)
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *lineSink) Notice(err *session.Error) {
	s.printf("NOTICE %s", err.Error())
}

// waitSegments blocks until the transcript holds n segments.
func (s *lineSink) waitSegments(n int, timeout time.Duration) bool {
	end := time.Now().Add(timeout)
	deadline := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer deadline.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for segments(s.text) < n {
		if !time.Now().Before(end) {
			return false
		}
		s.cond.Wait()
	}
	return true
}

func segments(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, ". ") + 1
}

type headless struct {
	ctrl  *session.Controller
	sink  *lineSink
	hk    *hotkey.FakeHotkey
	audio *audio.FakeContext
}

func runTestMode(wavPath string, cfg *config.Config, script []string) int {
	fake, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}
	speech := transcriber.NewFake(script, nil)
	log.ProcessStart(version, transcriber.Name(speech))

	h := newHeadless(fake, speech, cfg, os.Stdout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.watchHotkey(ctx)

	h.run(ctx, os.Stdin)
	h.ctrl.Teardown()
	log.ProcessEnd(1)
	return 0
}

func newHeadless(fake *audio.FakeContext, speech session.TranscriptionProvider, cfg *config.Config, out io.Writer) *headless {
	sink := newLineSink(out)
	h := &headless{
		sink:  sink,
		hk:    hotkey.NewFake(),
		audio: fake,
	}
	provider := audio.NewProvider(fake, nil)
	h.ctrl = session.New(session.Options{
		Capture:   provider,
		Amplitude: provider,
		Speech:    speech,
		Mail: &mail.Opener{Launch: func(u string) error {
			sink.printf("MAILTO %s", u)
			return nil
		}},
		Frames: waveform.NewTicker(cfg.FrameInterval),
		Sink:   sink,
		Bars:   cfg.Bars,
	})
	h.ctrl.Init()
	return h
}

func (h *headless) watchHotkey(ctx context.Context) {
	hotkey.Presses(ctx, h.hk, 0, func() {
		if err := h.ctrl.Toggle(ctx); err != nil {
			log.Debugf("hotkey toggle: %v", err)
		}
	})
}

// run executes one command per line until QUIT or EOF.
func (h *headless) run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !h.exec(ctx, line) {
			return
		}
	}
}

func (h *headless) exec(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	switch strings.ToUpper(cmd) {
	case "START":
		_ = h.ctrl.Start(ctx)
	case "PAUSE":
		h.ctrl.Pause()
	case "RESUME":
		_ = h.ctrl.Resume(ctx)
	case "TOGGLE":
		_ = h.ctrl.Toggle(ctx)
	case "HOTKEY":
		h.hk.SimPress()
	case "RESET":
		_ = h.ctrl.Reset(ctx)
	case "SEND":
		if err := h.ctrl.SendTranscript(arg); err == nil {
			h.sink.printf("SENT")
		}
	case "SLEEP":
		if ms, err := strconv.Atoi(arg); err == nil {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
	case "WAIT_AUDIO_DONE":
		<-h.audio.AudioDone()
	case "WAIT_SEGMENTS":
		n, err := strconv.Atoi(arg)
		if err != nil {
			n = 1
		}
		if !h.sink.waitSegments(n, 10*time.Second) {
			h.sink.printf("TIMEOUT waiting for %d segments", n)
		}
	case "STATUS":
		snap := h.ctrl.Snapshot()
		h.sink.printf("STATUS %s %q send=%t", snap.Stage, snap.Status().Text, snap.Status().CanSend)
	case "TEARDOWN":
		h.ctrl.Teardown()
	case "QUIT":
		return false
	default:
		h.sink.printf("UNKNOWN %s", cmd)
	}
	return true
}
