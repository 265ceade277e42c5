package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"minutes/audio"
	"minutes/beep"
	"minutes/config"
	"minutes/doctor"
	"minutes/hotkey"
	"minutes/log"
	"minutes/mail"
	"minutes/metrics"
	"minutes/session"
	"minutes/shutdown"
	"minutes/transcriber"
	"minutes/voice"
	"minutes/waveform"
)

var version = "dev"

const (
	devicePollInterval = 2 * time.Second
	hotkeyDebounce     = 300 * time.Millisecond
)

type options struct {
	configPath   string
	logPath      string
	device       string
	selectDevice bool
	recipient    string
	language     string
	testMode     bool
	script       string
	doctor       bool
	noBeep       bool
	noHotkey     bool
	writeConfig  bool
	profile      string
	showVersion  bool
}

func parseFlags(args []string) (options, []string, error) {
	var o options
	fs := flag.NewFlagSet("minutes", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", config.DefaultPath(), "config file path")
	fs.StringVar(&o.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.StringVar(&o.device, "device", "", "use the first microphone whose name contains this text")
	fs.BoolVar(&o.selectDevice, "select-device", false, "pick the microphone interactively")
	fs.StringVar(&o.recipient, "recipient", "", "prefill the transcript recipient")
	fs.StringVar(&o.language, "lang", "", "transcription language code (e.g. en, de)")
	fs.BoolVar(&o.testMode, "test", false, "headless mode driven by stdin commands, takes a WAV file argument")
	fs.StringVar(&o.script, "script", "testing one two three|this is the second segment", "segments the fake transcriber emits in test mode, separated by |")
	fs.BoolVar(&o.doctor, "doctor", false, "run system diagnostics and exit")
	fs.BoolVar(&o.noBeep, "no-beep", false, "disable audible cues")
	fs.BoolVar(&o.noHotkey, "no-hotkey", false, "disable the global "+hotkey.Combo+" hotkey")
	fs.BoolVar(&o.writeConfig, "write-config", false, "write the effective configuration to -config and exit")
	fs.StringVar(&o.profile, "profile", "", "serve pprof and /metrics on this address (e.g. localhost:6060)")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, nil, err
	}
	return o, fs.Args(), nil
}

// apply overlays explicitly set flags on the loaded configuration.
func (o options) apply(cfg *config.Config) {
	if o.device != "" {
		cfg.Device = o.device
	}
	if o.recipient != "" {
		cfg.Recipient = o.recipient
	}
	if o.language != "" {
		cfg.Language = o.language
	}
	if o.logPath != "" {
		cfg.LogPath = o.logPath
	}
	if o.noBeep {
		cfg.Beep = false
	}
	if o.noHotkey {
		cfg.Hotkey = false
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	log.Errorf(format, args...)
	log.Close()
	os.Exit(1)
}

func run() {
	opts, args, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("minutes %s\n", version)
		return
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fatalf("%v", err)
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fatalf("invalid configuration: %v", err)
	}
	if opts.writeConfig {
		if err := cfg.Save(opts.configPath); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("wrote %s\n", opts.configPath)
		return
	}

	logDir, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logDir)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	stats := metrics.New()
	if opts.profile != "" {
		http.Handle("/metrics", stats.Handler())
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", opts.profile)
			if err := http.ListenAndServe(opts.profile, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if opts.doctor {
		os.Exit(doctor.Run(doctor.Options{
			Device:   cfg.Device,
			Language: cfg.Language,
			Model:    cfg.Model,
		}))
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if !cfg.Beep {
		beep.Disable()
	}

	if opts.testMode {
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: minutes -test <wav-file>")
			os.Exit(1)
		}
		os.Exit(runTestMode(args[0], cfg, strings.Split(opts.script, "|")))
	}

	speech := transcriber.New(transcriber.Config{Language: cfg.Language, Model: cfg.Model})
	log.ProcessStart(version, transcriber.Name(speech))

	actx, err := audio.NewContext()
	if err != nil {
		fatalf("initializing audio: %v", err)
	}
	defer actx.Close()

	var device *audio.DeviceInfo
	if opts.selectDevice {
		device, err = audio.SelectDevice(actx)
		if err != nil && !errors.Is(err, audio.ErrSelectionCancelled) {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v, using the default device\n", err)
		}
	} else if device, err = audio.FindDevice(actx, cfg.Device); err != nil {
		log.Warnf("%v, using the default device", err)
	}
	provider := audio.NewProvider(actx, device)

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	cues := &cueSink{}
	var prog *tea.Program
	sink := multiSink{teaSink{send: func(m tea.Msg) { prog.Send(m) }}, cues, stats.Sink()}

	ctrl := session.New(session.Options{
		Capture:   provider,
		Amplitude: provider,
		Speech:    speech,
		Mail:      mail.NewOpener(),
		Frames:    waveform.NewTicker(cfg.FrameInterval),
		Sink:      sink,
		Bars:      cfg.Bars,
	})

	model := newTUIModel(ctx, ctrl, cfg.Recipient, cfg.Bars)
	model.device = deviceLabel(device)
	model.provider = describeProvider(transcriber.Name(speech), cfg.Language)

	var hk hotkey.Hotkey
	if cfg.Hotkey {
		hk = hotkey.New()
		if err := hk.Register(); err != nil {
			log.Warnf("hotkey unavailable: %v", err)
			hk = nil
		} else {
			defer hk.Unregister()
			model.hotkey = true
		}
	}
	prog = NewTUIProgram(model)

	if hk != nil {
		go hotkey.Presses(ctx, hk, hotkeyDebounce, func() {
			log.Info("hotkey_toggle")
			stats.HotkeyPresses.Inc()
			if err := ctrl.Toggle(ctx); err != nil {
				log.Debugf("hotkey toggle: %v", err)
			}
		})
	}

	det := voice.NewDetector()
	untap := provider.Tap(det.Write)
	defer untap()
	go voice.Watch(ctx, det, func() bool { return ctrl.Stage() == session.Recording }, func(ev voice.Event) {
		switch ev {
		case voice.Warn, voice.Repeat:
			log.Warn("no voice detected")
			stats.SilenceWarns.Inc()
			beep.Play(beep.Silence)
			prog.Send(voiceMsg{Silent: true})
		case voice.Clear:
			prog.Send(voiceMsg{Silent: false})
		}
	})

	go provider.Watch(ctx, devicePollInterval, func() {
		// the lost handle is reacquired on resume
		stats.DevicesLost.Inc()
		ctrl.Pause()
		prog.Send(noticeMsg{Kind: session.CaptureUnavailable, Text: "microphone disconnected; recording paused"})
	})

	go func() {
		<-ctx.Done()
		prog.Quit()
	}()

	if _, err := prog.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
	}
	stop()
	ctrl.Teardown()
	log.ProcessEnd(cues.Sessions())
}

func deviceLabel(dev *audio.DeviceInfo) string {
	if dev == nil {
		return "system default"
	}
	if audio.IsBluetooth(dev.Name) {
		return dev.Name + " (BT!)"
	}
	return dev.Name
}

// initCrashLog sends fatal runtime errors to crash_log.txt in the log
// directory.
func initCrashLog() {
	f, err := os.OpenFile(filepath.Join(log.Dir(), "crash_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(f, debug.CrashOptions{})
}
