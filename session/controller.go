// Package session implements the recording session controller: the
// Idle/Recording/Paused state machine that coordinates microphone capture,
// the waveform loop and live transcription.
//
// Every asynchronous callback (frame ticks, transcription events) carries the
// generation it was created for and is dropped on arrival if the controller
// has moved on.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"minutes/log"
	"minutes/waveform"
)

const (
	// MinRecognitionLife is how long a transcription instance must run
	// before an unexpected end is restarted immediately. Shorter lives are
	// restarted after the remainder of this interval.
	MinRecognitionLife = time.Second

	segmentSeparator = ". "
)

type Options struct {
	Capture   CaptureProvider
	Amplitude AmplitudeSource
	Speech    TranscriptionProvider
	Mail      MailComposer
	Frames    FrameScheduler
	Sink      Sink

	Bars               int
	MinRecognitionLife time.Duration
	Now                func() time.Time
	After              func(d time.Duration, fn func()) (cancel func())
}

type Controller struct {
	capture  CaptureProvider
	amp      AmplitudeSource
	speech   TranscriptionProvider
	mail     MailComposer
	frames   FrameScheduler
	sink     Sink
	bars     int
	minLife  time.Duration
	now      func() time.Time
	after    func(time.Duration, func()) func()
	speechOK bool

	mu         sync.Mutex
	stage      Stage
	transcript string
	startedAt  time.Time
	sessionID  string
	handle     Handle
	acquiring  bool
	epoch      uint64 // bumped on teardown, orphans pending acquisitions

	rec           Recognition
	recGen        uint64
	recStarted    time.Time
	restarts      int
	cancelRestart func()

	frameGen    uint64
	cancelFrame func()
}

func New(opts Options) *Controller {
	c := &Controller{
		capture: opts.Capture,
		amp:     opts.Amplitude,
		speech:  opts.Speech,
		mail:    opts.Mail,
		frames:  opts.Frames,
		sink:    opts.Sink,
		bars:    opts.Bars,
		minLife: opts.MinRecognitionLife,
		now:     opts.Now,
		after:   opts.After,
	}
	if c.frames == nil {
		c.frames = waveform.NewTicker(waveform.DefaultFrameInterval)
	}
	if c.sink == nil {
		c.sink = nopSink{}
	}
	if c.bars <= 0 {
		c.bars = waveform.DefaultBars
	}
	if c.minLife <= 0 {
		c.minLife = MinRecognitionLife
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.after == nil {
		c.after = func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		}
	}
	c.speechOK = c.speech != nil && c.speech.Supported()
	return c
}

// Init publishes the initial state. Missing transcription support is
// reported once, here.
func (c *Controller) Init() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap)
	if !c.speechOK {
		log.Warn("transcription unsupported")
		c.sink.Notice(newError(TranscriptionUnsupported, nil))
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) Status() Status {
	return c.Snapshot().Status()
}

func (c *Controller) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Start begins a new session from Idle. It blocks the caller while the
// microphone is acquired; a second Start during that wait is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stage != Idle || c.acquiring {
		c.mu.Unlock()
		return nil
	}
	c.transcript = ""
	c.sessionID = uuid.NewString()
	return c.acquireLocked(ctx, true)
}

// Pause stops transcription and the waveform loop. It never blocks on
// capture.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.stage != Recording {
		c.mu.Unlock()
		return
	}
	d := c.pauseLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	d.stop()
	log.Stage(snap.SessionID, Recording.String(), Paused.String())
	c.publish(snap)
}

// Resume continues a paused session. A lost capture handle is reacquired
// transparently; startedAt and the transcript are kept either way.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.stage != Paused || c.acquiring {
		c.mu.Unlock()
		return nil
	}
	if c.handle == nil || !c.handle.Active() {
		log.Warn("capture handle lost, reacquiring")
		return c.acquireLocked(ctx, false)
	}
	g, h := c.recordLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	log.Stage(snap.SessionID, Paused.String(), Recording.String())
	c.publish(snap)
	c.startRecognition(g, h)
	return nil
}

// Toggle performs the primary action for the current stage.
func (c *Controller) Toggle(ctx context.Context) error {
	switch c.Stage() {
	case Idle:
		return c.Start(ctx)
	case Recording:
		c.Pause()
		return nil
	default:
		return c.Resume(ctx)
	}
}

// Teardown releases the capture handle, stops transcription and cancels the
// waveform loop, returning to Idle. It is safe to call repeatedly.
func (c *Controller) Teardown() {
	c.mu.Lock()
	c.epoch++
	c.acquiring = false
	from := c.stage
	d := c.detachLocked()
	d.handle = c.handle
	c.handle = nil
	c.stage = Idle
	c.startedAt = time.Time{}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	d.stop()
	if d.handle != nil && c.capture != nil {
		c.capture.Release(d.handle)
	}
	if from != Idle {
		log.Stage(snap.SessionID, from.String(), Idle.String())
	}
	c.publish(snap)
}

// Reset tears the current session down and starts a fresh one.
func (c *Controller) Reset(ctx context.Context) error {
	c.Teardown()
	return c.Start(ctx)
}

// SendTranscript hands the transcript to the mail composer. The stage is
// never changed.
func (c *Controller) SendTranscript(recipient string) error {
	c.mu.Lock()
	text := c.transcript
	stage := c.stage
	startedAt := c.startedAt
	sid := c.sessionID
	c.mu.Unlock()

	recipient = strings.TrimSpace(recipient)
	var e *Error
	switch {
	case strings.TrimSpace(text) == "":
		e = newError(NoTranscriptYet, nil)
	case stage != Paused:
		e = newError(NotPaused, nil)
	case recipient == "":
		e = newError(MissingRecipient, nil)
	case c.mail == nil:
		e = newError(DeliveryFailed, errors.New("no mail composer"))
	}
	if e != nil {
		c.sink.Notice(e)
		return e
	}

	subject, body := deliveryMessage(startedAt, text)
	if err := c.mail.Compose(recipient, subject, body); err != nil {
		e = newError(DeliveryFailed, err)
		log.Errorf("transcript delivery: %v", err)
		c.sink.Notice(e)
		return e
	}
	log.Delivery(sid, len(text))
	return nil
}

// acquireLocked is entered with c.mu held and returns with it released.
// fresh marks a new session whose cleared transcript must be published.
func (c *Controller) acquireLocked(ctx context.Context, fresh bool) error {
	from := c.stage
	epoch := c.epoch
	sid := c.sessionID

	if h := c.handle; h != nil && h.Active() {
		g, h := c.recordLocked()
		snap := c.snapshotLocked()
		c.mu.Unlock()

		if fresh {
			c.sink.Transcript("")
		}
		log.Capture(sid, deviceName(h), true)
		log.Stage(sid, from.String(), Recording.String())
		c.publish(snap)
		c.startRecognition(g, h)
		return nil
	}

	stale := c.handle
	c.handle = nil
	c.acquiring = true
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if stale != nil && c.capture != nil {
		c.capture.Release(stale)
	}
	if fresh {
		c.sink.Transcript("")
	}
	c.publish(snap)

	var h Handle
	var err error
	if c.capture == nil {
		err = ErrUnsupported
	} else {
		h, err = c.capture.Acquire(ctx)
	}

	c.mu.Lock()
	if epoch != c.epoch {
		// torn down while we waited
		c.mu.Unlock()
		if err == nil && h != nil {
			c.capture.Release(h)
		}
		return nil
	}
	c.acquiring = false

	if err != nil {
		kind := CaptureUnavailable
		if errors.Is(err, ErrPermissionDenied) {
			kind = CaptureDenied
		}
		e := newError(kind, err)
		snap := c.snapshotLocked()
		c.mu.Unlock()

		log.Errorf("capture acquire: %v", err)
		c.publish(snap)
		c.sink.Notice(e)
		return e
	}

	c.handle = h
	g, h := c.recordLocked()
	snap = c.snapshotLocked()
	c.mu.Unlock()

	log.Capture(sid, deviceName(h), false)
	log.Stage(sid, from.String(), Recording.String())
	c.publish(snap)
	c.startRecognition(g, h)
	return nil
}

// recordLocked moves to Recording and starts the waveform loop. It returns
// the recognition generation to start with.
func (c *Controller) recordLocked() (uint64, Handle) {
	c.stage = Recording
	if c.startedAt.IsZero() {
		c.startedAt = c.now()
	}

	c.frameGen++
	fg := c.frameGen
	c.cancelFrame = c.frames.RequestFrame(func() { c.tick(fg) })

	c.recGen++
	return c.recGen, c.handle
}

type detached struct {
	rec     Recognition
	frame   func()
	restart func()
	handle  Handle
}

func (d detached) stop() {
	if d.frame != nil {
		d.frame()
	}
	if d.restart != nil {
		d.restart()
	}
	if d.rec != nil {
		d.rec.Stop()
	}
}

// detachLocked invalidates every outstanding callback and hands back what
// still needs stopping outside the lock.
func (c *Controller) detachLocked() detached {
	c.recGen++
	c.frameGen++
	d := detached{rec: c.rec, frame: c.cancelFrame, restart: c.cancelRestart}
	c.rec = nil
	c.cancelFrame = nil
	c.cancelRestart = nil
	return d
}

func (c *Controller) pauseLocked() detached {
	c.stage = Paused
	return c.detachLocked()
}

func (c *Controller) tick(g uint64) {
	c.mu.Lock()
	if c.stage != Recording || g != c.frameGen || c.handle == nil {
		c.mu.Unlock()
		return
	}
	h := c.handle
	c.mu.Unlock()

	var bins []byte
	if c.amp != nil {
		bins = c.amp.FrequencyBins(h)
	}
	levels := waveform.Levels(bins, c.bars)

	c.mu.Lock()
	if c.stage != Recording || g != c.frameGen {
		c.mu.Unlock()
		return
	}
	c.cancelFrame = c.frames.RequestFrame(func() { c.tick(g) })
	c.mu.Unlock()

	c.sink.Bars(levels)
}

func (c *Controller) callbacks(g uint64) Callbacks {
	return Callbacks{
		OnResult: func(r Result) { c.onResult(g, r) },
		OnError:  func(err error) { c.onSpeechError(g, err) },
		OnEnd:    func() { c.onSpeechEnd(g) },
	}
}

func (c *Controller) startRecognition(g uint64, h Handle) {
	if !c.speechOK {
		return
	}
	c.mu.Lock()
	if g != c.recGen || c.stage != Recording {
		c.mu.Unlock()
		return
	}
	// set before Start so an instance that ends inside Start is throttled
	c.recStarted = c.now()
	c.mu.Unlock()

	rec, err := c.speech.Start(h, c.callbacks(g))

	c.mu.Lock()
	if g != c.recGen || c.stage != Recording {
		c.mu.Unlock()
		if rec != nil {
			rec.Stop()
		}
		return
	}
	if err != nil {
		if errors.Is(err, ErrNotAllowed) {
			c.forcePauseLocked(err)
			return
		}
		c.mu.Unlock()
		log.Errorf("transcription start: %v", err)
		c.sink.Notice(newError(TranscriptionStartFailed, err))
		return
	}
	c.rec = rec
	c.mu.Unlock()
}

func (c *Controller) onResult(g uint64, r Result) {
	c.mu.Lock()
	if g != c.recGen || c.stage != Recording {
		c.mu.Unlock()
		return
	}
	var added []string
	for _, seg := range r.Final {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		c.transcript += seg + segmentSeparator
		added = append(added, seg)
	}
	text := c.transcript
	sid := c.sessionID
	c.mu.Unlock()

	if len(added) == 0 {
		return
	}
	for _, seg := range added {
		log.Segment(sid, seg)
	}
	c.sink.Transcript(text)
}

func (c *Controller) onSpeechError(g uint64, err error) {
	c.mu.Lock()
	if g != c.recGen || c.stage != Recording {
		c.mu.Unlock()
		return
	}
	if errors.Is(err, ErrNotAllowed) {
		c.forcePauseLocked(err)
		return
	}
	c.mu.Unlock()
	// an OnEnd follows and restarts the instance
	log.Warnf("transcription error: %v", err)
}

// forcePauseLocked is entered with c.mu held and returns with it released.
func (c *Controller) forcePauseLocked(err error) {
	d := c.pauseLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	d.stop()
	log.Errorf("transcription denied: %v", err)
	log.Stage(snap.SessionID, Recording.String(), Paused.String())
	c.publish(snap)
	c.sink.Notice(newError(TranscriptionDenied, err))
}

func (c *Controller) onSpeechEnd(g uint64) {
	c.mu.Lock()
	if g != c.recGen || c.stage != Recording {
		c.mu.Unlock()
		return
	}
	old := c.rec
	c.rec = nil
	c.recGen++
	ng := c.recGen
	h := c.handle
	lived := c.now().Sub(c.recStarted)
	c.restarts++
	restarts := c.restarts
	sid := c.sessionID

	var wait time.Duration
	if lived < c.minLife {
		wait = c.minLife - lived
		c.cancelRestart = c.after(wait, func() { c.restartRecognition(ng, h) })
	}
	c.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	log.Recognition(sid, restarts, lived)
	if wait == 0 {
		c.startRecognition(ng, h)
	}
}

func (c *Controller) restartRecognition(g uint64, h Handle) {
	c.mu.Lock()
	if g != c.recGen || c.stage != Recording {
		c.mu.Unlock()
		return
	}
	c.cancelRestart = nil
	c.mu.Unlock()
	c.startRecognition(g, h)
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Stage:           c.stage,
		Transcript:      c.transcript,
		StartedAt:       c.startedAt,
		HasCapture:      c.handle != nil,
		Acquiring:       c.acquiring,
		SpeechSupported: c.speechOK,
		SessionID:       c.sessionID,
	}
}

func deviceName(h Handle) string {
	if n, ok := h.(interface{ DeviceName() string }); ok {
		return n.DeviceName()
	}
	return ""
}

func (c *Controller) publish(snap Snapshot) {
	c.sink.Stage(snap.Stage, snap.Status())
	c.sink.Bars(waveform.Fill(c.bars, snap.Stage.Baseline()))
}
