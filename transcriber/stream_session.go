package transcriber

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"minutes/audio"
	"minutes/log"
	"minutes/session"
)

const (
	streamChunkMs    = 200
	streamChunkBytes = audio.SampleRate * audio.Channels * audio.BytesPerSample * streamChunkMs / 1000
	streamQueueDepth = 64 // chunks, about 12s of audio
)

type rawStreamSession interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (streamUpdate, error)
	Close() error
}

type streamUpdate struct {
	Transcript   string
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
}

func (u streamUpdate) final() bool {
	return u.IsFinal || u.FromFinalize
}

type streamStats struct {
	SentChunks  int
	SentBytes   uint64
	Dropped     int
	RecvFinal   int
	RecvInterim int
	StartedAt   time.Time
	ConnectDur  time.Duration
	SessionDur  time.Duration
}

func (s streamStats) audioSeconds() float64 {
	return float64(s.SentBytes) / float64(audio.SampleRate*audio.Channels*audio.BytesPerSample)
}

// recognition streams a handle's PCM over a raw session and reports
// results through the session callbacks. Only the receiver goroutine
// invokes callbacks.
type recognition struct {
	ws  rawStreamSession
	cb  session.Callbacks
	ctx context.Context

	cancel      context.CancelFunc
	unsubscribe func()
	audioCh     chan []byte
	sendDone    chan struct{}

	stopped  atomic.Bool
	stopOnce sync.Once

	feedMu  sync.Mutex
	feedBuf []byte

	mu    sync.Mutex
	stats streamStats
}

func startRecognition(ws rawStreamSession, h session.Handle, cb session.Callbacks, connect time.Duration) *recognition {
	ctx, cancel := context.WithCancel(context.Background())
	r := &recognition{
		ws:       ws,
		cb:       cb,
		ctx:      ctx,
		cancel:   cancel,
		audioCh:  make(chan []byte, streamQueueDepth),
		sendDone: make(chan struct{}),
		stats:    streamStats{StartedAt: time.Now(), ConnectDur: connect},
	}
	go r.runSender()
	go r.runReceiver()
	r.unsubscribe = h.Subscribe(r.feed)
	return r
}

func (r *recognition) feed(pcm []byte) {
	if r.stopped.Load() {
		return
	}
	r.feedMu.Lock()
	r.feedBuf = append(r.feedBuf, pcm...)
	var chunks [][]byte
	for len(r.feedBuf) >= streamChunkBytes {
		chunk := make([]byte, streamChunkBytes)
		copy(chunk, r.feedBuf[:streamChunkBytes])
		r.feedBuf = r.feedBuf[streamChunkBytes:]
		chunks = append(chunks, chunk)
	}
	r.feedMu.Unlock()

	for _, chunk := range chunks {
		select {
		case r.audioCh <- chunk:
		default:
			// never block the capture callback
			r.mu.Lock()
			r.stats.Dropped++
			r.mu.Unlock()
		}
	}
}

func (r *recognition) runSender() {
	defer close(r.sendDone)
	for {
		select {
		case <-r.ctx.Done():
			return
		case chunk := <-r.audioCh:
			if err := r.ws.Send(chunk); err != nil {
				// the receiver sees the broken socket and reports it
				r.ws.Close()
				return
			}
			r.mu.Lock()
			r.stats.SentChunks++
			r.stats.SentBytes += uint64(len(chunk))
			r.mu.Unlock()
		}
	}
}

func (r *recognition) runReceiver() {
	for {
		update, err := r.ws.Recv()
		if err != nil {
			if r.stopped.Load() {
				return
			}
			if !isNormalClose(err) {
				r.emitError(err)
			}
			r.emitEnd()
			return
		}

		r.mu.Lock()
		if update.final() {
			r.stats.RecvFinal++
		} else {
			r.stats.RecvInterim++
		}
		r.mu.Unlock()

		if update.Transcript == "" {
			continue
		}
		var res session.Result
		if update.final() {
			res.Final = []string{update.Transcript}
		} else {
			res.Interim = []string{update.Transcript}
		}
		r.emitResult(res)
	}
}

func (r *recognition) emitResult(res session.Result) {
	if !r.stopped.Load() && r.cb.OnResult != nil {
		r.cb.OnResult(res)
	}
}

func (r *recognition) emitError(err error) {
	if !r.stopped.Load() && r.cb.OnError != nil {
		r.cb.OnError(err)
	}
}

func (r *recognition) emitEnd() {
	if !r.stopped.Load() && r.cb.OnEnd != nil {
		r.cb.OnEnd()
	}
}

// Stop detaches from the handle and closes the socket. It does not wait
// for the receiver, so it is safe to call from inside a callback.
func (r *recognition) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		if r.unsubscribe != nil {
			r.unsubscribe()
		}
		_ = r.ws.CloseSend()
		r.cancel()
		<-r.sendDone
		_ = r.ws.Close()

		r.mu.Lock()
		st := r.stats
		r.mu.Unlock()
		st.SessionDur = time.Since(st.StartedAt)
		log.Infof("stream closed: %.1fs audio, %d chunks, %d dropped, %d final, %d interim, connect %dms, lived %s",
			st.audioSeconds(), st.SentChunks, st.Dropped, st.RecvFinal, st.RecvInterim,
			st.ConnectDur.Milliseconds(), st.SessionDur.Round(time.Millisecond))
	})
}

func (r *recognition) snapshot() streamStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func isNormalClose(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return websocket.CloseStatus(err) == websocket.StatusNormalClosure
}
