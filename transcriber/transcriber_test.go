package transcriber

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"minutes/session"
)

type testHandle struct {
	mu   sync.Mutex
	subs map[int]func([]byte)
	next int
}

func newTestHandle() *testHandle { return &testHandle{subs: map[int]func([]byte){}} }

func (h *testHandle) Active() bool { return true }

func (h *testHandle) Subscribe(fn func([]byte)) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *testHandle) push(pcm []byte) {
	h.mu.Lock()
	var fns []func([]byte)
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(pcm)
	}
}

func (h *testHandle) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// pipeSession is a rawStreamSession driven by the test.
type pipeSession struct {
	sent     chan []byte
	updates  chan streamUpdate
	errs     chan error
	closed   chan struct{}
	once     sync.Once
	mu       sync.Mutex
	closeSnd int
}

func newPipeSession() *pipeSession {
	return &pipeSession{
		sent:    make(chan []byte, 64),
		updates: make(chan streamUpdate, 8),
		errs:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (p *pipeSession) Send(pcm []byte) error {
	select {
	case p.sent <- pcm:
		return nil
	case <-p.closed:
		return errors.New("closed")
	}
}

func (p *pipeSession) CloseSend() error {
	p.mu.Lock()
	p.closeSnd++
	p.mu.Unlock()
	return nil
}

func (p *pipeSession) Recv() (streamUpdate, error) {
	select {
	case u := <-p.updates:
		return u, nil
	case err := <-p.errs:
		return streamUpdate{}, err
	case <-p.closed:
		return streamUpdate{}, context.Canceled
	}
}

func (p *pipeSession) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

type events struct {
	mu      sync.Mutex
	results []session.Result
	errs    []error
	ends    int
	endCh   chan struct{}
	resCh   chan struct{}
}

func newEvents() *events {
	return &events{endCh: make(chan struct{}, 4), resCh: make(chan struct{}, 16)}
}

func (e *events) callbacks() session.Callbacks {
	return session.Callbacks{
		OnResult: func(r session.Result) {
			e.mu.Lock()
			e.results = append(e.results, r)
			e.mu.Unlock()
			e.resCh <- struct{}{}
		},
		OnError: func(err error) {
			e.mu.Lock()
			e.errs = append(e.errs, err)
			e.mu.Unlock()
		},
		OnEnd: func() {
			e.mu.Lock()
			e.ends++
			e.mu.Unlock()
			e.endCh <- struct{}{}
		},
	}
}

func wait(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestRecognitionChunksAudio(t *testing.T) {
	ps := newPipeSession()
	h := newTestHandle()
	r := startRecognition(ps, h, newEvents().callbacks(), 0)
	defer r.Stop()

	h.push(make([]byte, streamChunkBytes-10))
	select {
	case <-ps.sent:
		t.Fatal("partial chunk sent")
	case <-time.After(20 * time.Millisecond):
	}

	h.push(make([]byte, streamChunkBytes+20))
	for i := 0; i < 2; i++ {
		select {
		case chunk := <-ps.sent:
			if len(chunk) != streamChunkBytes {
				t.Fatalf("chunk %d is %d bytes, want %d", i, len(chunk), streamChunkBytes)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("chunk %d never sent", i)
		}
	}
	if streamChunkBytes != 6400 {
		t.Errorf("streamChunkBytes = %d, want 200ms of 16kHz PCM16", streamChunkBytes)
	}
}

func TestRecognitionResults(t *testing.T) {
	ps := newPipeSession()
	ev := newEvents()
	r := startRecognition(ps, newTestHandle(), ev.callbacks(), 0)
	defer r.Stop()

	ps.updates <- streamUpdate{Transcript: "hel"}
	ps.updates <- streamUpdate{Transcript: ""}
	ps.updates <- streamUpdate{Transcript: "hello there", IsFinal: true}
	wait(t, ev.resCh, "interim")
	wait(t, ev.resCh, "final")

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.results) != 2 {
		t.Fatalf("results = %+v, want 2", ev.results)
	}
	if got := ev.results[0]; len(got.Interim) != 1 || got.Interim[0] != "hel" || len(got.Final) != 0 {
		t.Errorf("first result = %+v, want interim", got)
	}
	if got := ev.results[1]; len(got.Final) != 1 || got.Final[0] != "hello there" {
		t.Errorf("second result = %+v, want final", got)
	}
	st := r.snapshot()
	if st.RecvFinal != 1 || st.RecvInterim != 2 {
		t.Errorf("stats final=%d interim=%d, want 1/2", st.RecvFinal, st.RecvInterim)
	}
}

func TestRecognitionErrorThenEnd(t *testing.T) {
	ps := newPipeSession()
	ev := newEvents()
	r := startRecognition(ps, newTestHandle(), ev.callbacks(), 0)
	defer r.Stop()

	boom := errors.New("connection reset")
	ps.errs <- boom
	wait(t, ev.endCh, "end")

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.errs) != 1 || !errors.Is(ev.errs[0], boom) {
		t.Errorf("errors = %v, want [%v]", ev.errs, boom)
	}
	if ev.ends != 1 {
		t.Errorf("ends = %d, want 1", ev.ends)
	}
}

func TestRecognitionStopSilencesCallbacks(t *testing.T) {
	ps := newPipeSession()
	ev := newEvents()
	h := newTestHandle()
	r := startRecognition(ps, h, ev.callbacks(), 0)

	r.Stop()
	r.Stop()
	if h.subscribers() != 0 {
		t.Error("still subscribed after Stop")
	}
	if ps.closeSnd != 1 {
		t.Errorf("CloseSend calls = %d, want 1", ps.closeSnd)
	}

	time.Sleep(20 * time.Millisecond)
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.errs) != 0 || ev.ends != 0 {
		t.Errorf("callbacks after Stop: errs=%v ends=%d", ev.errs, ev.ends)
	}
}

func TestRecognitionStopFromCallback(t *testing.T) {
	ps := newPipeSession()
	var r *recognition
	ready := make(chan struct{})
	done := make(chan struct{})
	cb := session.Callbacks{
		OnResult: func(session.Result) {
			<-ready
			r.Stop()
			close(done)
		},
	}
	r = startRecognition(ps, newTestHandle(), cb, 0)
	close(ready)

	ps.updates <- streamUpdate{Transcript: "x", IsFinal: true}
	wait(t, done, "Stop inside callback")
}

func TestListenURL(t *testing.T) {
	raw, err := listenURL("", streamConfig{SampleRate: 16000, Channels: 1, Language: "en"})
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "api.deepgram.com" {
		t.Errorf("host = %q", u.Host)
	}
	q := u.Query()
	for k, want := range map[string]string{
		"model":           "nova-3",
		"encoding":        "linear16",
		"sample_rate":     "16000",
		"channels":        "1",
		"language":        "en",
		"interim_results": "true",
	} {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDeepgramStreamsResults(t *testing.T) {
	authCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCh <- r.Header.Get("Authorization")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Metadata"}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"good"}]}}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" good morning "}]}}`))
		_ = c.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	d := NewDeepgram(Config{APIKey: "k", Endpoint: wsURL(srv)})
	h := newTestHandle()
	ev := newEvents()
	rec, err := d.Start(h, ev.callbacks())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rec.Stop()

	h.push(make([]byte, streamChunkBytes))
	wait(t, ev.resCh, "interim")
	wait(t, ev.resCh, "final")
	wait(t, ev.endCh, "end")

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if auth := <-authCh; auth != "Token k" {
		t.Errorf("Authorization = %q", auth)
	}
	if got := ev.results[1].Final; len(got) != 1 || got[0] != "good morning" {
		t.Errorf("final = %v", got)
	}
	if len(ev.errs) != 0 {
		t.Errorf("normal close reported errors: %v", ev.errs)
	}
}

func TestDeepgramHandshakeRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewDeepgram(Config{APIKey: "bad", Endpoint: wsURL(srv)})
	_, err := d.Start(newTestHandle(), session.Callbacks{})
	if !errors.Is(err, session.ErrNotAllowed) {
		t.Fatalf("err = %v, want ErrNotAllowed", err)
	}
}

func TestDeepgramPolicyClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = c.Close(websocket.StatusPolicyViolation, "quota exceeded")
	}))
	defer srv.Close()

	d := NewDeepgram(Config{APIKey: "k", Endpoint: wsURL(srv)})
	ev := newEvents()
	rec, err := d.Start(newTestHandle(), ev.callbacks())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rec.Stop()
	wait(t, ev.endCh, "end")

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.errs) != 1 || !errors.Is(ev.errs[0], session.ErrNotAllowed) {
		t.Errorf("errors = %v, want ErrNotAllowed", ev.errs)
	}
}

func TestDeepgramDialTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	d := NewDeepgram(Config{APIKey: "k", Endpoint: wsURL(srv), DialTimeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := d.Start(newTestHandle(), session.Callbacks{})
	if err == nil {
		t.Fatal("expected dial error")
	}
	if errors.Is(err, session.ErrNotAllowed) {
		t.Errorf("timeout reported as not allowed: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("dial took %v, timeout not applied", time.Since(start))
	}
}

func TestFakeProvider(t *testing.T) {
	f := NewFake([]string{"one", "two"}, nil)
	f.BytesPerSegment = 100
	h := newTestHandle()
	ev := newEvents()
	rec, err := f.Start(h, ev.callbacks())
	if err != nil {
		t.Fatal(err)
	}

	h.push(make([]byte, 60))
	h.push(make([]byte, 60))
	h.push(make([]byte, 100))
	h.push(make([]byte, 100))

	ev.mu.Lock()
	var finals []string
	for _, r := range ev.results {
		finals = append(finals, r.Final...)
	}
	ev.mu.Unlock()
	if strings.Join(finals, ",") != "one,two" {
		t.Errorf("finals = %v, want [one two]", finals)
	}

	rec.Stop()
	if h.subscribers() != 0 {
		t.Error("fake still subscribed after Stop")
	}
	if f.Starts() != 1 {
		t.Errorf("Starts = %d", f.Starts())
	}
}

func TestFakeProviderError(t *testing.T) {
	f := NewFake(nil, session.ErrNotAllowed)
	if _, err := f.Start(newTestHandle(), session.Callbacks{}); !errors.Is(err, session.ErrNotAllowed) {
		t.Errorf("err = %v", err)
	}
}

func TestNewWithoutKey(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")
	p := New(Config{})
	if p.Supported() {
		t.Fatal("provider without a key reports supported")
	}
	if _, err := p.Start(newTestHandle(), session.Callbacks{}); !errors.Is(err, session.ErrUnsupported) {
		t.Errorf("Start err = %v", err)
	}
	if Name(p) != "none" {
		t.Errorf("Name = %q", Name(p))
	}

	t.Setenv("DEEPGRAM_API_KEY", "secret")
	if Name(New(Config{})) != "deepgram" {
		t.Error("DEEPGRAM_API_KEY not picked up")
	}
}
