package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxkit/voxd/internal/asr"
	"github.com/voxkit/voxd/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// echoRecognizer reports each flush's byte size and payload text.
type echoRecognizer struct {
	calls atomic.Int64
	sizes []int
	mu    sync.Mutex
	gate  chan struct{} // optional: blocks Recognize until closed
	fail  error
}

func (e *echoRecognizer) Name() string { return "echo" }

func (e *echoRecognizer) Recognize(_ context.Context, audio []byte) (json.RawMessage, error) {
	e.calls.Add(1)
	if e.gate != nil {
		<-e.gate
	}
	if e.fail != nil {
		return nil, e.fail
	}
	e.mu.Lock()
	e.sizes = append(e.sizes, len(audio))
	e.mu.Unlock()
	return json.Marshal(map[string]string{"text": string(audio)})
}

func (e *echoRecognizer) Parse(payload json.RawMessage) ([]asr.Segment, error) {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, err
	}
	return []asr.Segment{{Text: parsed.Text}}, nil
}

type recordingListener struct {
	mu       sync.Mutex
	segments []asr.Segment
	errs     []error
	notify   chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{notify: make(chan struct{}, 64)}
}

func (l *recordingListener) OnSegment(seg asr.Segment) {
	l.mu.Lock()
	l.segments = append(l.segments, seg)
	l.mu.Unlock()
	l.notify <- struct{}{}
}

func (l *recordingListener) OnFlushError(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
	l.notify <- struct{}{}
}

func (l *recordingListener) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-l.notify:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for callback %d of %d", i+1, n)
		}
	}
}

func newAssembler(rec asr.Recognizer, l Listener, chunkSize, queueCap int) *Assembler {
	return New(context.Background(), config.StreamConfig{
		ChunkSize:     chunkSize,
		QueueCapacity: queueCap,
		PollMS:        10,
	}, rec, l, newLogger())
}

func TestExactThresholdTriggersSingleFlush(t *testing.T) {
	rec := &echoRecognizer{}
	listener := newRecordingListener()
	a := newAssembler(rec, listener, 16384, 100)
	a.Start()

	for i := 0; i < 16; i++ {
		if !a.Feed(make([]byte, 1024)) {
			t.Fatalf("feed %d rejected", i)
		}
	}
	listener.wait(t, 1)

	if err := a.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := rec.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one flush, got %d", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.sizes[0] != 16384 {
		t.Fatalf("expected full 16KiB flush, got %d", rec.sizes[0])
	}
}

func TestStopFlushesResidualBytes(t *testing.T) {
	rec := &echoRecognizer{}
	listener := newRecordingListener()
	a := newAssembler(rec, listener, 16384, 100)
	a.Start()

	fed := 0
	for i := 0; i < 5; i++ {
		if !a.Feed(make([]byte, 300)) {
			t.Fatalf("feed %d rejected", i)
		}
		fed += 300
	}
	// Let the consumer absorb the chunks before stopping; the consumer
	// finishes its in-flight iteration before Stop's join returns.
	deadline := time.Now().Add(5 * time.Second)
	for len(a.input) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("consumer did not absorb chunks, pending=%d", len(a.input))
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := rec.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one final flush, got %d", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.sizes[0] != fed {
		t.Fatalf("expected all %d residual bytes flushed, got %d", fed, rec.sizes[0])
	}
	if a.buf.Len() != 0 {
		t.Fatalf("expected empty buffer after stop, got %d", a.buf.Len())
	}
}

func TestSegmentsEmitInFeedOrder(t *testing.T) {
	rec := &echoRecognizer{}
	listener := newRecordingListener()
	a := newAssembler(rec, listener, 4, 100)
	a.Start()

	words := []string{"aaaa", "bbbb", "cccc"}
	for _, w := range words {
		if !a.Feed([]byte(w)) {
			t.Fatalf("feed %q rejected", w)
		}
	}
	listener.wait(t, len(words))
	if err := a.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	for i, w := range words {
		if listener.segments[i].Text != w {
			t.Fatalf("segment %d out of order: got %q want %q", i, listener.segments[i].Text, w)
		}
	}
}

func TestFeedBackpressure(t *testing.T) {
	rec := &echoRecognizer{gate: make(chan struct{})}
	listener := newRecordingListener()
	a := newAssembler(rec, listener, 1, 2)

	if a.Feed([]byte("idle")) {
		t.Fatal("feed must fail while idle")
	}

	a.Start()
	// First chunk reaches the consumer and blocks it inside the flush.
	if !a.Feed([]byte("x")) {
		t.Fatal("first feed rejected")
	}
	deadline := time.Now().Add(5 * time.Second)
	for rec.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("consumer never reached the backend")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Fill the queue, then one more must be dropped.
	accepted := 0
	for i := 0; i < 2; i++ {
		if a.Feed([]byte("y")) {
			accepted++
		}
	}
	if accepted != 2 {
		t.Fatalf("expected queue to accept 2 chunks, got %d", accepted)
	}
	if a.Feed([]byte("overflow")) {
		t.Fatal("expected backpressure drop on full queue")
	}

	close(rec.gate)
	if err := a.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestFlushErrorReachesListenerAndLoopContinues(t *testing.T) {
	rec := &echoRecognizer{fail: errors.New("provider down")}
	listener := newRecordingListener()
	a := newAssembler(rec, listener, 4, 100)
	a.Start()

	if !a.Feed([]byte("aaaa")) {
		t.Fatal("feed rejected")
	}
	listener.wait(t, 1)

	listener.mu.Lock()
	nErrs := len(listener.errs)
	listener.mu.Unlock()
	if nErrs != 1 {
		t.Fatalf("expected one flush error, got %d", nErrs)
	}

	// Loop keeps consuming after a failed flush.
	if !a.Feed([]byte("bbbb")) {
		t.Fatal("feed after error rejected")
	}
	listener.wait(t, 1)

	// Nothing is buffered after the failed flushes, so Stop is clean.
	if err := a.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStopWithFailingFinalFlushReturnsError(t *testing.T) {
	rec := &echoRecognizer{fail: errors.New("provider down")}
	listener := newRecordingListener()
	a := newAssembler(rec, listener, 1<<20, 100)
	a.Start()

	if !a.Feed([]byte("residual")) {
		t.Fatal("feed rejected")
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(a.input) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("consumer did not absorb chunk")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := a.Stop(); err == nil {
		t.Fatal("expected final flush error from Stop")
	}
}

func TestRestartAfterStop(t *testing.T) {
	rec := &echoRecognizer{}
	listener := newRecordingListener()
	a := newAssembler(rec, listener, 4, 100)

	a.Start()
	if !a.Feed([]byte("aaaa")) {
		t.Fatal("feed rejected")
	}
	listener.wait(t, 1)
	if err := a.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	a.Start()
	if !a.Feed([]byte("bbbb")) {
		t.Fatal("feed after restart rejected")
	}
	listener.wait(t, 1)
	if err := a.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if fmt.Sprintf("%s%s", listener.segments[0].Text, listener.segments[1].Text) != "aaaabbbb" {
		t.Fatalf("unexpected segments: %+v", listener.segments)
	}
}
