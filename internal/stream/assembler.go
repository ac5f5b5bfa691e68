package stream

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxkit/voxd/internal/asr"
	"github.com/voxkit/voxd/internal/config"
)

// Listener receives assembler output. Callbacks fire on the consumer
// goroutine in flush order; implementations touching shared state must
// synchronize themselves.
type Listener interface {
	OnSegment(seg asr.Segment)
	OnFlushError(err error)
}

// Assembler buffers live audio chunks and hands fixed-size slices to a
// recognition backend. Idle -> Running -> Idle; Stop drains whatever is
// buffered through one final flush so no audio is silently lost.
type Assembler struct {
	cfg      config.StreamConfig
	rec      asr.Recognizer
	listener Listener
	log      *slog.Logger
	ctx      context.Context

	input chan []byte

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// buf is owned by the consumer goroutine while running and by
	// Stop's final flush afterwards; the doneCh join orders the two.
	buf bytes.Buffer
}

func New(parent context.Context, cfg config.StreamConfig, rec asr.Recognizer, listener Listener, log *slog.Logger) *Assembler {
	return &Assembler{
		cfg:      cfg,
		rec:      rec,
		listener: listener,
		log:      log.With(slog.String("component", "assembler")),
		ctx:      parent,
		input:    make(chan []byte, cfg.QueueCapacity),
	}
}

// Start transitions Idle to Running and spawns the consumer loop.
// Starting a running assembler is a no-op.
func (a *Assembler) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.consume(a.stopCh, a.doneCh)
	a.log.Info("assembler started",
		slog.Int("chunk_size", a.cfg.ChunkSize),
		slog.Int("queue_capacity", a.cfg.QueueCapacity))
}

// Feed offers one captured chunk. It never blocks: a full queue or a
// stopped assembler drops the chunk and reports false so the capture
// source can throttle itself.
func (a *Assembler) Feed(chunk []byte) bool {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	if !running {
		return false
	}
	select {
	case a.input <- chunk:
		return true
	default:
		return false
	}
}

// Stop signals the consumer, joins it, then flushes residual buffered
// bytes below the threshold. The final flush error is returned; the
// caller decides whether that aborts its own shutdown.
func (a *Assembler) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	stopCh, doneCh := a.stopCh, a.doneCh
	a.mu.Unlock()

	close(stopCh)
	<-doneCh

	// Absorb chunks the consumer never got to before the final flush.
	for {
		select {
		case chunk := <-a.input:
			a.buf.Write(chunk)
			continue
		default:
		}
		break
	}

	if a.buf.Len() == 0 {
		return nil
	}
	if err := a.flush(); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return nil
}

// consume pulls chunks until stopped, polling so the stop signal is
// observed within poll_ms even when the capture source goes quiet.
func (a *Assembler) consume(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	poll := time.Duration(a.cfg.PollMS) * time.Millisecond
	for {
		select {
		case <-stopCh:
			return
		case chunk := <-a.input:
			a.buf.Write(chunk)
			if a.buf.Len() >= a.cfg.ChunkSize {
				if err := a.flush(); err != nil {
					a.listener.OnFlushError(err)
				}
			}
		case <-time.After(poll):
		}
	}
}

// flush hands all buffered bytes to the backend, resets the buffer, and
// emits resulting segments in order.
func (a *Assembler) flush() error {
	audio := make([]byte, a.buf.Len())
	copy(audio, a.buf.Bytes())
	a.buf.Reset()

	payload, err := a.rec.Recognize(a.ctx, audio)
	if err != nil {
		return fmt.Errorf("recognize stream chunk: %w", err)
	}
	segments, err := a.rec.Parse(payload)
	if err != nil {
		return fmt.Errorf("parse stream response: %w", err)
	}
	for _, seg := range segments {
		a.listener.OnSegment(seg)
	}
	return nil
}
