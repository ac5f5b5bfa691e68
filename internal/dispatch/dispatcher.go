package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxkit/voxd/internal/asr"
	"github.com/voxkit/voxd/internal/cache"
	"github.com/voxkit/voxd/internal/config"
	"github.com/voxkit/voxd/internal/media"
)

// ErrJobBusy is returned when submitting a path that is already tracked.
var ErrJobBusy = errors.New("job already tracked for path")

// ErrUnknownBackend is returned for a backend name with no recognizer.
var ErrUnknownBackend = errors.New("unknown backend")

// Sink receives terminal job notifications. Calls are fire-and-forget
// and arrive on worker goroutines; implementations must be thread-safe.
type Sink interface {
	OnJobFinished(path, text string)
	OnJobFailed(path, message string)
}

// Dispatcher admits recognition jobs in FIFO order and runs at most
// Concurrency of them at once. The queue only advances through drain,
// which every completion re-invokes; there is no scheduler goroutine.
type Dispatcher struct {
	cfg      config.DispatcherConfig
	backends map[string]asr.Recognizer
	cache    *cache.Store
	sink     Sink
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]*Job
	queue   []*Job
	running int

	jobsFinished metric.Int64Counter
	jobsFailed   metric.Int64Counter
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
}

func New(parent context.Context, cfg config.DispatcherConfig, backends map[string]asr.Recognizer, store *cache.Store, sink Sink, log *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(parent)
	d := &Dispatcher{
		cfg:      cfg,
		backends: backends,
		cache:    store,
		sink:     sink,
		log:      log.With(slog.String("component", "dispatcher")),
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]*Job),
	}
	if err := d.initMetrics(); err != nil {
		d.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return d
}

func (d *Dispatcher) initMetrics() error {
	meter := otel.Meter("github.com/voxkit/voxd/dispatch")
	var err error
	if d.jobsFinished, err = meter.Int64Counter("voxd.jobs.finished",
		metric.WithDescription("Jobs completed successfully")); err != nil {
		return err
	}
	if d.jobsFailed, err = meter.Int64Counter("voxd.jobs.failed",
		metric.WithDescription("Jobs that ended in failure")); err != nil {
		return err
	}
	if d.cacheHits, err = meter.Int64Counter("voxd.cache.hits",
		metric.WithDescription("Recognition requests answered from cache")); err != nil {
		return err
	}
	if d.cacheMisses, err = meter.Int64Counter("voxd.cache.misses",
		metric.WithDescription("Recognition requests sent to a backend")); err != nil {
		return err
	}
	return nil
}

// Submit enqueues a job for path and returns immediately. A path that
// is already Pending or Running is rejected with ErrJobBusy; paths that
// previously finished may be submitted again.
func (d *Dispatcher) Submit(path, backend, format string) error {
	if backend == "" {
		backend = d.cfg.DefaultBackend
	}
	if format == "" {
		format = d.cfg.DefaultFormat
	}
	if _, ok := d.backends[backend]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}

	d.mu.Lock()
	if _, ok := d.jobs[path]; ok {
		d.mu.Unlock()
		return ErrJobBusy
	}
	job := &Job{
		ID:      uuid.NewString(),
		Path:    path,
		Backend: backend,
		Format:  format,
		state:   JobStatePending,
	}
	d.jobs[path] = job
	d.queue = append(d.queue, job)
	d.mu.Unlock()

	d.log.Info("job submitted",
		slog.String("job_id", job.ID),
		slog.String("path", path),
		slog.String("backend", backend))
	d.drain()
	return nil
}

// Discard abandons the job tracked for path. A Pending job never runs;
// a Running job's worker completes but its result is suppressed before
// the sink. Safe to call for untracked paths.
func (d *Dispatcher) Discard(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	job, ok := d.jobs[path]
	if !ok {
		return
	}
	job.abandoned = true
	delete(d.jobs, path)
}

// Tracked reports the state of the job currently tracked for path.
func (d *Dispatcher) Tracked(path string) (JobState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	job, ok := d.jobs[path]
	if !ok {
		return "", false
	}
	return job.state, true
}

// drain launches queued jobs while worker slots are free. It is the
// sole queue-advancement mechanism, idempotent, and called after every
// submission and completion. Iterative under the lock, never recursive.
func (d *Dispatcher) drain() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.running < d.cfg.Concurrency && len(d.queue) > 0 {
		job := d.queue[0]
		d.queue = d.queue[1:]
		// Skip entries whose tracking state was discarded.
		if cur, ok := d.jobs[job.Path]; !ok || cur != job || job.state != JobStatePending {
			continue
		}
		job.state = JobStateRunning
		d.running++
		d.wg.Add(1)
		go d.run(job)
	}
}

func (d *Dispatcher) run(job *Job) {
	defer d.wg.Done()

	text, err := d.process(job)

	d.mu.Lock()
	d.running--
	abandoned := job.abandoned
	if cur, ok := d.jobs[job.Path]; ok && cur == job {
		delete(d.jobs, job.Path)
	}
	if err != nil {
		job.state = JobStateFailed
	} else {
		job.state = JobStateDone
	}
	d.mu.Unlock()

	switch {
	case abandoned:
		d.log.Info("job result discarded", slog.String("job_id", job.ID), slog.String("path", job.Path))
	case err != nil:
		d.jobsFailed.Add(d.ctx, 1, metric.WithAttributes(attribute.String("backend", job.Backend)))
		d.log.Warn("job failed",
			slog.String("job_id", job.ID),
			slog.String("path", job.Path),
			slog.String("error", err.Error()))
		d.sink.OnJobFailed(job.Path, err.Error())
	default:
		d.jobsFinished.Add(d.ctx, 1, metric.WithAttributes(attribute.String("backend", job.Backend)))
		d.log.Info("job finished", slog.String("job_id", job.ID), slog.String("path", job.Path))
		d.sink.OnJobFinished(job.Path, text)
	}

	d.drain()
}

// process executes the recognition pipeline for one job: load and
// checksum the audio, consult the cache, call the backend on a miss,
// and assemble the transcript. A failed cache write never fails the job.
func (d *Dispatcher) process(job *Job) (string, error) {
	recognizer := d.backends[job.Backend]

	clip, err := media.Load(job.Path)
	if err != nil {
		return "", err
	}

	key := cache.Key(job.Backend, clip.Checksum)
	payload, ok := d.cache.Lookup(key)
	if ok {
		d.cacheHits.Add(d.ctx, 1, metric.WithAttributes(attribute.String("backend", job.Backend)))
	} else {
		d.cacheMisses.Add(d.ctx, 1, metric.WithAttributes(attribute.String("backend", job.Backend)))
		payload, err = recognizer.Recognize(d.ctx, clip.Data)
		if err != nil {
			return "", fmt.Errorf("recognize %s: %w", job.Backend, err)
		}
		d.cache.Save(key, payload)
	}

	segments, err := recognizer.Parse(payload)
	if err != nil {
		return "", fmt.Errorf("parse %s response: %w", job.Backend, err)
	}

	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		texts = append(texts, seg.Text)
	}
	return strings.Join(texts, "\n"), nil
}

// Close stops accepting work implicitly by cancelling in-flight backend
// calls and waits for running workers to return.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}
