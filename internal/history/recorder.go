package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxkit/voxd/internal/asr"
)

// Recorder adapts the store to the fire-and-forget sink callbacks used
// by the dispatcher and assembler. Write failures are logged and
// swallowed; history must never fail the job that produced the result.
type Recorder struct {
	store *Store
	log   *slog.Logger
}

func NewRecorder(store *Store, log *slog.Logger) *Recorder {
	return &Recorder{store: store, log: log.With(slog.String("component", "history"))}
}

func (r *Recorder) OnJobFinished(path, text string) {
	r.append(JobRecord{Path: path, Status: "done", Transcript: text})
}

func (r *Recorder) OnJobFailed(path, message string) {
	r.append(JobRecord{Path: path, Status: "failed", Error: message})
}

func (r *Recorder) OnSegment(seg asr.Segment) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.AppendSegment(ctx, SegmentRecord{StartMS: seg.StartMS, EndMS: seg.EndMS, Text: seg.Text}); err != nil {
		r.log.Warn("failed to record segment", slog.String("error", err.Error()))
	}
}

func (r *Recorder) OnFlushError(err error) {
	r.log.Warn("stream flush failed", slog.String("error", err.Error()))
}

func (r *Recorder) append(rec JobRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.AppendJob(ctx, rec); err != nil {
		r.log.Warn("failed to record job", slog.String("error", err.Error()), slog.String("path", rec.Path))
	}
}
