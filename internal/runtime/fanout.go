package runtime

import "github.com/voxkit/voxd/internal/asr"

// resultSink is the union of the dispatcher sink and assembler listener
// callbacks, so one fanout can feed both history and the bus.
type resultSink interface {
	OnJobFinished(path, text string)
	OnJobFailed(path, message string)
	OnSegment(seg asr.Segment)
	OnFlushError(err error)
}

// fanout broadcasts every callback to each registered sink.
type fanout struct {
	sinks []resultSink
}

func (f *fanout) add(s resultSink) {
	f.sinks = append(f.sinks, s)
}

func (f *fanout) OnJobFinished(path, text string) {
	for _, s := range f.sinks {
		s.OnJobFinished(path, text)
	}
}

func (f *fanout) OnJobFailed(path, message string) {
	for _, s := range f.sinks {
		s.OnJobFailed(path, message)
	}
}

func (f *fanout) OnSegment(seg asr.Segment) {
	for _, s := range f.sinks {
		s.OnSegment(seg)
	}
}

func (f *fanout) OnFlushError(err error) {
	for _, s := range f.sinks {
		s.OnFlushError(err)
	}
}
