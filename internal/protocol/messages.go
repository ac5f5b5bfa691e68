package protocol

import "time"

// JobRequest asks the dispatcher to process one media file.
type JobRequest struct {
	Path    string `json:"path"`
	Backend string `json:"backend,omitempty"`
	Format  string `json:"format,omitempty"`
}

// JobResult reports a terminal job outcome.
type JobResult struct {
	Path      string    `json:"path"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SegmentResult is one live-transcription segment, times in ms.
type SegmentResult struct {
	StartMS   int64     `json:"start_ms"`
	EndMS     int64     `json:"end_ms"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioChunk carries captured audio bytes into the streaming assembler.
type AudioChunk struct {
	Sequence int    `json:"sequence"`
	Data     []byte `json:"data"`
}

const (
	SubjectJobSubmit   = "voxd.job.submit"
	SubjectJobFinished = "voxd.job.finished"
	SubjectJobFailed   = "voxd.job.failed"
	SubjectSegment     = "voxd.transcript.segment"
	SubjectAudioChunk  = "voxd.audio.chunk"
)
