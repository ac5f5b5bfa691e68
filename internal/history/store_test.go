package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxkit/voxd/internal/asr"
	"github.com/voxkit/voxd/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenDisabled(t *testing.T) {
	s, err := Open(context.Background(), config.HistoryConfig{Enabled: false}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.AppendJob(context.Background(), JobRecord{Path: "/a.wav", Status: "done"}); err != nil {
		t.Fatalf("disabled store must accept writes: %v", err)
	}
	records, err := s.ListJobs(context.Background(), 10)
	if err != nil || records != nil {
		t.Fatalf("disabled store must list nothing, got %v %v", records, err)
	}
}

func TestAppendAndList(t *testing.T) {
	cfg := config.HistoryConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "history.db")}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.AppendJob(context.Background(), JobRecord{JobID: "j1", Path: "/a.wav", Backend: "bcut", Status: "done", Transcript: "hello"}); err != nil {
		t.Fatalf("append job: %v", err)
	}
	if err := s.AppendJob(context.Background(), JobRecord{JobID: "j2", Path: "/b.wav", Backend: "jianying", Status: "failed", Error: "boom"}); err != nil {
		t.Fatalf("append job: %v", err)
	}
	if err := s.AppendSegment(context.Background(), SegmentRecord{StartMS: 0, EndMS: 900, Text: "live"}); err != nil {
		t.Fatalf("append segment: %v", err)
	}

	jobs, err := s.ListJobs(context.Background(), 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].JobID != "j2" {
		t.Fatalf("expected newest first, got %s", jobs[0].JobID)
	}

	segments, err := s.ListSegments(context.Background(), 10)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(segments) != 1 || segments[0].Text != "live" {
		t.Fatalf("unexpected segments: %+v", segments)
	}
}

func TestPruneByDaysAndMaxJobs(t *testing.T) {
	cfg := config.HistoryConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "history.db"), RetentionDays: 1, MaxJobs: 1}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.AppendJob(context.Background(), JobRecord{JobID: "old", Path: "/old.wav", Status: "done"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.AppendJob(context.Background(), JobRecord{JobID: "new", Path: "/new.wav", Status: "done"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	jobs, err := s.ListJobs(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].JobID != "new" {
		t.Fatalf("expected only the recent job, got %+v", jobs)
	}
}

func TestRecorderRoundTrip(t *testing.T) {
	cfg := config.HistoryConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "history.db")}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	rec := NewRecorder(s, newLogger())
	rec.OnJobFinished("/a.wav", "text")
	rec.OnJobFailed("/b.wav", "boom")
	rec.OnSegment(asr.Segment{StartMS: 10, EndMS: 20, Text: "seg"})

	jobs, err := s.ListJobs(context.Background(), 10)
	if err != nil || len(jobs) != 2 {
		t.Fatalf("expected 2 job records, got %v %v", jobs, err)
	}
	segments, err := s.ListSegments(context.Background(), 10)
	if err != nil || len(segments) != 1 {
		t.Fatalf("expected 1 segment record, got %v %v", segments, err)
	}
}
