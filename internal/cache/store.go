package cache

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/voxkit/voxd/internal/config"
)

// Key derives the cache key for one recognition request:
// backend discriminator plus the 8-hex-digit content checksum.
func Key(backend, checksum string) string {
	return backend + "-" + checksum
}

// Store persists recognition payloads in a single flat JSON file,
// keyed by Key. One mutex serializes the whole read-merge-write cycle;
// writes are infrequent relative to backend latency, so correctness
// wins over throughput.
type Store struct {
	cfg config.CacheConfig
	log *slog.Logger
	mu  sync.Mutex
}

func New(cfg config.CacheConfig, log *slog.Logger) *Store {
	return &Store{cfg: cfg, log: log}
}

// Lookup returns a previously stored payload. A disabled cache and an
// unreadable or corrupt store both behave as a miss; read failures
// never surface to the caller.
func (s *Store) Lookup(key string) (json.RawMessage, bool) {
	if !s.cfg.Enabled {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.readAll()
	payload, ok := entries[key]
	return payload, ok
}

// Save merges one entry into the persisted store. Failures are logged
// and swallowed: a failed cache write must not fail the job that
// produced the result. If the file exceeds the configured ceiling after
// the write, the entire store is discarded rather than evicted
// selectively.
func (s *Store) Save(key string, payload json.RawMessage) {
	if !s.cfg.Enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.readAll()
	entries[key] = payload

	data, err := json.Marshal(entries)
	if err != nil {
		s.log.Warn("failed to encode cache store", slog.String("error", err.Error()))
		return
	}
	if dir := filepath.Dir(s.cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.log.Warn("failed to create cache dir", slog.String("error", err.Error()))
			return
		}
	}
	if err := os.WriteFile(s.cfg.Path, data, 0o644); err != nil {
		s.log.Warn("failed to save cache", slog.String("error", err.Error()))
		return
	}

	if info, err := os.Stat(s.cfg.Path); err == nil && info.Size() > s.cfg.MaxBytes {
		if err := os.Remove(s.cfg.Path); err != nil {
			s.log.Warn("failed to reset oversized cache", slog.String("error", err.Error()))
			return
		}
		s.log.Info("cache exceeded size ceiling, store reset",
			slog.Int64("size", info.Size()),
			slog.Int64("ceiling", s.cfg.MaxBytes))
	}
}

// readAll loads the full store, treating any failure as an empty cache.
// Callers must hold s.mu.
func (s *Store) readAll() map[string]json.RawMessage {
	entries := make(map[string]json.RawMessage)
	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return entries
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return make(map[string]json.RawMessage)
	}
	return entries
}
