package media

import (
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for file extensions no backend accepts.
var ErrUnsupportedFormat = errors.New("unsupported sound format")

var supportedFormats = map[string]bool{
	".flac": true,
	".m4a":  true,
	".mp3":  true,
	".wav":  true,
}

// Clip is a loaded audio payload plus the checksum that identifies its
// exact byte content. Identical bytes always produce the same checksum
// regardless of file name or location.
type Clip struct {
	Path     string
	Data     []byte
	Checksum string
}

// Checksum returns the CRC32 of raw audio bytes as eight hex digits.
func Checksum(data []byte) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE(data))
}

// Load reads an audio file and computes its content checksum.
func Load(path string) (*Clip, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedFormats[ext] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	return &Clip{Path: path, Data: data, Checksum: Checksum(data)}, nil
}

// FromBytes wraps already-captured audio bytes as a Clip.
func FromBytes(data []byte) *Clip {
	return &Clip{Data: data, Checksum: Checksum(data)}
}
