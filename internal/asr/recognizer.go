package asr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voxkit/voxd/internal/config"
)

// Segment is one recognized span of speech, times in milliseconds.
type Segment struct {
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// Recognizer abstracts a remote speech-recognition provider. Recognize
// returns the provider response verbatim so callers can persist it and
// re-parse later; Parse is pure over such a payload.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, audio []byte) (json.RawMessage, error)
	Parse(payload json.RawMessage) ([]Segment, error)
}

// FromConfig builds the configured provider set keyed by backend name.
func FromConfig(cfg config.BackendsConfig) (map[string]Recognizer, error) {
	backends := make(map[string]Recognizer, 2)
	for name, bc := range map[string]config.BackendConfig{"bcut": cfg.BCut, "jianying": cfg.JianYing} {
		switch bc.Mode {
		case "mock":
			backends[name] = NewMockRecognizer(name)
		case "http":
			switch name {
			case "bcut":
				backends[name] = NewBCutRecognizer(bc)
			case "jianying":
				backends[name] = NewJianYingRecognizer(bc)
			}
		default:
			return nil, fmt.Errorf("unknown backend mode %q for %s", bc.Mode, name)
		}
	}
	return backends, nil
}
