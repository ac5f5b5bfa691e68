package asr

import (
	"context"
	"encoding/json"
	"fmt"
)

type mockRecognizer struct {
	name string
}

// NewMockRecognizer returns a recognizer that never leaves the process,
// for development and tests.
func NewMockRecognizer(name string) Recognizer {
	return &mockRecognizer{name: name}
}

type mockPayload struct {
	Text     string `json:"text"`
	ByteSize int    `json:"byte_size"`
}

func (m *mockRecognizer) Name() string { return m.name }

func (m *mockRecognizer) Recognize(_ context.Context, audio []byte) (json.RawMessage, error) {
	payload, err := json.Marshal(mockPayload{
		Text:     fmt.Sprintf("[%s transcript length=%d]", m.name, len(audio)),
		ByteSize: len(audio),
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (m *mockRecognizer) Parse(payload json.RawMessage) ([]Segment, error) {
	var parsed mockPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("mock malformed payload: %w", err)
	}
	return []Segment{{StartMS: 0, EndMS: 0, Text: parsed.Text}}, nil
}
