package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/voxkit/voxd/internal/config"
)

type bcutRecognizer struct {
	endpoint string
	client   *http.Client
}

// NewBCutRecognizer builds a client for the BCut-style provider, which
// accepts a multipart audio upload and answers with utterance spans.
func NewBCutRecognizer(cfg config.BackendConfig) Recognizer {
	return &bcutRecognizer{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
	}
}

type bcutResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Utterances []struct {
			StartTime  int64  `json:"start_time"`
			EndTime    int64  `json:"end_time"`
			Transcript string `json:"transcript"`
		} `json:"utterances"`
	} `json:"data"`
}

func (r *bcutRecognizer) Name() string { return "bcut" }

func (r *bcutRecognizer) Recognize(ctx context.Context, audio []byte) (json.RawMessage, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "audio")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/task", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bcut request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bcut returned status %s", resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bcut read response: %w", err)
	}
	if _, err := r.Parse(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (r *bcutRecognizer) Parse(payload json.RawMessage) ([]Segment, error) {
	var parsed bcutResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("bcut malformed response: %w", err)
	}
	if parsed.Code != 0 {
		return nil, fmt.Errorf("bcut rejected request: code=%d message=%s", parsed.Code, parsed.Message)
	}
	segments := make([]Segment, 0, len(parsed.Data.Utterances))
	for _, u := range parsed.Data.Utterances {
		segments = append(segments, Segment{
			StartMS: u.StartTime,
			EndMS:   u.EndTime,
			Text:    u.Transcript,
		})
	}
	return segments, nil
}
