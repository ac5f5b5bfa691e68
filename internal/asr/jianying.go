package asr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxkit/voxd/internal/config"
)

type jianyingRecognizer struct {
	endpoint string
	client   *http.Client
}

// NewJianYingRecognizer builds a client for the JianYing-style provider,
// which takes base64 audio in a JSON body.
func NewJianYingRecognizer(cfg config.BackendConfig) Recognizer {
	return &jianyingRecognizer{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
	}
}

type jianyingRequest struct {
	Audio  string `json:"audio"`
	Format string `json:"format"`
}

type jianyingResponse struct {
	Ret     string `json:"ret"`
	ErrMsg  string `json:"errmsg"`
	Data    struct {
		Segments []struct {
			BeginTime int64  `json:"begin_time"`
			EndTime   int64  `json:"end_time"`
			Text      string `json:"text"`
		} `json:"segments"`
	} `json:"data"`
}

func (r *jianyingRecognizer) Name() string { return "jianying" }

func (r *jianyingRecognizer) Recognize(ctx context.Context, audio []byte) (json.RawMessage, error) {
	body, err := json.Marshal(jianyingRequest{
		Audio:  base64.StdEncoding.EncodeToString(audio),
		Format: "raw",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/submit_audio", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jianying request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jianying returned status %s", resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("jianying read response: %w", err)
	}
	if _, err := r.Parse(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (r *jianyingRecognizer) Parse(payload json.RawMessage) ([]Segment, error) {
	var parsed jianyingResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("jianying malformed response: %w", err)
	}
	if parsed.Ret != "" && parsed.Ret != "0" {
		return nil, fmt.Errorf("jianying rejected request: ret=%s errmsg=%s", parsed.Ret, parsed.ErrMsg)
	}
	segments := make([]Segment, 0, len(parsed.Data.Segments))
	for _, s := range parsed.Data.Segments {
		segments = append(segments, Segment{
			StartMS: s.BeginTime,
			EndMS:   s.EndTime,
			Text:    s.Text,
		})
	}
	return segments, nil
}
