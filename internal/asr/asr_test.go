package asr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxkit/voxd/internal/config"
)

func TestBCutRecognize(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("expected multipart body: %v", err)
		}
		w.Write([]byte(`{"code":0,"data":{"utterances":[{"start_time":0,"end_time":1200,"transcript":"hello"},{"start_time":1200,"end_time":2400,"transcript":"world"}]}}`))
	}))
	defer srv.Close()

	rec := NewBCutRecognizer(config.BackendConfig{Endpoint: srv.URL, TimeoutMS: 2000})
	payload, err := rec.Recognize(context.Background(), []byte("audio-bytes"))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if gotPath != "/task" {
		t.Fatalf("expected /task, got %s", gotPath)
	}

	segments, err := rec.Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Text != "hello" || segments[0].EndMS != 1200 {
		t.Fatalf("unexpected first segment: %+v", segments[0])
	}
}

func TestBCutRejectsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":7,"message":"quota exceeded"}`))
	}))
	defer srv.Close()

	rec := NewBCutRecognizer(config.BackendConfig{Endpoint: srv.URL, TimeoutMS: 2000})
	if _, err := rec.Recognize(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error for non-zero provider code")
	}
}

func TestBCutRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rec := NewBCutRecognizer(config.BackendConfig{Endpoint: srv.URL, TimeoutMS: 2000})
	if _, err := rec.Recognize(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestJianYingRecognize(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Audio string `json:"audio"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(req.Audio)
		if err != nil || string(decoded) != string(audio) {
			t.Errorf("expected base64 audio round-trip, got %q (%v)", req.Audio, err)
		}
		w.Write([]byte(`{"ret":"0","data":{"segments":[{"begin_time":500,"end_time":900,"text":"nihao"}]}}`))
	}))
	defer srv.Close()

	rec := NewJianYingRecognizer(config.BackendConfig{Endpoint: srv.URL, TimeoutMS: 2000})
	payload, err := rec.Recognize(context.Background(), audio)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	segments, err := rec.Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(segments) != 1 || segments[0].Text != "nihao" || segments[0].StartMS != 500 {
		t.Fatalf("unexpected segments: %+v", segments)
	}
}

func TestJianYingMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	rec := NewJianYingRecognizer(config.BackendConfig{Endpoint: srv.URL, TimeoutMS: 2000})
	if _, err := rec.Recognize(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestFromConfig(t *testing.T) {
	backends, err := FromConfig(config.BackendsConfig{
		BCut:     config.BackendConfig{Mode: "mock", TimeoutMS: 1000},
		JianYing: config.BackendConfig{Mode: "http", Endpoint: "http://localhost:1", TimeoutMS: 1000},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backends["bcut"].Name() != "bcut" {
		t.Fatalf("expected bcut backend, got %s", backends["bcut"].Name())
	}
	if _, ok := backends["jianying"].(*jianyingRecognizer); !ok {
		t.Fatalf("expected http jianying backend, got %T", backends["jianying"])
	}
}

func TestMockRoundTrip(t *testing.T) {
	rec := NewMockRecognizer("bcut")
	payload, err := rec.Recognize(context.Background(), make([]byte, 42))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	segments, err := rec.Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(segments) != 1 || segments[0].Text == "" {
		t.Fatalf("unexpected segments: %+v", segments)
	}
}
