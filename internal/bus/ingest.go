package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/voxkit/voxd/internal/dispatch"
	"github.com/voxkit/voxd/internal/protocol"
)

// Submitter enqueues file recognition jobs.
type Submitter interface {
	Submit(path, backend, format string) error
}

// Feeder accepts captured audio chunks, reporting backpressure.
type Feeder interface {
	Feed(chunk []byte) bool
}

// Ingest subscribes to the submission and audio subjects and forwards
// them into the dispatcher and assembler.
type Ingest struct {
	client    *Client
	submitter Submitter
	feeder    Feeder
	log       *slog.Logger
	subs      []*nats.Subscription
}

func NewIngest(client *Client, submitter Submitter, feeder Feeder, log *slog.Logger) *Ingest {
	return &Ingest{
		client:    client,
		submitter: submitter,
		feeder:    feeder,
		log:       log.With(slog.String("component", "bus-ingest")),
	}
}

func (i *Ingest) Start() error {
	sub, err := i.client.Conn().Subscribe(protocol.SubjectJobSubmit, i.handleSubmit)
	if err != nil {
		return fmt.Errorf("subscribe job submit: %w", err)
	}
	i.subs = append(i.subs, sub)

	sub, err = i.client.Conn().Subscribe(protocol.SubjectAudioChunk, i.handleAudio)
	if err != nil {
		i.Close()
		return fmt.Errorf("subscribe audio chunks: %w", err)
	}
	i.subs = append(i.subs, sub)
	return nil
}

func (i *Ingest) Close() {
	for _, sub := range i.subs {
		_ = sub.Drain()
	}
	i.subs = nil
}

func (i *Ingest) handleSubmit(msg *nats.Msg) {
	var req protocol.JobRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		i.log.Warn("failed to decode job request", slog.String("error", err.Error()))
		return
	}
	if err := i.submitter.Submit(req.Path, req.Backend, req.Format); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, dispatch.ErrJobBusy) {
			level = slog.LevelInfo
		}
		i.log.Log(context.Background(), level, "job submission rejected",
			slog.String("path", req.Path),
			slog.String("error", err.Error()))
	}
}

func (i *Ingest) handleAudio(msg *nats.Msg) {
	var chunk protocol.AudioChunk
	if err := json.Unmarshal(msg.Data, &chunk); err != nil {
		i.log.Warn("failed to decode audio chunk", slog.String("error", err.Error()))
		return
	}
	if !i.feeder.Feed(chunk.Data) {
		i.log.Warn("audio chunk dropped", slog.Int("sequence", chunk.Sequence))
	}
}
