package bus

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/voxkit/voxd/internal/asr"
	"github.com/voxkit/voxd/internal/protocol"
)

// Publisher broadcasts job and segment results on the bus. It satisfies
// the dispatcher's sink and the assembler's listener; publish failures
// are logged since notifications are fire-and-forget.
type Publisher struct {
	client *Client
	log    *slog.Logger
}

func NewPublisher(client *Client, log *slog.Logger) *Publisher {
	return &Publisher{client: client, log: log.With(slog.String("component", "bus-publisher"))}
}

func (p *Publisher) OnJobFinished(path, text string) {
	p.publish(protocol.SubjectJobFinished, protocol.JobResult{
		Path:      path,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) OnJobFailed(path, message string) {
	p.publish(protocol.SubjectJobFailed, protocol.JobResult{
		Path:      path,
		Error:     message,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) OnSegment(seg asr.Segment) {
	p.publish(protocol.SubjectSegment, protocol.SegmentResult{
		StartMS:   seg.StartMS,
		EndMS:     seg.EndMS,
		Text:      seg.Text,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) OnFlushError(err error) {
	p.log.Warn("stream flush failed", slog.String("error", err.Error()))
}

func (p *Publisher) publish(subject string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn("failed to marshal bus message", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := p.client.Conn().Publish(subject, data); err != nil {
		p.log.Warn("failed to publish bus message", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
