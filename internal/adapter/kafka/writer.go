package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/gridstream/internal/config"
	"github.com/couchcryptid/gridstream/internal/domain"
)

// EventChunkAppended is the event_type header of progress messages.
const EventChunkAppended = "chunk_appended"

// messageWriter is the subset of *kafkago.Writer used by Notifier.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Notifier publishes one progress message per appended chunk.
// It implements pipeline.ChunkObserver.
type Notifier struct {
	writer messageWriter
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the configured progress topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaProgressTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Notifier{writer: w, logger: logger}
}

// OnChunkAppended publishes ev keyed by output path, so all progress of one
// output lands on one partition in order.
func (n *Notifier) OnChunkAppended(ctx context.Context, ev domain.AppendEvent) error {
	msg, err := serializeToMessage(ev)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish progress for window %d: %w", ev.Window, err)
	}
	n.logger.Debug("progress published", "output", ev.Output, "window", ev.Window, "records", ev.TotalRecords)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals an AppendEvent into a Kafka message.
func serializeToMessage(ev domain.AppendEvent) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize append event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(ev.Output),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(EventChunkAppended)},
			{Key: "appended_at", Value: []byte(ev.AppendedAt.Format(time.RFC3339))},
			{Key: "total_records", Value: []byte(strconv.Itoa(ev.TotalRecords))},
		},
	}, nil
}
