package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/sensor-geo-enricher/internal/config"
	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
)

// Dead-letter headers added to the original message.
const (
	HeaderError       = "x-error"
	HeaderAttempt     = "x-attempt"
	HeaderSourceTopic = "x-source-topic"
)

// producer is the subset of *kafkago.Writer the sink uses.
type producer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces messages to a Kafka topic. It implements domain.Sink for
// enriched records and pipeline.DeadLetterPublisher for capped messages.
type Writer struct {
	writer producer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	return newTopicWriter(cfg.KafkaBrokers, cfg.KafkaSinkTopic, logger)
}

// NewDeadLetterWriter creates a Kafka producer for the dead-letter topic.
func NewDeadLetterWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	return newTopicWriter(cfg.KafkaBrokers, cfg.KafkaDLQTopic, logger)
}

func newTopicWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Accept serializes and publishes the records in a single WriteMessages call.
func (w *Writer) Accept(ctx context.Context, records ...domain.EnrichedRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeToMessage(records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d records: %w", len(msgs), err)
	}
	return nil
}

// PublishDeadLetter copies the original message to the dead-letter topic,
// annotated with the failure and the delivery attempt.
func (w *Writer) PublishDeadLetter(ctx context.Context, msg domain.Message, cause error) error {
	out := kafkago.Message{Key: msg.Key, Value: msg.Body}
	for k, v := range msg.Headers {
		out.Headers = append(out.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	out.Headers = append(out.Headers,
		kafkago.Header{Key: HeaderError, Value: []byte(cause.Error())},
		kafkago.Header{Key: HeaderAttempt, Value: []byte(strconv.Itoa(msg.Attempt))},
		kafkago.Header{Key: HeaderSourceTopic, Value: []byte(msg.Topic)},
	)
	if err := w.writer.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	w.logger.Warn("message dead-lettered", "topic", msg.Topic, "attempt", msg.Attempt, "error", cause)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an EnrichedRecord into a Kafka message keyed by
// record ID, so redelivered records land on the same partition.
func serializeToMessage(record domain.EnrichedRecord) (kafkago.Message, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize enriched record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(record.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "country", Value: []byte(record.Country)},
			{Key: "state", Value: []byte(record.State)},
			{Key: "processed_at", Value: []byte(record.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
