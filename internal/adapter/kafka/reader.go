package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/sensor-geo-enricher/internal/config"
	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
)

// fetcher is the subset of *kafkago.Reader the transport uses.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Reader consumes the source topic one message at a time and implements
// pipeline.Transport. Ack commits the offset. Nack with requeue keeps the
// message in a one-slot buffer so the next Receive redelivers it; nack without
// requeue commits, dropping it.
type Reader struct {
	fetcher fetcher
	logger  *slog.Logger

	mu      sync.Mutex
	pending *requeued
}

type requeued struct {
	msg     kafkago.Message
	attempt int
}

// NewReader creates a consumer-group reader for the configured source topic.
// Offsets are committed synchronously on ack.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaSourceTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newReader(r, logger)
}

func newReader(f fetcher, logger *slog.Logger) *Reader {
	return &Reader{fetcher: f, logger: logger}
}

// Receive returns the requeued message if there is one, otherwise the next
// message from the topic.
func (r *Reader) Receive(ctx context.Context) (domain.Message, error) {
	r.mu.Lock()
	p := r.pending
	r.pending = nil
	r.mu.Unlock()

	if p != nil {
		r.logger.Debug("redelivering requeued message",
			"topic", p.msg.Topic, "partition", p.msg.Partition, "offset", p.msg.Offset, "attempt", p.attempt)
		return r.toDomain(p.msg, p.attempt), nil
	}

	msg, err := r.fetcher.FetchMessage(ctx)
	if err != nil {
		return domain.Message{}, fmt.Errorf("fetch message: %w", err)
	}
	return r.toDomain(msg, 1), nil
}

// Close closes the underlying reader.
func (r *Reader) Close() error {
	return r.fetcher.Close()
}

func (r *Reader) toDomain(msg kafkago.Message, attempt int) domain.Message {
	m := mapMessage(msg, attempt)
	m.Ack = func(ctx context.Context) error {
		return r.commit(ctx, msg)
	}
	m.Nack = func(ctx context.Context, requeue bool) error {
		if !requeue {
			return r.commit(ctx, msg)
		}
		r.mu.Lock()
		r.pending = &requeued{msg: msg, attempt: attempt + 1}
		r.mu.Unlock()
		return nil
	}
	return m
}

func (r *Reader) commit(ctx context.Context, msg kafkago.Message) error {
	if err := r.fetcher.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	return nil
}

// mapMessage converts a Kafka message into a transport-neutral message
// without settlement callbacks.
func mapMessage(msg kafkago.Message, attempt int) domain.Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.Message{
		Key:        msg.Key,
		Body:       msg.Value,
		Headers:    headers,
		Topic:      msg.Topic,
		Attempt:    attempt,
		ReceivedAt: msg.Time,
	}
}
