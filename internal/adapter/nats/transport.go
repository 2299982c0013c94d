// Package natsadapter consumes sensor events from a NATS JetStream stream.
package natsadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/couchcryptid/sensor-geo-enricher/internal/config"
	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
)

// fetchWait bounds a single pull request; Receive keeps pulling until a
// message arrives or its context is done.
const fetchWait = 5 * time.Second

type puller interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

// settler is the subset of *nats.Msg used to settle a delivery.
type settler interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
	Metadata() (*nats.MsgMetadata, error)
}

// Transport is a durable JetStream pull consumer with at most one
// unacknowledged message. It implements pipeline.Transport. Nack with requeue
// naks the message for redelivery; nack without requeue terminates it.
type Transport struct {
	conn   *nats.Conn
	sub    puller
	logger *slog.Logger
}

// NewTransport connects to NATS, ensures the stream exists and binds a
// durable pull consumer to the configured subject.
func NewTransport(cfg *config.Config, logger *slog.Logger) (*Transport, error) {
	conn, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	stream := nats.StreamConfig{
		Name:      cfg.NATSStream,
		Subjects:  []string{cfg.NATSSubject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(&stream); err != nil {
		if _, err := js.UpdateStream(&stream); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", stream.Name, err)
		}
	}

	sub, err := js.PullSubscribe(cfg.NATSSubject, cfg.NATSDurable,
		nats.BindStream(cfg.NATSStream),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxAckPending(1),
		nats.DeliverAll(),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("pull subscribe %s: %w", cfg.NATSSubject, err)
	}

	logger.Info("nats transport ready", "stream", cfg.NATSStream, "subject", cfg.NATSSubject, "durable", cfg.NATSDurable)
	return &Transport{conn: conn, sub: sub, logger: logger}, nil
}

// Receive pulls the next message, blocking until one arrives or ctx is done.
func (t *Transport) Receive(ctx context.Context) (domain.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Message{}, err
		}

		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := t.sub.Fetch(1, nats.Context(fetchCtx))
		cancel()

		if err != nil {
			if ctx.Err() == nil && (errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)) {
				continue
			}
			return domain.Message{}, fmt.Errorf("fetch: %w", err)
		}
		if len(msgs) == 0 {
			continue
		}
		m := msgs[0]
		return toDomain(m, m.Subject, m.Data, m.Header), nil
	}
}

// CheckReadiness reports whether the NATS connection is up.
func (t *Transport) CheckReadiness(_ context.Context) error {
	if t.conn == nil || !t.conn.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

// Close drains and closes the connection.
func (t *Transport) Close() error {
	return t.conn.Drain()
}

func toDomain(s settler, subject string, data []byte, header nats.Header) domain.Message {
	attempt := 1
	var received time.Time
	if md, err := s.Metadata(); err == nil {
		attempt = int(md.NumDelivered)
		received = md.Timestamp
	}

	headers := make(map[string]string, len(header))
	for k := range header {
		headers[k] = header.Get(k)
	}

	return domain.Message{
		Body:       data,
		Headers:    headers,
		Topic:      subject,
		Attempt:    attempt,
		ReceivedAt: received,
		Ack: func(context.Context) error {
			return s.Ack()
		},
		Nack: func(_ context.Context, requeue bool) error {
			if requeue {
				return s.Nak()
			}
			return s.Term()
		},
	}
}
