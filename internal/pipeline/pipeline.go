package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
	"github.com/couchcryptid/sensor-geo-enricher/internal/observability"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Transport delivers one message at a time. Receive blocks until a message is
// available or ctx is done.
type Transport interface {
	Receive(ctx context.Context) (domain.Message, error)
}

// Enricher resolves the location of one event. A nil record with a nil error
// means the event is dropped.
type Enricher interface {
	Enrich(ctx context.Context, event domain.SensorEvent) (*domain.EnrichedRecord, error)
}

// DeadLetterPublisher stores a message that reached the delivery cap.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, msg domain.Message, cause error) error
}

// Option configures a Processor.
type Option func(*Processor)

// WithMaxDeliveries caps redelivery of failing messages. Once a message's
// attempt reaches n it is handed to dlq (when non-nil) and dropped instead of
// requeued. Zero keeps requeueing forever.
func WithMaxDeliveries(n int, dlq DeadLetterPublisher) Option {
	return func(p *Processor) {
		p.maxDeliveries = n
		p.dlq = dlq
	}
}

// WithSinkTimeout bounds each sink write.
func WithSinkTimeout(d time.Duration) Option {
	return func(p *Processor) { p.sinkTimeout = d }
}

// Processor consumes messages one at a time, enriches them and hands the
// records to the sink. Every message is either acknowledged or negatively
// acknowledged before the next one is received.
type Processor struct {
	transport     Transport
	enricher      Enricher
	sink          domain.Sink
	dlq           DeadLetterPublisher
	maxDeliveries int
	sinkTimeout   time.Duration
	logger        *slog.Logger
	metrics       *observability.Metrics
	ready         atomic.Bool
}

// New creates a Processor with the given stages and observability.
func New(t Transport, e Enricher, sink domain.Sink, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Processor {
	p := &Processor{
		transport: t,
		enricher:  e,
		sink:      sink,
		logger:    logger,
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil while the processor loop is running and its
// transport is healthy.
func (p *Processor) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("processor is not receiving messages")
	}
	return nil
}

// Run executes the receive-enrich-sink loop until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("processor started", "max_deliveries", p.maxDeliveries)
	p.metrics.ProcessorRunning.Set(1)
	p.ready.Store(true)
	defer func() {
		p.ready.Store(false)
		p.metrics.ProcessorRunning.Set(0)
	}()

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			p.logger.Info("processor stopping", "reason", ctx.Err())
			return nil
		}

		msg, err := p.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.ready.Store(false)
			p.logger.Error("receive failed", "error", err)
			p.wait(ctx, &backoff)
			continue
		}
		p.ready.Store(true)

		if err := p.Handle(ctx, msg); err != nil {
			p.wait(ctx, &backoff)
			continue
		}
		backoff = initialBackoff
	}
}

// Handle processes one message and settles it. A returned error means the
// message was negatively acknowledged or dead-lettered.
func (p *Processor) Handle(ctx context.Context, msg domain.Message) error {
	p.metrics.MessagesReceived.Inc()

	if err := p.process(ctx, msg); err != nil {
		p.metrics.EnrichErrors.Inc()
		p.fail(ctx, msg, err)
		return err
	}

	p.settle(ctx, msg, "ack", func(ctx context.Context) error {
		if msg.Ack == nil {
			return nil
		}
		return msg.Ack(ctx)
	})
	p.metrics.MessagesAcked.Inc()
	return nil
}

func (p *Processor) process(ctx context.Context, msg domain.Message) error {
	event, err := domain.ParseSensorEvent(msg.Body)
	if err != nil {
		return err
	}
	if event.Topic == "" {
		event.Topic = msg.Topic
	}

	record, err := p.enricher.Enrich(ctx, event)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	sinkCtx := ctx
	if p.sinkTimeout > 0 {
		var cancel context.CancelFunc
		sinkCtx, cancel = context.WithTimeout(ctx, p.sinkTimeout)
		defer cancel()
	}
	if err := p.sink.Accept(sinkCtx, *record); err != nil {
		return fmt.Errorf("sink record %s: %w", record.ID, err)
	}
	p.metrics.RecordsSunk.Inc()
	return nil
}

// fail requeues msg, or drops it through the dead-letter path once it has
// reached the delivery cap.
func (p *Processor) fail(ctx context.Context, msg domain.Message, cause error) {
	if p.maxDeliveries > 0 && msg.Attempt >= p.maxDeliveries {
		if p.dlq != nil {
			if err := p.dlq.PublishDeadLetter(ctx, msg, cause); err != nil {
				p.logger.Error("dead-letter publish failed, requeueing",
					"error", err, "topic", msg.Topic, "attempt", msg.Attempt)
				p.requeue(ctx, msg, cause)
				return
			}
		}
		p.logger.Warn("delivery cap reached, dropping message",
			"error", cause, "topic", msg.Topic, "attempt", msg.Attempt)
		p.settle(ctx, msg, "drop", func(ctx context.Context) error {
			if msg.Nack == nil {
				return nil
			}
			return msg.Nack(ctx, false)
		})
		p.metrics.MessagesDeadLettered.Inc()
		return
	}
	p.requeue(ctx, msg, cause)
}

func (p *Processor) requeue(ctx context.Context, msg domain.Message, cause error) {
	p.logger.Warn("processing failed, requeueing message",
		"error", cause, "topic", msg.Topic, "attempt", msg.Attempt)
	p.settle(ctx, msg, "nack", func(ctx context.Context) error {
		if msg.Nack == nil {
			return nil
		}
		return msg.Nack(ctx, true)
	})
	p.metrics.MessagesRequeued.Inc()
}

// settle runs an ack or nack. It uses a context detached from cancellation
// so a shutdown does not leave the message unsettled.
func (p *Processor) settle(ctx context.Context, msg domain.Message, op string, fn func(context.Context) error) {
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn(op+" failed", "error", err, "topic", msg.Topic, "attempt", msg.Attempt)
	}
}

// wait sleeps with the current backoff and advances it. Returns false if the
// context was cancelled.
func (p *Processor) wait(ctx context.Context, backoff *time.Duration) bool {
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, maxBackoff)
	return true
}
