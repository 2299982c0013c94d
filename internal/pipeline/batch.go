package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
	"github.com/couchcryptid/sensor-geo-enricher/internal/observability"
)

// DefaultSliceSize is the number of events enriched and sunk together.
const DefaultSliceSize = 5000

// EventSource yields a finite stream of events. ReadSlice returns up to n
// events and io.EOF once the source is exhausted; a final short slice may
// come with io.EOF.
type EventSource interface {
	ReadSlice(ctx context.Context, n int) ([]domain.SensorEvent, error)
}

// BatchEnricher enriches a slice of events, omitting dropped ones.
type BatchEnricher interface {
	EnrichBatch(ctx context.Context, events []domain.SensorEvent) ([]domain.EnrichedRecord, error)
}

// FailedRecordWriter records the events of a slice that could not be
// enriched or sunk.
type FailedRecordWriter interface {
	WriteFailed(events []domain.SensorEvent, cause error) error
}

// BatchStats summarizes a batch run.
type BatchStats struct {
	Slices       int
	Events       int
	Records      int
	FailedSlices int
	FailedEvents int
}

// BatchRunner enriches a finite source slice by slice. A failing slice is
// logged, written to the failed-records writer when one is set, and the run
// moves on to the next slice.
type BatchRunner struct {
	source    EventSource
	enricher  BatchEnricher
	sink      domain.Sink
	failed    FailedRecordWriter
	sliceSize int
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewBatchRunner creates a BatchRunner. A sliceSize below 1 uses
// DefaultSliceSize; failed may be nil.
func NewBatchRunner(source EventSource, enricher BatchEnricher, sink domain.Sink, failed FailedRecordWriter, sliceSize int, logger *slog.Logger, metrics *observability.Metrics) *BatchRunner {
	if sliceSize < 1 {
		sliceSize = DefaultSliceSize
	}
	return &BatchRunner{
		source:    source,
		enricher:  enricher,
		sink:      sink,
		failed:    failed,
		sliceSize: sliceSize,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Run processes the whole source. It returns an error only when the source
// itself fails or ctx is cancelled; slice failures are reported in the stats.
func (b *BatchRunner) Run(ctx context.Context) (BatchStats, error) {
	var stats BatchStats
	b.logger.Info("batch run started", "slice_size", b.sliceSize)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		events, readErr := b.source.ReadSlice(ctx, b.sliceSize)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return stats, fmt.Errorf("read slice %d: %w", stats.Slices+1, readErr)
		}

		if len(events) > 0 {
			stats.Slices++
			stats.Events += len(events)
			n, err := b.runSlice(ctx, events)
			stats.Records += n
			if err != nil {
				stats.FailedSlices++
				stats.FailedEvents += len(events)
				b.recordFailure(stats.Slices, events, err)
			}
		}

		if errors.Is(readErr, io.EOF) {
			b.logger.Info("batch run complete",
				"slices", stats.Slices,
				"events", stats.Events,
				"records", stats.Records,
				"failed_slices", stats.FailedSlices,
			)
			return stats, nil
		}
	}
}

func (b *BatchRunner) runSlice(ctx context.Context, events []domain.SensorEvent) (int, error) {
	start := b.clock.Now()
	defer func() { b.metrics.BatchSliceDuration.Observe(b.clock.Since(start).Seconds()) }()

	records, err := b.enricher.EnrichBatch(ctx, events)
	if err != nil {
		return 0, fmt.Errorf("enrich: %w", err)
	}
	if err := b.sink.Accept(ctx, records...); err != nil {
		return 0, fmt.Errorf("sink: %w", err)
	}
	b.metrics.RecordsSunk.Add(float64(len(records)))
	return len(records), nil
}

func (b *BatchRunner) recordFailure(slice int, events []domain.SensorEvent, cause error) {
	b.metrics.EnrichErrors.Inc()
	b.logger.Error("batch slice failed", "slice", slice, "events", len(events), "error", cause)
	if b.failed == nil {
		return
	}
	if err := b.failed.WriteFailed(events, cause); err != nil {
		b.logger.Error("write failed records", "slice", slice, "error", err)
	}
}
