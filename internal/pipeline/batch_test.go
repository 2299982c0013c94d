package pipeline_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
	"github.com/couchcryptid/sensor-geo-enricher/internal/pipeline"
)

// --- mocks ---

type sliceSource struct {
	events []domain.SensorEvent
	err    error
	reads  []int
}

func (s *sliceSource) ReadSlice(_ context.Context, n int) ([]domain.SensorEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.events) <= n {
		out := s.events
		s.events = nil
		s.reads = append(s.reads, len(out))
		return out, io.EOF
	}
	out := s.events[:n]
	s.events = s.events[n:]
	s.reads = append(s.reads, len(out))
	return out, nil
}

type batchEnricher struct {
	failOn map[string]bool
	calls  int
}

func (b *batchEnricher) EnrichBatch(_ context.Context, events []domain.SensorEvent) ([]domain.EnrichedRecord, error) {
	b.calls++
	records := make([]domain.EnrichedRecord, 0, len(events))
	for _, ev := range events {
		if b.failOn[ev.DeviceID] {
			return nil, errors.New("boundary engine unreachable")
		}
		if !ev.HasCoordinates() {
			continue
		}
		records = append(records, domain.NewEnrichedRecord(ev, domain.Location{Country: "US", State: "Oregon"}))
	}
	return records, nil
}

type failedWriter struct {
	events []domain.SensorEvent
	causes []error
}

func (f *failedWriter) WriteFailed(events []domain.SensorEvent, cause error) error {
	f.events = append(f.events, events...)
	f.causes = append(f.causes, cause)
	return nil
}

func sensorEvents(ids ...string) []domain.SensorEvent {
	lat, lon := 45.5231, -122.6765
	out := make([]domain.SensorEvent, len(ids))
	for i, id := range ids {
		out[i] = domain.SensorEvent{DeviceID: id, Lat: &lat, Lon: &lon}
	}
	return out
}

// --- tests ---

func TestBatchRunner_SlicesSequentially(t *testing.T) {
	source := &sliceSource{events: sensorEvents("a", "b", "c", "d", "e")}
	enricher := &batchEnricher{}
	sink := &mockSink{}
	runner := pipeline.NewBatchRunner(source, enricher, sink, nil, 2, discardLogger(), newTestMetrics())

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, source.reads)
	assert.Equal(t, 3, enricher.calls)
	assert.Equal(t, pipeline.BatchStats{Slices: 3, Events: 5, Records: 5}, stats)
	require.Len(t, sink.records, 5)
	assert.Equal(t, "e", sink.records[4].DeviceID)
}

func TestBatchRunner_DroppedEventsOmitted(t *testing.T) {
	events := sensorEvents("a", "b")
	events = append(events, domain.SensorEvent{DeviceID: "no-coords"})
	source := &sliceSource{events: events}
	sink := &mockSink{}
	runner := pipeline.NewBatchRunner(source, &batchEnricher{}, sink, nil, 10, discardLogger(), newTestMetrics())

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Events)
	assert.Equal(t, 2, stats.Records)
}

func TestBatchRunner_FailedSliceIsBestEffort(t *testing.T) {
	source := &sliceSource{events: sensorEvents("a", "b", "bad", "c", "d")}
	enricher := &batchEnricher{failOn: map[string]bool{"bad": true}}
	sink := &mockSink{}
	failed := &failedWriter{}
	runner := pipeline.NewBatchRunner(source, enricher, sink, failed, 2, discardLogger(), newTestMetrics())

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FailedSlices)
	assert.Equal(t, 2, stats.FailedEvents)
	assert.Equal(t, 3, stats.Records)
	require.Len(t, failed.events, 2)
	assert.Equal(t, "bad", failed.events[0].DeviceID)
	assert.Equal(t, "c", failed.events[1].DeviceID)
	require.Len(t, failed.causes, 1)
	assert.Contains(t, failed.causes[0].Error(), "boundary engine unreachable")
}

func TestBatchRunner_SinkFailureRecorded(t *testing.T) {
	source := &sliceSource{events: sensorEvents("a")}
	failed := &failedWriter{}
	runner := pipeline.NewBatchRunner(source, &batchEnricher{}, &mockSink{err: errors.New("db down")}, failed, 0, discardLogger(), newTestMetrics())

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FailedSlices)
	assert.Zero(t, stats.Records)
	assert.Len(t, failed.events, 1)
}

func TestBatchRunner_SourceErrorStopsRun(t *testing.T) {
	source := &sliceSource{err: errors.New("permission denied")}
	runner := pipeline.NewBatchRunner(source, &batchEnricher{}, &mockSink{}, nil, 10, discardLogger(), newTestMetrics())

	_, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read slice 1")
}

func TestBatchRunner_ContextCancelled(t *testing.T) {
	source := &sliceSource{events: sensorEvents("a")}
	runner := pipeline.NewBatchRunner(source, &batchEnricher{}, &mockSink{}, nil, 10, discardLogger(), newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, source.reads)
}
