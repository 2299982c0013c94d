// Command batch enriches a finite file of sensor events slice by slice and
// writes the records to the configured sinks. Slices that fail are appended
// to a CSV of failed records when -failed is set.
//
// Usage:
//
//	go run ./cmd/batch \
//	  -input data/sensor_events.jsonl \
//	  -failed data/failed_records.csv \
//	  -slice-size 5000
//
// Boundary datasets, caches and sinks come from the same environment
// variables as the streaming service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"

	fileadapter "github.com/couchcryptid/sensor-geo-enricher/internal/adapter/file"
	"github.com/couchcryptid/sensor-geo-enricher/internal/app"
	"github.com/couchcryptid/sensor-geo-enricher/internal/config"
	"github.com/couchcryptid/sensor-geo-enricher/internal/observability"
	"github.com/couchcryptid/sensor-geo-enricher/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	input := flag.String("input", "", "JSON-lines file of sensor events, one message body per line")
	failedPath := flag.String("failed", "", "CSV file receiving events of failed slices (optional)")
	sliceSize := flag.Int("slice-size", cfg.BatchSliceSize, "events enriched and sunk together")
	flag.Parse()

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if *input == "" {
		logger.Error("-input is required")
		return 2
	}
	if *sliceSize < 1 {
		logger.Error("-slice-size must be positive", "slice_size", *sliceSize)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	components, err := app.Build(ctx, cfg, clockwork.NewRealClock(), logger, metrics)
	if err != nil {
		logger.Error("failed to initialize enrichment", "error", err)
		return 1
	}
	defer components.Close()

	events, err := fileadapter.OpenEventReader(*input, logger)
	if err != nil {
		logger.Error("failed to open input", "error", err)
		return 1
	}
	defer events.Close() //nolint:errcheck // read-only

	var failed pipeline.FailedRecordWriter
	if *failedPath != "" {
		w, err := fileadapter.OpenFailedCSV(*failedPath)
		if err != nil {
			logger.Error("failed to open failed-records file", "error", err)
			return 1
		}
		defer func() {
			if err := w.Close(); err != nil {
				logger.Error("failed-records file close error", "error", err)
			}
		}()
		failed = w
	}

	runner := pipeline.NewBatchRunner(events, components.Enricher, components.Sink, failed, *sliceSize, logger, metrics)
	stats, err := runner.Run(ctx)
	if n := events.Skipped(); n > 0 {
		logger.Warn("undecodable input lines skipped", "lines", n)
	}
	if stats.FailedSlices > 0 {
		logger.Warn("some slices failed", "failed_slices", stats.FailedSlices, "failed_events", stats.FailedEvents)
	}
	if err != nil {
		logger.Error("batch aborted", "error", err)
		return 1
	}
	return 0
}
