package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/couchcryptid/sensor-geo-enricher/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/sensor-geo-enricher/internal/adapter/kafka"
	natsadapter "github.com/couchcryptid/sensor-geo-enricher/internal/adapter/nats"
	"github.com/couchcryptid/sensor-geo-enricher/internal/app"
	"github.com/couchcryptid/sensor-geo-enricher/internal/config"
	"github.com/couchcryptid/sensor-geo-enricher/internal/observability"
	"github.com/couchcryptid/sensor-geo-enricher/internal/pipeline"
)

type transport interface {
	pipeline.Transport
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, clock, logger, metrics)
	if err != nil {
		logger.Error("failed to initialize enrichment", "error", err)
		os.Exit(1)
	}
	defer components.Close()

	var (
		source transport
		ready  = app.Readiness{components.Sink}
	)
	switch cfg.Transport {
	case config.TransportNATS:
		t, err := natsadapter.NewTransport(cfg, logger)
		if err != nil {
			logger.Error("failed to start nats transport", "error", err)
			os.Exit(1)
		}
		source = t
		ready = append(ready, t)
	default:
		source = kafkaadapter.NewReader(cfg, logger)
	}

	opts := []pipeline.Option{pipeline.WithSinkTimeout(cfg.SinkTimeout)}
	var dlq *kafkaadapter.Writer
	if cfg.MaxDeliveries > 0 {
		var publisher pipeline.DeadLetterPublisher
		if cfg.KafkaDLQTopic != "" {
			dlq = kafkaadapter.NewDeadLetterWriter(cfg, logger)
			publisher = dlq
		}
		opts = append(opts, pipeline.WithMaxDeliveries(cfg.MaxDeliveries, publisher))
		logger.Info("delivery cap enabled", "max_deliveries", cfg.MaxDeliveries, "dlq_topic", cfg.KafkaDLQTopic)
	}

	p := pipeline.New(source, components.Enricher, components.Sink, logger, metrics, opts...)
	ready = append(ready, p)

	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, components.Enricher, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return p.Run(gctx)
	})
	g.Go(func() error {
		app.RunCacheClearer(gctx, clock, cfg.CacheClearInterval, components.Enricher, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("service error", "error", err)
	}

	if err := source.Close(); err != nil {
		logger.Error("transport close error", "error", err)
	}
	if dlq != nil {
		if err := dlq.Close(); err != nil {
			logger.Error("dead-letter writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
