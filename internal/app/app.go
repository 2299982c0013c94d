// Package app assembles the enrichment components from configuration. Both
// the streaming service and the batch driver start from Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	fileadapter "github.com/couchcryptid/sensor-geo-enricher/internal/adapter/file"
	kafkaadapter "github.com/couchcryptid/sensor-geo-enricher/internal/adapter/kafka"
	"github.com/couchcryptid/sensor-geo-enricher/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/sensor-geo-enricher/internal/adapter/redis"
	"github.com/couchcryptid/sensor-geo-enricher/internal/boundary"
	"github.com/couchcryptid/sensor-geo-enricher/internal/cache"
	"github.com/couchcryptid/sensor-geo-enricher/internal/config"
	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
	"github.com/couchcryptid/sensor-geo-enricher/internal/enrich"
	"github.com/couchcryptid/sensor-geo-enricher/internal/observability"
	"github.com/couchcryptid/sensor-geo-enricher/internal/pipeline"
	"github.com/couchcryptid/sensor-geo-enricher/internal/resolver"
)

// Components are the long-lived pieces shared by the entry points.
type Components struct {
	Enricher *enrich.Enricher
	Sink     pipeline.MultiSink
	Pool     *pgxpool.Pool

	closers []namedCloser
	logger  *slog.Logger
}

type namedCloser struct {
	name string
	io.Closer
}

// Build loads the boundary datasets and wires resolvers, caches, the
// enricher and the configured sinks. On error everything opened so far is
// closed.
func Build(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (*Components, error) {
	c := &Components{logger: logger}
	if err := c.build(ctx, cfg, clock, metrics); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) build(ctx context.Context, cfg *config.Config, clock clockwork.Clock, metrics *observability.Metrics) error {
	logger := c.logger

	if cfg.PostgresDSN != "" {
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, 0)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		c.Pool = pool
		c.closers = append(c.closers, namedCloser{"postgres", closeFunc(pool.Close)})
	}

	sources := Sources(cfg)
	engine, err := c.boundaryEngine(cfg, sources)
	if err != nil {
		return err
	}
	datasets := make(map[boundary.Level]*boundary.AdminDataset, len(boundary.AdminLevels))
	for _, level := range boundary.AdminLevels {
		datasets[level] = boundary.OpenAdmin(level, sources.For(level), engine, logger, metrics)
	}

	codes, err := countryCodes(cfg)
	if err != nil {
		return err
	}

	postal, err := c.postalDataset(ctx, cfg, sources.Postal)
	if err != nil {
		return err
	}
	build := resolver.NewLinearIndex
	if cfg.PostalIndex == config.IndexRTree {
		build = resolver.NewRTreeIndex
	}

	cacheOpts := []cache.Option{cache.WithClock(clock), cache.WithMetrics(metrics)}
	adminCache := cache.New[cache.AdminKey, domain.Lookup](cache.NameAdmin, cfg.AdminCacheTTL, cacheOpts...)
	subsetCache := cache.New[cache.SubsetKey, resolver.PostalIndex](cache.NamePostalSubset, cfg.PostalSubsetCacheTTL, cacheOpts...)
	pointCache := cache.New[cache.PointKey, domain.Lookup](cache.NamePostalPoint, cfg.PostalPointCacheTTL, cacheOpts...)

	admin := resolver.NewAdminResolver(
		datasets[boundary.LevelCountry], datasets[boundary.LevelState], datasets[boundary.LevelCounty],
		codes, adminCache, cfg.QueryTimeout, logger,
	)
	postalResolver := resolver.NewPostalResolver(postal, build, subsetCache, pointCache, logger, metrics)

	opts := []enrich.Option{enrich.WithQueryTimeout(cfg.QueryTimeout)}
	if cfg.LocaleLookupEnabled {
		opts = append(opts, enrich.WithLocaleLookup(c.localeLookup(cfg)))
	}
	c.Enricher = enrich.New(admin, postalResolver, logger, metrics, opts...)

	return c.sinks(cfg)
}

// Sources maps the configured dataset locations onto boundary sources.
func Sources(cfg *config.Config) boundary.Sources {
	return boundary.Sources{
		Country: boundary.Source{URI: cfg.ADM0Source, GeomColumn: cfg.BoundaryGeomColumn, Attribute: cfg.ADM0Attribute},
		State:   boundary.Source{URI: cfg.ADM1Source, GeomColumn: cfg.BoundaryGeomColumn, Attribute: cfg.ADM1Attribute},
		County:  boundary.Source{URI: cfg.ADM2Source, GeomColumn: cfg.BoundaryGeomColumn, Attribute: cfg.ADM2Attribute},
		Postal:  boundary.Source{URI: cfg.PostalSource, GeomColumn: cfg.BoundaryGeomColumn},
	}
}

func (c *Components) boundaryEngine(cfg *config.Config, sources boundary.Sources) (boundary.Engine, error) {
	if cfg.BoundaryEngine == config.EngineShapefile {
		engine := boundary.NewShapefileEngine()
		for _, level := range boundary.AdminLevels {
			src := sources.For(level)
			if src.URI == "" {
				continue
			}
			if err := engine.Load(src); err != nil {
				return nil, fmt.Errorf("load %s: %w", level, err)
			}
			c.logger.Info("boundary dataset loaded", "level", string(level), "path", src.URI)
		}
		return engine, nil
	}
	if c.Pool == nil {
		return nil, nil
	}
	return postgres.NewBoundaryEngine(c.Pool), nil
}

func (c *Components) postalDataset(ctx context.Context, cfg *config.Config, src boundary.Source) (*boundary.PostalDataset, error) {
	var (
		ds  *boundary.PostalDataset
		err error
	)
	switch {
	case src.URI == "":
		return nil, nil
	case cfg.PostalFromCSV():
		ds, err = boundary.LoadPostalCSV(src.URI)
	default:
		ds, err = postgres.LoadPostalRows(ctx, c.Pool, src)
	}
	if err != nil {
		return nil, fmt.Errorf("load postal dataset: %w", err)
	}
	c.logger.Info("postal dataset loaded", "source", src.URI, "rows", ds.Len(), "index", cfg.PostalIndex)
	return ds, nil
}

func countryCodes(cfg *config.Config) (resolver.CountryCodeMap, error) {
	if cfg.CountryCodeMapFile == "" {
		return resolver.DefaultCountryCodes(), nil
	}
	codes, err := resolver.LoadCountryCodeMap(cfg.CountryCodeMapFile)
	if err != nil {
		return nil, fmt.Errorf("country code map: %w", err)
	}
	return codes, nil
}

func (c *Components) localeLookup(cfg *config.Config) domain.LocaleLookup {
	var lookup domain.LocaleLookup = postgres.NewLocaleLookup(c.Pool)
	if cfg.RedisAddr == "" {
		return lookup
	}
	client := redisadapter.NewClient(cfg.RedisAddr)
	c.closers = append(c.closers, namedCloser{"redis", client})
	c.logger.Info("locale lookups cached in redis", "addr", cfg.RedisAddr, "ttl", cfg.LocaleCacheTTL)
	return redisadapter.NewCachedLocaleLookup(client, lookup, cfg.LocaleCacheTTL, c.logger)
}

func (c *Components) sinks(cfg *config.Config) error {
	for _, name := range cfg.Sinks {
		var sink domain.Sink
		switch name {
		case config.SinkKafka:
			w := kafkaadapter.NewWriter(cfg, c.logger)
			c.closers = append(c.closers, namedCloser{"kafka writer", w})
			sink = w
		case config.SinkPostgres:
			sink = postgres.NewSink(c.Pool, postgres.DefaultSinkTable)
		case config.SinkFile:
			f, err := fileadapter.OpenJSONLSink(cfg.SinkFilePath)
			if err != nil {
				return err
			}
			c.closers = append(c.closers, namedCloser{"file sink", f})
			sink = f
		default:
			return fmt.Errorf("unknown sink %q", name)
		}
		c.Sink = append(c.Sink, pipeline.NamedSink{Name: name, Sink: sink})
	}
	c.logger.Info("sinks configured", "sinks", cfg.Sinks)
	return nil
}

// Close releases everything Build opened, most recent first.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			c.logger.Error("close failed", "component", c.closers[i].name, "error", err)
		}
	}
	c.closers = nil
}

type closeFunc func()

func (f closeFunc) Close() error {
	f()
	return nil
}

// Readiness reports ready only when every checker does.
type Readiness []interface {
	CheckReadiness(ctx context.Context) error
}

func (r Readiness) CheckReadiness(ctx context.Context) error {
	var errs []error
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
