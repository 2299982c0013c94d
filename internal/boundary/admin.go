// Package boundary loads the administrative and postal boundary datasets and
// exposes their spatial containment queries.
package boundary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
	"github.com/couchcryptid/sensor-geo-enricher/internal/observability"
)

// Level names a boundary dataset.
type Level string

const (
	LevelCountry Level = "ADM0"
	LevelState   Level = "ADM1"
	LevelCounty  Level = "ADM2"
	LevelPostal  Level = "WOF"
)

// AdminLevels lists the administrative levels in resolution order.
var AdminLevels = []Level{LevelCountry, LevelState, LevelCounty}

// Source locates one boundary dataset: a table name or file path, the
// geometry column, and the column whose value a match yields.
type Source struct {
	URI        string
	GeomColumn string
	Attribute  string
}

// Sources holds the configured dataset for every level.
type Sources struct {
	Country Source
	State   Source
	County  Source
	Postal  Source
}

// For returns the source configured for an administrative level.
func (s Sources) For(level Level) Source {
	switch level {
	case LevelCountry:
		return s.Country
	case LevelState:
		return s.State
	case LevelCounty:
		return s.County
	case LevelPostal:
		return s.Postal
	default:
		return Source{}
	}
}

// Engine evaluates containment queries against an external store. It returns
// the attribute values of polygons containing the point (lon, lat), in the
// store's row order.
type Engine interface {
	QueryContaining(ctx context.Context, src Source, lon, lat float64) ([]string, error)
}

// AdminDataset is one administrative level backed by an Engine. The
// underlying store is queried per call.
type AdminDataset struct {
	level     Level
	source    Source
	engine    Engine
	configErr error
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// OpenAdmin binds a level to its source. A level without a configured source
// is reported once here and answers every later query with a configuration
// error, without touching the engine.
func OpenAdmin(level Level, src Source, engine Engine, logger *slog.Logger, metrics *observability.Metrics) *AdminDataset {
	d := &AdminDataset{
		level:   level,
		source:  src,
		engine:  engine,
		logger:  logger,
		metrics: metrics,
	}
	if src.URI == "" || engine == nil {
		d.configErr = fmt.Errorf("%s: %w", level, domain.ErrMissingSource)
		logger.Warn("boundary dataset not configured; level will never match", "level", string(level))
	}
	return d
}

// Level returns the dataset's level.
func (d *AdminDataset) Level() Level { return d.level }

// FindAttribute returns the attribute of the polygon containing (lon, lat).
// When several polygons match, the first row returned by the engine wins.
func (d *AdminDataset) FindAttribute(ctx context.Context, lat, lon float64) domain.Lookup {
	if d.configErr != nil {
		return d.record(domain.ConfigError(d.configErr))
	}

	start := time.Now()
	values, err := d.engine.QueryContaining(ctx, d.source, lon, lat)
	d.metrics.BoundaryQueryDuration.WithLabelValues(string(d.level)).Observe(time.Since(start).Seconds())
	if err != nil {
		return d.record(domain.TransientError(fmt.Errorf("query %s: %w", d.level, err)))
	}

	if len(values) == 0 {
		return d.record(domain.NotFound())
	}
	if len(values) > 1 {
		d.logger.Warn("point matches multiple polygons; using first row",
			"level", string(d.level), "lat", lat, "lon", lon, "matches", len(values))
	}
	return d.record(domain.Found(values[0]))
}

func (d *AdminDataset) record(l domain.Lookup) domain.Lookup {
	d.metrics.BoundaryLookups.WithLabelValues(string(d.level), l.Outcome.String()).Inc()
	return l
}
