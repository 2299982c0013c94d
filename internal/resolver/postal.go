package resolver

import (
	"fmt"
	"log/slog"

	"github.com/couchcryptid/sensor-geo-enricher/internal/boundary"
	"github.com/couchcryptid/sensor-geo-enricher/internal/cache"
	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
	"github.com/couchcryptid/sensor-geo-enricher/internal/observability"
)

// SubsetCache caches the postal index built for one country and state.
type SubsetCache = cache.TTL[cache.SubsetKey, PostalIndex]

// PointCache caches fully resolved postal lookups.
type PointCache = cache.TTL[cache.PointKey, domain.Lookup]

// PostalResolver finds the postal code whose boundary contains or touches a
// point, restricted to the rows of the point's country and state.
type PostalResolver struct {
	dataset   *boundary.PostalDataset
	build     IndexBuilder
	subsets   *SubsetCache
	points    *PointCache
	configErr error
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewPostalResolver creates a resolver over dataset. A nil dataset means no
// postal source is configured; every lookup then reports a configuration
// error. build defaults to NewLinearIndex.
func NewPostalResolver(dataset *boundary.PostalDataset, build IndexBuilder, subsets *SubsetCache, points *PointCache, logger *slog.Logger, metrics *observability.Metrics) *PostalResolver {
	if build == nil {
		build = NewLinearIndex
	}
	r := &PostalResolver{
		dataset: dataset,
		build:   build,
		subsets: subsets,
		points:  points,
		logger:  logger,
		metrics: metrics,
	}
	if dataset == nil {
		r.configErr = fmt.Errorf("%s: %w", boundary.LevelPostal, domain.ErrMissingSource)
		logger.Warn("postal dataset not configured; postal codes will not be resolved")
	}
	return r
}

// Resolve returns the postal code for (lat, lon) within country and state.
// An empty subset or a point outside every row is NotFound.
func (r *PostalResolver) Resolve(country, state string, lat, lon float64) domain.Lookup {
	if r.configErr != nil {
		return domain.ConfigError(r.configErr)
	}

	pointKey := cache.PointKey{Country: country, State: state, Lat: lat, Lon: lon}
	if l, ok := r.points.Get(pointKey); ok {
		return l
	}

	index := r.subset(country, state)
	row, tested, ok := index.Locate(lon, lat)
	r.metrics.PostalCandidates.Observe(float64(tested))

	l := domain.NotFound()
	if ok {
		l = domain.Found(row.PostalCode)
	}
	r.points.Set(pointKey, l)
	return l
}

// ClearCache drops both the subset and point caches.
func (r *PostalResolver) ClearCache() {
	r.subsets.Clear()
	r.points.Clear()
}

func (r *PostalResolver) subset(country, state string) PostalIndex {
	key := cache.SubsetKey{Country: country, State: state}
	if ix, ok := r.subsets.Get(key); ok {
		return ix
	}
	ix := r.build(r.dataset.Subset(country, state))
	r.subsets.Set(key, ix)
	r.logger.Debug("postal subset indexed", "country", country, "state", state, "rows", ix.Len())
	return ix
}
