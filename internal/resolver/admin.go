package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/sensor-geo-enricher/internal/boundary"
	"github.com/couchcryptid/sensor-geo-enricher/internal/cache"
	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
)

// AdminCache caches per-level administrative lookups.
type AdminCache = cache.TTL[cache.AdminKey, domain.Lookup]

// Regions is the administrative identity of a point. Each level resolves
// independently, so partial results are possible.
type Regions struct {
	Country domain.Lookup
	State   domain.Lookup
	County  domain.Lookup
}

// AdminResolver resolves country, state and county for a coordinate.
type AdminResolver struct {
	country *boundary.AdminDataset
	state   *boundary.AdminDataset
	county  *boundary.AdminDataset
	codes   CountryCodeMap
	cache   *AdminCache
	timeout time.Duration
	logger  *slog.Logger
}

// NewAdminResolver creates a resolver over the three administrative levels.
// queryTimeout bounds each dataset query; zero means no timeout.
func NewAdminResolver(country, state, county *boundary.AdminDataset, codes CountryCodeMap, c *AdminCache, queryTimeout time.Duration, logger *slog.Logger) *AdminResolver {
	if codes == nil {
		codes = DefaultCountryCodes()
	}
	return &AdminResolver{
		country: country,
		state:   state,
		county:  county,
		codes:   codes,
		cache:   c,
		timeout: queryTimeout,
		logger:  logger,
	}
}

// Resolve looks up every level for (lat, lon). The country is returned as its
// 2-letter code. A non-nil error means a level failed transiently and the
// caller should retry later; the returned Regions are then incomplete.
func (r *AdminResolver) Resolve(ctx context.Context, lat, lon float64) (Regions, error) {
	var regions Regions
	for _, step := range []struct {
		ds  *boundary.AdminDataset
		out *domain.Lookup
	}{
		{r.country, &regions.Country},
		{r.state, &regions.State},
		{r.county, &regions.County},
	} {
		l := r.lookup(ctx, step.ds, lat, lon)
		if l.Retryable() {
			return regions, l.Err
		}
		*step.out = l
	}
	return regions, nil
}

// ClearCache drops every cached administrative lookup.
func (r *AdminResolver) ClearCache() {
	r.cache.Clear()
}

func (r *AdminResolver) lookup(ctx context.Context, ds *boundary.AdminDataset, lat, lon float64) domain.Lookup {
	key := cache.AdminKey{Level: string(ds.Level()), Lat: lat, Lon: lon}
	if l, ok := r.cache.Get(key); ok {
		r.logger.Debug("admin cache hit", "level", key.Level, "lat", lat, "lon", lon)
		return l
	}

	qctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	l := ds.FindAttribute(qctx, lat, lon)
	if l.OK() && ds.Level() == boundary.LevelCountry {
		l = domain.Found(r.codes.Map(l.Value))
	}
	if l.Cacheable() {
		r.cache.Set(key, l)
	}
	return l
}
