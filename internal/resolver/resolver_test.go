package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/sensor-geo-enricher/internal/boundary"
	"github.com/couchcryptid/sensor-geo-enricher/internal/cache"
	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
	"github.com/couchcryptid/sensor-geo-enricher/internal/observability"
)

const (
	portlandLat = 45.5231
	portlandLon = -122.6765
)

type feature struct {
	wkt   string
	value string
}

// polygonEngine answers containment queries from in-memory WKT polygons and
// counts calls per source.
type polygonEngine struct {
	layers map[string][]feature
	calls  map[string]int
	err    error
}

func newPolygonEngine() *polygonEngine {
	return &polygonEngine{
		layers: map[string][]feature{
			"adm0": {{"POLYGON((-125 42, -116 42, -116 49, -125 49, -125 42))", "USA"}},
			"adm1": {
				{"POLYGON((-125 42, -116 42, -116 46, -125 46, -125 42))", "Oregon"},
				{"POLYGON((-125 46, -116 46, -116 49, -125 49, -125 46))", "Washington"},
			},
			"adm2": {{"POLYGON((-123 45.3, -122 45.3, -122 45.7, -123 45.7, -123 45.3))", "Multnomah"}},
		},
		calls: map[string]int{},
	}
}

func (e *polygonEngine) QueryContaining(_ context.Context, src boundary.Source, lon, lat float64) ([]string, error) {
	e.calls[src.URI]++
	if e.err != nil {
		return nil, e.err
	}
	var out []string
	for _, f := range e.layers[src.URI] {
		shape, err := boundary.ParseWKT(f.wkt)
		if err != nil {
			return nil, err
		}
		if shape.Contains(lon, lat) {
			out = append(out, f.value)
		}
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAdminResolver(t *testing.T, engine boundary.Engine, clk clockwork.Clock, uris ...string) *AdminResolver {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	logger := discardLogger()
	levels := boundary.AdminLevels
	ds := make([]*boundary.AdminDataset, len(levels))
	for i, level := range levels {
		ds[i] = boundary.OpenAdmin(level, boundary.Source{URI: uris[i]}, engine, logger, metrics)
	}
	c := cache.New[cache.AdminKey, domain.Lookup](cache.NameAdmin, time.Minute, cache.WithClock(clk))
	return NewAdminResolver(ds[0], ds[1], ds[2], nil, c, time.Second, logger)
}

// --- AdminResolver ---

func TestAdminResolver_Portland(t *testing.T) {
	engine := newPolygonEngine()
	r := newAdminResolver(t, engine, clockwork.NewFakeClock(), "adm0", "adm1", "adm2")

	regions, err := r.Resolve(context.Background(), portlandLat, portlandLon)
	require.NoError(t, err)
	assert.Equal(t, domain.Found("US"), regions.Country, "raw USA is mapped to US")
	assert.Equal(t, domain.Found("Oregon"), regions.State)
	assert.Equal(t, domain.Found("Multnomah"), regions.County)
}

func TestAdminResolver_MidOcean(t *testing.T) {
	r := newAdminResolver(t, newPolygonEngine(), clockwork.NewFakeClock(), "adm0", "adm1", "adm2")

	regions, err := r.Resolve(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNotFound, regions.Country.Outcome)
	assert.Equal(t, domain.OutcomeNotFound, regions.State.Outcome)
	assert.Nil(t, regions.Country.Ptr())
}

func TestAdminResolver_CacheIdempotence(t *testing.T) {
	engine := newPolygonEngine()
	r := newAdminResolver(t, engine, clockwork.NewFakeClock(), "adm0", "adm1", "adm2")

	first, err := r.Resolve(context.Background(), portlandLat, portlandLon)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), portlandLat, portlandLon)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, engine.calls["adm0"], "second call must be served from cache")
	assert.Equal(t, 1, engine.calls["adm1"])
	assert.Equal(t, 1, engine.calls["adm2"])
}

func TestAdminResolver_NotFoundIsCached(t *testing.T) {
	engine := newPolygonEngine()
	r := newAdminResolver(t, engine, clockwork.NewFakeClock(), "adm0", "adm1", "adm2")

	_, _ = r.Resolve(context.Background(), 0, 0)
	_, _ = r.Resolve(context.Background(), 0, 0)
	assert.Equal(t, 1, engine.calls["adm0"])
}

func TestAdminResolver_TTLExpiryRequeries(t *testing.T) {
	engine := newPolygonEngine()
	clk := clockwork.NewFakeClock()
	r := newAdminResolver(t, engine, clk, "adm0", "adm1", "adm2")

	_, err := r.Resolve(context.Background(), portlandLat, portlandLon)
	require.NoError(t, err)

	clk.Advance(61 * time.Second)
	_, err = r.Resolve(context.Background(), portlandLat, portlandLon)
	require.NoError(t, err)
	assert.Equal(t, 2, engine.calls["adm0"], "stale entry triggers a fresh query")
}

func TestAdminResolver_ClearCache(t *testing.T) {
	engine := newPolygonEngine()
	r := newAdminResolver(t, engine, clockwork.NewFakeClock(), "adm0", "adm1", "adm2")

	_, _ = r.Resolve(context.Background(), portlandLat, portlandLon)
	r.ClearCache()
	_, _ = r.Resolve(context.Background(), portlandLat, portlandLon)
	assert.Equal(t, 2, engine.calls["adm1"])
}

func TestAdminResolver_TransientErrorNotCached(t *testing.T) {
	engine := newPolygonEngine()
	engine.err = errors.New("connection refused")
	r := newAdminResolver(t, engine, clockwork.NewFakeClock(), "adm0", "adm1", "adm2")

	_, err := r.Resolve(context.Background(), portlandLat, portlandLon)
	require.Error(t, err)

	engine.err = nil
	regions, err := r.Resolve(context.Background(), portlandLat, portlandLon)
	require.NoError(t, err)
	assert.Equal(t, "US", regions.Country.Value)
	assert.Equal(t, 2, engine.calls["adm0"], "failed lookup was not cached")
}

func TestAdminResolver_MissingLevelIsPartial(t *testing.T) {
	engine := newPolygonEngine()
	r := newAdminResolver(t, engine, clockwork.NewFakeClock(), "adm0", "adm1", "")

	regions, err := r.Resolve(context.Background(), portlandLat, portlandLon)
	require.NoError(t, err)
	assert.Equal(t, "Oregon", regions.State.Value)
	assert.Equal(t, domain.OutcomeConfigError, regions.County.Outcome)
	assert.Zero(t, engine.calls[""], "unconfigured level never reaches the engine")
}

// --- CountryCodeMap ---

func TestCountryCodeMap(t *testing.T) {
	codes := DefaultCountryCodes()
	assert.Equal(t, "US", codes.Map("USA"))
	assert.Equal(t, "ZA", codes.Map("ZAF"))
	assert.Equal(t, "NZL", codes.Map("NZL"), "unmapped codes pass through")

	codes["USA"] = "XX"
	assert.Equal(t, "US", DefaultCountryCodes().Map("USA"), "default table is copied")
}

func TestLoadCountryCodeMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nzl: nz\nUSA: US\n"), 0o600))

	codes, err := LoadCountryCodeMap(path)
	require.NoError(t, err)
	assert.Equal(t, "NZ", codes.Map("NZL"))
	assert.Equal(t, "GB", codes.Map("GBR"), "built-in entries are kept")

	require.NoError(t, os.WriteFile(path, []byte("- not\n- a map\n"), 0o600))
	_, err = LoadCountryCodeMap(path)
	require.Error(t, err)

	_, err = LoadCountryCodeMap(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

// --- PostalResolver ---

const postalFixture = `postal_code,country,state,wkt_geometry
98101,US,Washington,"POLYGON((-122.70 45.50, -122.65 45.50, -122.65 45.54, -122.70 45.54, -122.70 45.50))"
97201,US,Oregon,"POLYGON((-122.75 45.40, -122.70 45.40, -122.70 45.50, -122.75 45.50, -122.75 45.40))"
97204,US,Oregon,"POLYGON((-122.70 45.50, -122.65 45.50, -122.65 45.54, -122.70 45.54, -122.70 45.50))"
97209,US,Oregon,"POLYGON((-122.70 45.54, -122.65 45.54, -122.65 45.56, -122.70 45.56, -122.70 45.54))"
`

func loadFixture(t *testing.T) *boundary.PostalDataset {
	t.Helper()
	ds, err := boundary.ReadPostalCSV(strings.NewReader(postalFixture))
	require.NoError(t, err)
	return ds
}

func newPostalResolver(ds *boundary.PostalDataset, build IndexBuilder, clk clockwork.Clock) *PostalResolver {
	subsets := cache.New[cache.SubsetKey, PostalIndex](cache.NamePostalSubset, time.Minute, cache.WithClock(clk))
	points := cache.New[cache.PointKey, domain.Lookup](cache.NamePostalPoint, time.Minute, cache.WithClock(clk))
	return NewPostalResolver(ds, build, subsets, points, discardLogger(), observability.NewMetricsForTesting())
}

func TestPostalResolver_Portland(t *testing.T) {
	r := newPostalResolver(loadFixture(t), nil, clockwork.NewFakeClock())

	got := r.Resolve("US", "Oregon", portlandLat, portlandLon)
	assert.Equal(t, domain.Found("97204"), got)
}

func TestPostalResolver_StaysWithinState(t *testing.T) {
	ds := loadFixture(t)
	r := newPostalResolver(ds, nil, clockwork.NewFakeClock())

	// 98101 covers the same square but belongs to Washington.
	got := r.Resolve("US", "Oregon", portlandLat, portlandLon)
	require.True(t, got.OK())

	var recorded string
	for _, row := range ds.Subset("US", "Oregon") {
		if row.PostalCode == got.Value {
			recorded = row.State
		}
	}
	assert.Equal(t, "Oregon", recorded)

	got = r.Resolve("US", "Washington", portlandLat, portlandLon)
	assert.Equal(t, "98101", got.Value)
}

func TestPostalResolver_EdgeTouchMatches(t *testing.T) {
	r := newPostalResolver(loadFixture(t), nil, clockwork.NewFakeClock())

	// lat 45.54 is the shared edge of 97204 and 97209; load order picks 97204.
	got := r.Resolve("US", "Oregon", 45.54, -122.68)
	assert.Equal(t, "97204", got.Value)

	// Western edge of 97201 only.
	got = r.Resolve("US", "Oregon", 45.45, -122.75)
	assert.Equal(t, "97201", got.Value)
}

func TestPostalResolver_NoMatch(t *testing.T) {
	r := newPostalResolver(loadFixture(t), nil, clockwork.NewFakeClock())

	assert.Equal(t, domain.NotFound(), r.Resolve("US", "Oregon", 44.0, -121.0))
	assert.Equal(t, domain.NotFound(), r.Resolve("US", "Idaho", portlandLat, portlandLon), "empty subset")
}

func TestPostalResolver_NoDataset(t *testing.T) {
	r := newPostalResolver(nil, nil, clockwork.NewFakeClock())

	got := r.Resolve("US", "Oregon", portlandLat, portlandLon)
	assert.Equal(t, domain.OutcomeConfigError, got.Outcome)
	assert.False(t, got.Retryable())
}

type countingBuilder struct {
	builds int
}

func (b *countingBuilder) build(rows []boundary.PostalRow) PostalIndex {
	b.builds++
	return NewLinearIndex(rows)
}

func TestPostalResolver_SubsetCached(t *testing.T) {
	builder := &countingBuilder{}
	clk := clockwork.NewFakeClock()
	r := newPostalResolver(loadFixture(t), builder.build, clk)

	r.Resolve("US", "Oregon", portlandLat, portlandLon)
	r.Resolve("US", "Oregon", 45.55, -122.68)
	r.Resolve("US", "Oregon", portlandLat, portlandLon)
	assert.Equal(t, 1, builder.builds, "subset is filtered once per (country, state)")

	clk.Advance(2 * time.Minute)
	r.Resolve("US", "Oregon", 45.45, -122.72)
	assert.Equal(t, 2, builder.builds, "expired subset is rebuilt")

	r.ClearCache()
	r.Resolve("US", "Oregon", 45.45, -122.72)
	assert.Equal(t, 3, builder.builds)
}

func TestPostalResolver_PointCacheSkipsScan(t *testing.T) {
	builder := &countingBuilder{}
	r := newPostalResolver(loadFixture(t), builder.build, clockwork.NewFakeClock())

	first := r.Resolve("US", "Oregon", portlandLat, portlandLon)
	r.subsets.Clear()
	second := r.Resolve("US", "Oregon", portlandLat, portlandLon)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, builder.builds, "point hit never touches the subset")
}

// --- Index parity ---

func TestIndexes_Agree(t *testing.T) {
	rows := loadFixture(t).Subset("US", "Oregon")
	linear := NewLinearIndex(rows)
	rtree := NewRTreeIndex(rows)
	assert.Equal(t, linear.Len(), rtree.Len())

	points := [][2]float64{
		{portlandLon, portlandLat},
		{-122.68, 45.54},   // shared edge
		{-122.70, 45.54},   // shared vertex of three rows
		{-122.75, 45.45},   // outer edge
		{-122.72, 45.45},   // interior of 97201
		{-121.0, 44.0},     // no match
		{-122.65, 45.5231}, // eastern edge
	}
	for _, p := range points {
		lr, _, lok := linear.Locate(p[0], p[1])
		rr, _, rok := rtree.Locate(p[0], p[1])
		assert.Equal(t, lok, rok, "point %v", p)
		assert.Equal(t, lr.PostalCode, rr.PostalCode, "point %v", p)
	}
}

func TestRTreeIndex_ManyRows(t *testing.T) {
	var b strings.Builder
	b.WriteString("postal_code,country,state,wkt_geometry\n")
	for i := range 200 {
		fmt.Fprintf(&b, "%05d,US,Oregon,\"POLYGON((%d 0, %d 0, %d 1, %d 1, %d 0))\"\n", i, i, i+1, i+1, i, i)
	}
	ds, err := boundary.ReadPostalCSV(strings.NewReader(b.String()))
	require.NoError(t, err)
	rows := ds.Subset("US", "Oregon")

	ix := NewRTreeIndex(rows)
	row, tested, ok := ix.Locate(150.5, 0.5)
	require.True(t, ok)
	assert.Equal(t, "00150", row.PostalCode)
	assert.Less(t, tested, 5, "the tree narrows candidates")

	_, linearTested, _ := NewLinearIndex(rows).Locate(150.5, 0.5)
	assert.Equal(t, 151, linearTested)
}
