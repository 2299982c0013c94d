package boundary

import (
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom/xy/location"
)

const (
	squareWKT   = "POLYGON((0 0, 10 0, 10 10, 0 10, 0 0))"
	donutWKT    = "POLYGON((0 0, 10 0, 10 10, 0 10, 0 0), (4 4, 6 4, 6 6, 4 6, 4 4))"
	twoSquares  = "MULTIPOLYGON(((0 0, 1 0, 1 1, 0 1, 0 0)), ((5 5, 6 5, 6 6, 5 6, 5 5)))"
	portlandWKT = "POLYGON((-122.70 45.50, -122.65 45.50, -122.65 45.54, -122.70 45.54, -122.70 45.50))"
)

func TestShape_Locate(t *testing.T) {
	square, err := ParseWKT(squareWKT)
	require.NoError(t, err)

	assert.Equal(t, location.Interior, square.Locate(5, 5))
	assert.Equal(t, location.Boundary, square.Locate(10, 5), "point on an edge")
	assert.Equal(t, location.Boundary, square.Locate(0, 0), "point on a vertex")
	assert.Equal(t, location.Exterior, square.Locate(11, 5))
	assert.Equal(t, location.Exterior, square.Locate(-0.0001, 5))
}

func TestShape_Holes(t *testing.T) {
	donut, err := ParseWKT(donutWKT)
	require.NoError(t, err)

	assert.True(t, donut.Contains(2, 2))
	assert.False(t, donut.ContainsOrTouches(5, 5), "point inside the hole")
	assert.Equal(t, location.Boundary, donut.Locate(4, 5), "point on the hole's ring")
}

func TestShapeFromShapefile_RingsAndHoles(t *testing.T) {
	points := []shp.Point{
		// clockwise shell
		{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0},
		// too few points to form a ring
		{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 1, Y: 1},
		// counter-clockwise hole
		{X: 4, Y: 4}, {X: 6, Y: 4}, {X: 6, Y: 6}, {X: 4, Y: 6}, {X: 4, Y: 4},
	}
	poly := &shp.Polygon{
		NumParts:  3,
		NumPoints: int32(len(points)),
		Parts:     []int32{0, 5, 8},
		Points:    points,
	}

	s, ok := shapeFromShapefile(poly)
	require.True(t, ok)
	assert.True(t, s.Contains(2, 2))
	assert.False(t, s.ContainsOrTouches(5, 5), "hole attached to the preceding shell")
	assert.False(t, s.ContainsOrTouches(11, 5))
}

func TestShapeFromShapefile_Empty(t *testing.T) {
	_, ok := shapeFromShapefile(nil)
	assert.False(t, ok)

	_, ok = shapeFromShapefile(&shp.Polygon{
		NumParts: 1,
		Parts:    []int32{0},
		Points:   []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}},
	})
	assert.False(t, ok, "degenerate ring only")
}

func TestShape_MultiPolygon(t *testing.T) {
	multi, err := ParseWKT(twoSquares)
	require.NoError(t, err)

	assert.True(t, multi.Contains(0.5, 0.5))
	assert.True(t, multi.Contains(5.5, 5.5))
	assert.False(t, multi.ContainsOrTouches(3, 3), "between the members, inside the combined bounds")
	assert.True(t, multi.ContainsOrTouches(6, 5.5))
	assert.False(t, multi.Contains(6, 5.5))
}

func TestShape_LonLatOrder(t *testing.T) {
	portland, err := ParseWKT(portlandWKT)
	require.NoError(t, err)

	assert.True(t, portland.Contains(-122.6765, 45.5231))
	assert.False(t, portland.Contains(45.5231, -122.6765))
}

func TestParseWKT_Errors(t *testing.T) {
	_, err := ParseWKT("POLYGON((0 0, 1 0")
	require.Error(t, err)

	_, err = ParseWKT("POINT(1 2)")
	require.ErrorIs(t, err, ErrNotPolygonal)
}
