package boundary

import (
	"errors"
	"fmt"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
)

// ErrNotPolygonal is returned for geometries that cannot bound an area.
var ErrNotPolygonal = errors.New("geometry is not a polygon or multipolygon")

// Shape is a parsed polygonal boundary. Coordinates are (lon, lat).
type Shape struct {
	polygons []*geom.Polygon
	bounds   *geom.Bounds
}

// NewShape wraps a Polygon or MultiPolygon.
func NewShape(g geom.T) (Shape, error) {
	var polys []*geom.Polygon
	switch t := g.(type) {
	case *geom.Polygon:
		polys = []*geom.Polygon{t}
	case *geom.MultiPolygon:
		for i := range t.NumPolygons() {
			polys = append(polys, t.Polygon(i))
		}
	default:
		return Shape{}, fmt.Errorf("%w: %T", ErrNotPolygonal, g)
	}
	return newShape(polys), nil
}

func newShape(polys []*geom.Polygon) Shape {
	b := geom.NewBounds(geom.XY)
	for _, p := range polys {
		b.Extend(p)
	}
	return Shape{polygons: polys, bounds: b}
}

// ParseWKT parses a POLYGON or MULTIPOLYGON in well-known text.
func ParseWKT(s string) (Shape, error) {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return Shape{}, fmt.Errorf("parse wkt: %w", err)
	}
	return NewShape(g)
}

// Bounds returns the bounding box of the shape.
func (s Shape) Bounds() *geom.Bounds { return s.bounds }

// Empty reports whether the shape has no polygons.
func (s Shape) Empty() bool { return len(s.polygons) == 0 }

// Locate classifies the point against the shape. A point inside any member
// polygon is Interior; otherwise a point on any ring is Boundary.
func (s Shape) Locate(lon, lat float64) location.Type {
	pt := geom.Coord{lon, lat}
	if s.bounds == nil || !s.bounds.OverlapsPoint(geom.XY, pt) {
		return location.Exterior
	}

	result := location.Exterior
	for _, p := range s.polygons {
		switch locateInPolygon(p, pt) {
		case location.Interior:
			return location.Interior
		case location.Boundary:
			result = location.Boundary
		}
	}
	return result
}

// Contains reports whether the point lies strictly inside the shape.
func (s Shape) Contains(lon, lat float64) bool {
	return s.Locate(lon, lat) == location.Interior
}

// ContainsOrTouches reports whether the point lies inside or on the boundary.
func (s Shape) ContainsOrTouches(lon, lat float64) bool {
	return s.Locate(lon, lat) != location.Exterior
}

func locateInPolygon(p *geom.Polygon, pt geom.Coord) location.Type {
	if p.NumLinearRings() == 0 {
		return location.Exterior
	}
	layout := p.Layout()

	shell := xy.LocatePointInRing(layout, pt, p.LinearRing(0).FlatCoords())
	if shell != location.Interior {
		return shell
	}
	for i := 1; i < p.NumLinearRings(); i++ {
		switch xy.LocatePointInRing(layout, pt, p.LinearRing(i).FlatCoords()) {
		case location.Interior:
			return location.Exterior
		case location.Boundary:
			return location.Boundary
		}
	}
	return location.Interior
}

// shapeFromShapefile converts a shapefile polygon record. Shapefile rings are
// clockwise for shells and counter-clockwise for holes; a hole is attached to
// the shell preceding it.
func shapeFromShapefile(p *shp.Polygon) (Shape, bool) {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return Shape{}, false
	}

	var polys []*geom.Polygon
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		// A ring that cannot be pushed is skipped; a skipped hole leaves its
		// shell intact.
		hole := xy.IsRingCounterClockwise(geom.XY, flat) && len(polys) > 0
		target := geom.NewPolygon(geom.XY)
		if hole {
			target = polys[len(polys)-1]
		}
		if err := target.Push(ring); err != nil {
			continue
		}
		if !hole {
			polys = append(polys, target)
		}
	}

	if len(polys) == 0 {
		return Shape{}, false
	}
	return newShape(polys), true
}
