package boundary

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jonas-p/go-shp"
)

// ShapefileEngine answers containment queries from local ESRI shapefiles.
// Each file is read into memory on first use and kept for the process
// lifetime.
type ShapefileEngine struct {
	mu     sync.Mutex
	layers map[string]*shapeLayer
}

type shapeLayer struct {
	fields   map[string]int
	features []shapeFeature
}

type shapeFeature struct {
	shape Shape
	attrs []string
}

// NewShapefileEngine creates an engine with no files loaded.
func NewShapefileEngine() *ShapefileEngine {
	return &ShapefileEngine{layers: make(map[string]*shapeLayer)}
}

// Load reads the source's shapefile and checks that its attribute column
// exists, so configuration mistakes surface at startup.
func (e *ShapefileEngine) Load(src Source) error {
	layer, err := e.layer(src.URI)
	if err != nil {
		return err
	}
	if _, ok := layer.fields[strings.ToLower(src.Attribute)]; !ok {
		return fmt.Errorf("shapefile %s: no attribute column %q", src.URI, src.Attribute)
	}
	return nil
}

// QueryContaining returns the attribute of every polygon strictly containing
// the point, in file order.
func (e *ShapefileEngine) QueryContaining(ctx context.Context, src Source, lon, lat float64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	layer, err := e.layer(src.URI)
	if err != nil {
		return nil, err
	}
	idx, ok := layer.fields[strings.ToLower(src.Attribute)]
	if !ok {
		return nil, fmt.Errorf("shapefile %s: no attribute column %q", src.URI, src.Attribute)
	}

	var out []string
	for _, f := range layer.features {
		if f.attrs[idx] == "" || !f.shape.Contains(lon, lat) {
			continue
		}
		out = append(out, f.attrs[idx])
	}
	return out, nil
}

func (e *ShapefileEngine) layer(path string) (*shapeLayer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if l, ok := e.layers[path]; ok {
		return l, nil
	}
	l, err := readShapefile(path)
	if err != nil {
		return nil, err
	}
	e.layers[path] = l
	return l, nil
}

func readShapefile(path string) (*shapeLayer, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile %s: %w", path, err)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	layer := &shapeLayer{fields: make(map[string]int, len(fields))}
	for i, f := range fields {
		layer.fields[strings.ToLower(strings.TrimRight(f.String(), "\x00"))] = i
	}

	for reader.Next() {
		_, s := reader.Shape()
		poly, ok := s.(*shp.Polygon)
		if !ok {
			continue
		}
		shape, ok := shapeFromShapefile(poly)
		if !ok {
			continue
		}
		attrs := make([]string, len(fields))
		for i := range fields {
			attrs[i] = strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
		}
		layer.features = append(layer.features, shapeFeature{shape: shape, attrs: attrs})
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("read shapefile %s: %w", path, err)
	}
	return layer, nil
}
