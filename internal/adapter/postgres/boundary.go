package postgres

import (
	"context"
	"fmt"

	"github.com/couchcryptid/sensor-geo-enricher/internal/boundary"
)

// matchLimit caps rows fetched per containment query. Two is enough to notice
// overlapping polygons without scanning every match.
const matchLimit = 2

// BoundaryEngine evaluates administrative containment queries in PostGIS,
// one round trip per call.
type BoundaryEngine struct {
	pool Pool
}

// NewBoundaryEngine creates an engine over pool.
func NewBoundaryEngine(pool Pool) *BoundaryEngine {
	return &BoundaryEngine{pool: pool}
}

// QueryContaining returns the attribute of each polygon in src whose geometry
// contains the point, in the order PostGIS returns them.
func (e *BoundaryEngine) QueryContaining(ctx context.Context, src boundary.Source, lon, lat float64) ([]string, error) {
	rows, err := e.pool.Query(ctx, containsQuery(src), lon, lat)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", src.URI, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", src.URI, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", src.URI, err)
	}
	return out, nil
}

func containsQuery(src boundary.Source) string {
	geom := src.GeomColumn
	if geom == "" {
		geom = "geom"
	}
	attr := columnIdent(src.Attribute)
	return fmt.Sprintf(
		`SELECT %s::text FROM %s WHERE %s IS NOT NULL AND ST_Contains(%s, ST_SetSRID(ST_MakePoint($1, $2), 4326)) LIMIT %d`,
		attr, tableIdent(src.URI), attr, columnIdent(geom), matchLimit,
	)
}
